// Package errors provides centralized error definitions and error handling
// utilities for the quorum codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and
// error classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - SessionError: errors related to deliberation session lifecycle
//   - ProviderError: errors from contribution/scoring provider calls
//   - CheckpointError: errors related to checkpoint persistence
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - AlreadyExistsError: resource already exists
//   - PermissionError: caller is not authorized
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewSessionError("failed to resume", errors.ErrSessionNotFound).WithSessionID("abc123")
//	err := errors.NewPermissionError("kill", "session", "abc123", "user-7")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrSessionNotFound) { ... }
//	var provErr *errors.ProviderError
//	if errors.As(err, &provErr) { ... }
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience, so callers can
// import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that a session could not be found.
	ErrSessionNotFound = New("session not found")
	// ErrSessionTerminal indicates an operation on a session already in a terminal phase.
	ErrSessionTerminal = New("session is in a terminal phase")
	// ErrSessionPaused indicates an operation requiring a running session.
	ErrSessionPaused = New("session is paused")
	// ErrSessionRunning indicates an operation requiring a paused session.
	ErrSessionRunning = New("session is running")
	// ErrNotAuthorized indicates the caller lacks permission for the operation.
	ErrNotAuthorized = New("not authorized")
)

// Safety guard sentinel errors
var (
	// ErrStepLimitExceeded indicates the step counter exceeded its ceiling.
	ErrStepLimitExceeded = New("step limit exceeded")
	// ErrBudgetExceeded indicates the session cost budget was exhausted.
	ErrBudgetExceeded = New("cost budget exceeded")
	// ErrWatchdogExpired indicates the wall-clock watchdog cancelled the session.
	ErrWatchdogExpired = New("wall-clock deadline exceeded")
	// ErrGraphInvalid indicates the workflow graph failed cycle-exit validation.
	ErrGraphInvalid = New("workflow graph is invalid")
)

// Provider-related sentinel errors
var (
	// ErrProviderUnavailable indicates the provider could not be reached.
	ErrProviderUnavailable = New("provider unavailable")
	// ErrProviderRateLimited indicates the provider rejected the call for rate limiting.
	ErrProviderRateLimited = New("provider rate limited")
	// ErrDecisionUnparseable indicates a facilitator decision could not be parsed.
	ErrDecisionUnparseable = New("facilitator decision unparseable")
)

// Checkpoint-related sentinel errors
var (
	// ErrCheckpointNotFound indicates that a checkpoint could not be found.
	ErrCheckpointNotFound = New("checkpoint not found")
	// ErrCheckpointCorrupt indicates that checkpoint data failed validation on load.
	ErrCheckpointCorrupt = New("checkpoint data corrupted")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// QuorumError is the base interface for all quorum errors.
// It extends the standard error interface with methods for
// error handling and classification.
type QuorumError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents errors related to session lifecycle management.
//
// Example:
//
//	err := errors.NewSessionError("failed to resume", errors.ErrSessionNotFound).WithSessionID("abc123")
//	fmt.Println(err) // "session error [session=abc123]: failed to resume: session not found"
type SessionError struct {
	baseError
	SessionID string
	Phase     string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithPhase adds the session phase to the error context.
func (e *SessionError) WithPhase(phase string) *SessionError {
	e.Phase = phase
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ProviderError represents errors from contribution or scoring provider calls.
// Provider errors are retryable by default since most failures at this
// boundary are transient (timeouts, rate limits).
type ProviderError struct {
	baseError
	Role    string
	Attempt int
}

// NewProviderError creates a new ProviderError.
func NewProviderError(message string, cause error) *ProviderError {
	return &ProviderError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
	}
}

// WithRole adds the provider role (e.g. "persona:maria") to the error context.
func (e *ProviderError) WithRole(role string) *ProviderError {
	e.Role = role
	return e
}

// WithAttempt records which retry attempt produced the error.
func (e *ProviderError) WithAttempt(n int) *ProviderError {
	e.Attempt = n
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ProviderError) WithRetryable(r bool) *ProviderError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ProviderError) Error() string {
	var parts []string
	if e.Role != "" {
		parts = append(parts, fmt.Sprintf("role=%s", e.Role))
	}
	if e.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", e.Attempt))
	}

	prefix := "provider error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("provider error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ProviderError) Is(target error) bool {
	if _, ok := target.(*ProviderError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// CheckpointError represents errors related to checkpoint persistence.
type CheckpointError struct {
	baseError
	SessionID string
	Seq       int
}

// NewCheckpointError creates a new CheckpointError.
func NewCheckpointError(message string, cause error) *CheckpointError {
	return &CheckpointError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *CheckpointError) WithSessionID(id string) *CheckpointError {
	e.SessionID = id
	return e
}

// WithSeq adds the checkpoint sequence number to the error context.
func (e *CheckpointError) WithSeq(seq int) *CheckpointError {
	e.Seq = seq
	return e
}

// Error returns the formatted error message.
func (e *CheckpointError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.Seq > 0 {
		parts = append(parts, fmt.Sprintf("seq=%d", e.Seq))
	}

	prefix := "checkpoint error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("checkpoint error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *CheckpointError) Is(target error) bool {
	if _, ok := target.(*CheckpointError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates a resource could not be found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s not found", resourceType),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds an underlying cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s %q not found", e.ResourceType, e.ResourceID)
	}
	return fmt.Sprintf("%s not found", e.ResourceType)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError indicates a resource already exists.
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s already exists", resourceType),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s %q already exists", e.ResourceType, e.ResourceID)
	}
	return fmt.Sprintf("%s already exists", e.ResourceType)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PermissionError indicates the caller is not authorized to perform an
// operation. Permission errors never carry retryable semantics and are
// always user-facing.
type PermissionError struct {
	baseError
	Operation    string
	ResourceType string
	ResourceID   string
	ActorID      string
}

// NewPermissionError creates a new PermissionError.
func NewPermissionError(operation, resourceType, resourceID, actorID string) *PermissionError {
	return &PermissionError{
		baseError: baseError{
			message:    "permission denied",
			cause:      ErrNotAuthorized,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Operation:    operation,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ActorID:      actorID,
	}
}

// Error returns the formatted error message.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: actor %q may not %s %s %q",
		e.ActorID, e.Operation, e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *PermissionError) Is(target error) bool {
	if _, ok := target.(*PermissionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError indicates invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds the field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds an underlying cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation failed: %s", e.message)
	if e.Field != "" {
		msg = fmt.Sprintf("validation failed: %s: %s", e.Field, e.message)
	}
	if e.Value != nil {
		msg = fmt.Sprintf("%s (got: %v)", msg, e.Value)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError indicates an operation timed out.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    "operation timed out",
			cause:      ErrTimeout,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithRetryable sets whether the error is retryable.
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	if e.Duration > 0 {
		return fmt.Sprintf("%s timed out after %s", e.Operation, e.Duration)
	}
	return fmt.Sprintf("%s timed out", e.Operation)
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient and the operation may
// succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var qErr QuorumError
	if As(err, &qErr) {
		return qErr.IsRetryable()
	}

	return Is(err, ErrTimeout) || Is(err, ErrProviderUnavailable) || Is(err, ErrProviderRateLimited)
}

// IsUserFacing returns true if the error message is safe to display to
// end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var qErr QuorumError
	if As(err, &qErr) {
		return qErr.IsUserFacing()
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement QuorumError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var qErr QuorumError
	if As(err, &qErr) {
		return qErr.Severity()
	}

	return SeverityError
}

// IsTerminalSafety returns true if the error is one of the safety guard
// sentinels that force a terminal transition.
func IsTerminalSafety(err error) bool {
	return Is(err, ErrStepLimitExceeded) || Is(err, ErrWatchdogExpired) || Is(err, ErrBudgetExceeded)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with an additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
