package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "session.max_rounds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateTuning()...)
	errors = append(errors, c.validateProviders()...)
	errors = append(errors, c.validateCheckpoint()...)
	errors = append(errors, c.validatePersonas()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateSession validates the SessionConfig
func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	const minRounds = 1
	const maxRoundsLimit = 100

	if c.Session.MaxRounds < minRounds {
		errors = append(errors, ValidationError{
			Field:   "session.max_rounds",
			Value:   c.Session.MaxRounds,
			Message: fmt.Sprintf("must be at least %d", minRounds),
		})
	}
	if c.Session.MaxRounds > maxRoundsLimit {
		errors = append(errors, ValidationError{
			Field:   "session.max_rounds",
			Value:   c.Session.MaxRounds,
			Message: fmt.Sprintf("exceeds maximum of %d", maxRoundsLimit),
		})
	}

	// The absolute cap must not undercut the facilitator's round budget,
	// otherwise the cap fires before a forced vote can.
	if c.Session.AbsoluteRoundCap < c.Session.MaxRounds {
		errors = append(errors, ValidationError{
			Field:   "session.absolute_round_cap",
			Value:   c.Session.AbsoluteRoundCap,
			Message: fmt.Sprintf("must be at least session.max_rounds (%d)", c.Session.MaxRounds),
		})
	}

	if c.Session.StepLimitOverhead < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.step_limit_overhead",
			Value:   c.Session.StepLimitOverhead,
			Message: "must be non-negative",
		})
	}

	if c.Session.TimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.timeout_seconds",
			Value:   c.Session.TimeoutSeconds,
			Message: "must be non-negative (0 disables timeout)",
		})
	}

	if c.Session.CostBudgetUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.cost_budget_usd",
			Value:   c.Session.CostBudgetUSD,
			Message: "must be non-negative (0 disables budget)",
		})
	}

	return errors
}

// validateTuning validates the TuningConfig
func (c *Config) validateTuning() []ValidationError {
	var errors []ValidationError

	unit := func(field string, v float64) {
		if v < 0 || v > 1 {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   v,
				Message: "must be between 0 and 1",
			})
		}
	}
	unit("tuning.convergence_threshold", c.Tuning.ConvergenceThreshold)
	unit("tuning.novelty_floor", c.Tuning.NoveltyFloor)
	unit("tuning.drift_floor", c.Tuning.DriftFloor)

	const minPanel = 1
	const maxPanel = 20

	if c.Tuning.MinPanelSize < minPanel {
		errors = append(errors, ValidationError{
			Field:   "tuning.min_panel_size",
			Value:   c.Tuning.MinPanelSize,
			Message: fmt.Sprintf("must be at least %d", minPanel),
		})
	}
	if c.Tuning.MaxPanelSize > maxPanel {
		errors = append(errors, ValidationError{
			Field:   "tuning.max_panel_size",
			Value:   c.Tuning.MaxPanelSize,
			Message: fmt.Sprintf("exceeds maximum of %d", maxPanel),
		})
	}
	if c.Tuning.MaxPanelSize < c.Tuning.MinPanelSize {
		errors = append(errors, ValidationError{
			Field:   "tuning.max_panel_size",
			Value:   c.Tuning.MaxPanelSize,
			Message: fmt.Sprintf("must be at least tuning.min_panel_size (%d)", c.Tuning.MinPanelSize),
		})
	}

	if c.Tuning.CallTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "tuning.call_timeout_seconds",
			Value:   c.Tuning.CallTimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

// validateProviders validates the ProvidersConfig
func (c *Config) validateProviders() []ValidationError {
	var errors []ValidationError

	const maxAttempts = 10

	if c.Providers.RetryAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "providers.retry_attempts",
			Value:   c.Providers.RetryAttempts,
			Message: "must be at least 1",
		})
	}
	if c.Providers.RetryAttempts > maxAttempts {
		errors = append(errors, ValidationError{
			Field:   "providers.retry_attempts",
			Value:   c.Providers.RetryAttempts,
			Message: fmt.Sprintf("exceeds maximum of %d", maxAttempts),
		})
	}

	if c.Providers.RetryBackoffMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "providers.retry_backoff_ms",
			Value:   c.Providers.RetryBackoffMs,
			Message: "must be non-negative (0 disables backoff)",
		})
	}

	return errors
}

// validateCheckpoint validates the CheckpointConfig
func (c *Config) validateCheckpoint() []ValidationError {
	var errors []ValidationError

	if c.Checkpoint.Retention < 0 {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.retention",
			Value:   c.Checkpoint.Retention,
			Message: "must be non-negative (0 keeps all checkpoints)",
		})
	}

	if c.Checkpoint.TTLHours < 0 {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.ttl_hours",
			Value:   c.Checkpoint.TTLHours,
			Message: "must be non-negative (0 disables expiry)",
		})
	}

	if c.Checkpoint.Dir != "" && strings.ContainsRune(c.Checkpoint.Dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.dir",
			Value:   c.Checkpoint.Dir,
			Message: "path contains invalid null character",
		})
	}

	return errors
}

// validatePersonas validates the PersonasConfig
func (c *Config) validatePersonas() []ValidationError {
	var errors []ValidationError

	for i, pat := range c.Personas.DefaultPanelPatterns {
		if strings.TrimSpace(pat) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("personas.default_panel_patterns[%d]", i),
				Value:   pat,
				Message: "pattern cannot be empty",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
