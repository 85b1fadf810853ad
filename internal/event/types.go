package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g. "session.started", "node.transition")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionStartedEvent is emitted when a deliberation session begins.
type SessionStartedEvent struct {
	baseEvent
	SessionID   string // Unique identifier for the session
	OwnerID     string // User that started the session
	Problem     string // Problem description
	SubProblems int    // Number of decomposed sub-problems
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(sessionID, ownerID, problem string, subProblems int) SessionStartedEvent {
	return SessionStartedEvent{
		baseEvent:   newBaseEvent("session.started"),
		SessionID:   sessionID,
		OwnerID:     ownerID,
		Problem:     problem,
		SubProblems: subProblems,
	}
}

// SessionPausedEvent is emitted when a session suspends at a safe point.
type SessionPausedEvent struct {
	baseEvent
	SessionID string
	Node      string // Node after which the session parked
}

// NewSessionPausedEvent creates a SessionPausedEvent.
func NewSessionPausedEvent(sessionID, node string) SessionPausedEvent {
	return SessionPausedEvent{
		baseEvent: newBaseEvent("session.paused"),
		SessionID: sessionID,
		Node:      node,
	}
}

// SessionResumedEvent is emitted when a paused session restarts from its
// latest checkpoint.
type SessionResumedEvent struct {
	baseEvent
	SessionID     string
	CheckpointSeq int // Sequence number the session resumed from
}

// NewSessionResumedEvent creates a SessionResumedEvent.
func NewSessionResumedEvent(sessionID string, checkpointSeq int) SessionResumedEvent {
	return SessionResumedEvent{
		baseEvent:     newBaseEvent("session.resumed"),
		SessionID:     sessionID,
		CheckpointSeq: checkpointSeq,
	}
}

// SessionKilledEvent is emitted when a session is terminated by an
// authorized actor.
type SessionKilledEvent struct {
	baseEvent
	SessionID string
	ActorID   string // User or admin that issued the kill
	Reason    string
}

// NewSessionKilledEvent creates a SessionKilledEvent.
func NewSessionKilledEvent(sessionID, actorID, reason string) SessionKilledEvent {
	return SessionKilledEvent{
		baseEvent: newBaseEvent("session.killed"),
		SessionID: sessionID,
		ActorID:   actorID,
		Reason:    reason,
	}
}

// SessionCompletedEvent is emitted when a session reaches any terminal
// phase, normal or otherwise.
type SessionCompletedEvent struct {
	baseEvent
	SessionID  string
	Phase      string  // Terminal phase: "complete", "killed", "timeout", "failed"
	StopReason string  // Human-readable reason, empty on normal completion
	TotalCost  float64 // Accumulated session cost (USD)
}

// NewSessionCompletedEvent creates a SessionCompletedEvent.
func NewSessionCompletedEvent(sessionID, phase, stopReason string, totalCost float64) SessionCompletedEvent {
	return SessionCompletedEvent{
		baseEvent:  newBaseEvent("session.completed"),
		SessionID:  sessionID,
		Phase:      phase,
		StopReason: stopReason,
		TotalCost:  totalCost,
	}
}

// -----------------------------------------------------------------------------
// Deliberation Progress Events
// -----------------------------------------------------------------------------

// NodeTransitionEvent is emitted after every graph node execution.
// This is the event stream contract consumed by UI streaming and audit
// logging; delivery is at-least-once.
type NodeTransitionEvent struct {
	baseEvent
	SessionID       string
	Node            string // Name of the node that just executed
	Phase           string // Session phase after the node ran
	Round           int    // Current round number
	SubProblemIndex int    // Current sub-problem index
}

// NewNodeTransitionEvent creates a NodeTransitionEvent.
func NewNodeTransitionEvent(sessionID, node, phase string, round, subProblemIndex int) NodeTransitionEvent {
	return NodeTransitionEvent{
		baseEvent:       newBaseEvent("node.transition"),
		SessionID:       sessionID,
		Node:            node,
		Phase:           phase,
		Round:           round,
		SubProblemIndex: subProblemIndex,
	}
}

// RoundCompletedEvent is emitted when a discussion round finishes.
type RoundCompletedEvent struct {
	baseEvent
	SessionID string
	Round     int
	Speaker   string // Persona code, "moderator:<variant>", or "researcher"
	Kind      string // Contribution kind for the round
}

// NewRoundCompletedEvent creates a RoundCompletedEvent.
func NewRoundCompletedEvent(sessionID string, round int, speaker, kind string) RoundCompletedEvent {
	return RoundCompletedEvent{
		baseEvent: newBaseEvent("round.completed"),
		SessionID: sessionID,
		Round:     round,
		Speaker:   speaker,
		Kind:      kind,
	}
}

// ConvergenceEvent is emitted with each round's convergence metrics.
type ConvergenceEvent struct {
	baseEvent
	SessionID   string
	Round       int
	Convergence float64
	Novelty     float64
	Drift       float64
	EarlyStop   bool // True if the metrics forced a vote
}

// NewConvergenceEvent creates a ConvergenceEvent.
func NewConvergenceEvent(sessionID string, round int, convergence, novelty, drift float64, earlyStop bool) ConvergenceEvent {
	return ConvergenceEvent{
		baseEvent:   newBaseEvent("convergence.evaluated"),
		SessionID:   sessionID,
		Round:       round,
		Convergence: convergence,
		Novelty:     novelty,
		Drift:       drift,
		EarlyStop:   earlyStop,
	}
}

// SubProblemCompletedEvent is emitted when the iterator records a result
// and advances.
type SubProblemCompletedEvent struct {
	baseEvent
	SessionID     string
	SubProblemID  string
	Index         int
	Contributions int
	Cost          float64
}

// NewSubProblemCompletedEvent creates a SubProblemCompletedEvent.
func NewSubProblemCompletedEvent(sessionID, subProblemID string, index, contributions int, cost float64) SubProblemCompletedEvent {
	return SubProblemCompletedEvent{
		baseEvent:     newBaseEvent("subproblem.completed"),
		SessionID:     sessionID,
		SubProblemID:  subProblemID,
		Index:         index,
		Contributions: contributions,
		Cost:          cost,
	}
}

// -----------------------------------------------------------------------------
// Safety Events
// -----------------------------------------------------------------------------

// BudgetExceededEvent is emitted when the cost kill switch forces an early
// transition to synthesis.
type BudgetExceededEvent struct {
	baseEvent
	SessionID string
	Cost      float64 // Accumulated cost at the time the switch fired
	Budget    float64 // Configured session budget
}

// NewBudgetExceededEvent creates a BudgetExceededEvent.
func NewBudgetExceededEvent(sessionID string, cost, budget float64) BudgetExceededEvent {
	return BudgetExceededEvent{
		baseEvent: newBaseEvent("budget.exceeded"),
		SessionID: sessionID,
		Cost:      cost,
		Budget:    budget,
	}
}

// CheckpointWrittenEvent is emitted after each durable state snapshot.
type CheckpointWrittenEvent struct {
	baseEvent
	SessionID string
	Seq       int
	Node      string // Node whose execution produced the snapshot
}

// NewCheckpointWrittenEvent creates a CheckpointWrittenEvent.
func NewCheckpointWrittenEvent(sessionID string, seq int, node string) CheckpointWrittenEvent {
	return CheckpointWrittenEvent{
		baseEvent: newBaseEvent("checkpoint.written"),
		SessionID: sessionID,
		Seq:       seq,
		Node:      node,
	}
}
