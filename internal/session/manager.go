// Package session manages the lifecycle of deliberation sessions: it
// starts them, parks and resumes them through checkpoints, and enforces
// who may kill what. The manager owns each session's wall-clock
// watchdog; the engine below it never learns about deadlines, it only
// sees the cancellation.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quorumhq/quorum/internal/checkpoint"
	"github.com/quorumhq/quorum/internal/config"
	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/engine"
	"github.com/quorumhq/quorum/internal/errors"
	"github.com/quorumhq/quorum/internal/event"
	"github.com/quorumhq/quorum/internal/logging"
	"github.com/quorumhq/quorum/internal/persona"
)

// Actor identifies who is issuing a lifecycle operation. Owners control
// their own sessions; admins control everything.
type Actor struct {
	ID    string
	Admin bool
}

// Config carries the manager's lifecycle settings.
type Config struct {
	// WallClock is the per-session execution deadline. Zero disables the
	// watchdog.
	WallClock time.Duration
	// MaxRounds is recorded on new session state for observability; the
	// engine enforces the actual cap.
	MaxRounds int
	// PanelPatterns select the default panel for sub-problems that name
	// no personas explicitly.
	PanelPatterns []string
	MinPanelSize  int
	MaxPanelSize  int
}

// ConfigFrom maps application configuration onto manager settings.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		WallClock:     cfg.Session.Timeout(),
		MaxRounds:     cfg.Session.MaxRounds,
		PanelPatterns: cfg.Personas.DefaultPanelPatterns,
		MinPanelSize:  cfg.Tuning.MinPanelSize,
		MaxPanelSize:  cfg.Tuning.MaxPanelSize,
	}
}

// Status is a read-only view of one session for listings.
type Status struct {
	SessionID       string
	OwnerID         string
	Phase           deliberation.Phase
	StopReason      deliberation.StopReason
	Round           int
	SubProblemIndex int
	SubProblems     int
	TotalCost       float64
	StartedAt       time.Time
	UpdatedAt       time.Time
	Running         bool
}

// running tracks one in-flight session goroutine. ownerID, subProblems,
// and startedAt never change after launch; mutable progress comes from
// the runner's status snapshot.
type running struct {
	ownerID     string
	subProblems int
	startedAt   time.Time
	runner      *engine.Runner
	cancel      context.CancelCauseFunc
	done        chan struct{}
	err         error
}

// Manager starts and controls deliberation sessions. All lifecycle
// operations are safe for concurrent use.
type Manager struct {
	cfg     Config
	engine  *engine.Engine
	catalog *persona.Catalog
	logger  *logging.Logger

	mu       sync.Mutex
	sessions map[string]*running
}

// NewManager creates a session manager on top of an engine and a
// persona catalog.
func NewManager(cfg Config, eng *engine.Engine, catalog *persona.Catalog, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		cfg:      cfg,
		engine:   eng,
		catalog:  catalog,
		logger:   logger,
		sessions: make(map[string]*running),
	}
}

// Start validates the problem, assembles panels for sub-problems that
// have none, and launches the session goroutine. It returns as soon as
// the session is running; progress arrives on the engine's event bus.
func (m *Manager) Start(ctx context.Context, owner Actor, problem deliberation.Problem) (string, error) {
	if err := problem.Validate(); err != nil {
		return "", errors.NewValidationError(err.Error())
	}

	for i := range problem.SubProblems {
		sp := &problem.SubProblems[i]
		panel, err := m.catalog.SelectPanel(sp.Panel, m.cfg.PanelPatterns,
			sp.Complexity, m.cfg.MinPanelSize, m.cfg.MaxPanelSize)
		if err != nil {
			return "", errors.Wrapf(err, "panel for sub-problem %s", sp.ID)
		}
		sp.Panel = panel
	}

	sessionID := uuid.NewString()
	state := deliberation.NewState(sessionID, owner.ID, problem, m.cfg.MaxRounds)
	runner := m.engine.NewRunner(state)

	m.launch(sessionID, owner.ID, runner)
	m.engine.Bus().Publish(event.NewSessionStartedEvent(
		sessionID, owner.ID, problem.Description, len(problem.SubProblems)))
	m.logger.Info("session started",
		"session_id", sessionID,
		"owner_id", owner.ID,
		"sub_problems", len(problem.SubProblems),
	)
	return sessionID, nil
}

// launch registers the session and runs it under the watchdog. The
// goroutine deregisters itself when Run returns, whatever the outcome.
func (m *Manager) launch(sessionID, ownerID string, runner *engine.Runner) {
	ctx, cancel := context.WithCancelCause(context.Background())
	if m.cfg.WallClock > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, m.cfg.WallClock, errors.ErrWatchdogExpired)
		base := cancel
		cancel = func(cause error) {
			base(cause)
			cancelTimeout()
		}
	}

	st := runner.State()
	r := &running{
		ownerID:     ownerID,
		subProblems: len(st.Problem.SubProblems),
		startedAt:   st.StartedAt,
		runner:      runner,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	m.mu.Lock()
	m.sessions[sessionID] = r
	m.mu.Unlock()

	go func() {
		defer close(r.done)
		err := runner.Run(ctx)
		cancel(nil)

		m.mu.Lock()
		r.err = err
		delete(m.sessions, sessionID)
		m.mu.Unlock()

		if err != nil && !errors.Is(err, errors.ErrSessionPaused) {
			m.logger.Warn("session exited with error", "session_id", sessionID, "error", err)
		}
	}()
}

// Pause asks a running session to park at its next node boundary. The
// session keeps executing until it reaches one; Wait observes the park.
func (m *Manager) Pause(sessionID string, actor Actor) error {
	m.mu.Lock()
	r, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return errors.Wrapf(errors.ErrSessionNotFound, "session %s is not running", sessionID)
	}
	if err := authorize(actor, r.ownerID, "pause", sessionID); err != nil {
		return err
	}
	r.runner.Pause()
	m.logger.Info("session pause requested", "session_id", sessionID, "actor_id", actor.ID)
	return nil
}

// Resume continues a parked session from its latest checkpoint.
func (m *Manager) Resume(ctx context.Context, sessionID string, actor Actor) error {
	cp, err := m.engine.Store().Latest(ctx, sessionID)
	if err != nil {
		return errors.Wrapf(err, "resuming session %s", sessionID)
	}
	return m.restart(sessionID, actor, cp, event.NewSessionResumedEvent(sessionID, cp.Seq))
}

// Rewind restarts a session from a specific historical checkpoint.
// History is never rewritten: execution continues forward from the old
// snapshot and new checkpoints extend the sequence.
func (m *Manager) Rewind(ctx context.Context, sessionID string, seq int, actor Actor) error {
	cp, err := m.engine.Store().Get(ctx, sessionID, seq)
	if err != nil {
		return errors.Wrapf(err, "rewinding session %s to %d", sessionID, seq)
	}
	return m.restart(sessionID, actor, cp, event.NewSessionResumedEvent(sessionID, cp.Seq))
}

// restart launches a session goroutine from a checkpoint. History is
// never rewritten: a terminal snapshot has nothing left to execute, so
// resume and rewind targets must predate the terminal transition.
func (m *Manager) restart(sessionID string, actor Actor, cp *checkpoint.Checkpoint, ev event.Event) error {
	if err := authorize(actor, cp.State.OwnerID, "resume", sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	_, alreadyRunning := m.sessions[sessionID]
	m.mu.Unlock()
	if alreadyRunning {
		return errors.Wrapf(errors.ErrSessionRunning, "session %s", sessionID)
	}
	if cp.State.Phase.Terminal() {
		return errors.Wrapf(errors.ErrSessionTerminal, "session %s is %s", sessionID, cp.State.Phase)
	}

	runner, err := m.engine.ResumeRunner(cp)
	if err != nil {
		return err
	}
	m.launch(sessionID, cp.State.OwnerID, runner)
	m.engine.Bus().Publish(ev)
	m.logger.Info("session resumed",
		"session_id", sessionID, "seq", cp.Seq, "node", cp.Node, "actor_id", actor.ID)
	return nil
}

// Kill terminates a running session. Only the owner or an admin may
// kill; an unauthorized attempt changes nothing about the session.
func (m *Manager) Kill(sessionID string, actor Actor, reason string) error {
	m.mu.Lock()
	r, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return errors.Wrapf(errors.ErrSessionNotFound, "session %s is not running", sessionID)
	}
	if err := authorize(actor, r.ownerID, "kill", sessionID); err != nil {
		return err
	}

	r.cancel(fmt.Errorf("killed by %s: %s", actor.ID, reason))
	<-r.done
	m.engine.Bus().Publish(event.NewSessionKilledEvent(sessionID, actor.ID, reason))
	m.logger.Info("session killed", "session_id", sessionID, "actor_id", actor.ID, "reason", reason)
	return nil
}

// KillAll terminates every running session. Admin only; a failure on
// one session does not stop the sweep.
func (m *Manager) KillAll(actor Actor, reason string) (int, error) {
	if !actor.Admin {
		return 0, errors.NewPermissionError("killall", "session", "*", actor.ID)
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	killed := 0
	for _, id := range ids {
		if err := m.Kill(id, actor, reason); err != nil {
			if errors.Is(err, errors.ErrSessionNotFound) {
				continue // finished on its own during the sweep
			}
			m.logger.Warn("killall: session kill failed", "session_id", id, "error", err)
			continue
		}
		killed++
	}
	return killed, nil
}

// Wait blocks until the session goroutine exits and returns its error.
// ErrSessionPaused is a normal park, not a failure.
func (m *Manager) Wait(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	r, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List reports every known session: in-flight ones from the registry,
// parked and finished ones from their latest checkpoints. Live sessions
// are read through the runner's status snapshot, never the state the
// session goroutine is mutating.
func (m *Manager) List(ctx context.Context) ([]Status, error) {
	seen := make(map[string]bool)
	var out []Status

	m.mu.Lock()
	for id, r := range m.sessions {
		rs := r.runner.Status()
		out = append(out, Status{
			SessionID:       id,
			OwnerID:         r.ownerID,
			Phase:           rs.Phase,
			StopReason:      rs.StopReason,
			Round:           rs.Round,
			SubProblemIndex: rs.SubProblemIndex,
			SubProblems:     r.subProblems,
			TotalCost:       rs.TotalCost,
			StartedAt:       r.startedAt,
			UpdatedAt:       rs.UpdatedAt,
			Running:         true,
		})
		seen[id] = true
	}
	m.mu.Unlock()

	ids, err := m.engine.Store().Sessions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing checkpointed sessions")
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		cp, err := m.engine.Store().Latest(ctx, id)
		if err != nil {
			m.logger.Warn("skipping unreadable session", "session_id", id, "error", err)
			continue
		}
		out = append(out, statusOf(id, cp.State))
	}
	return out, nil
}

// Running reports whether the session currently has a live goroutine.
func (m *Manager) Running(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// statusOf builds a Status from a checkpointed state. Only used for
// sessions with no live goroutine.
func statusOf(id string, state *deliberation.OrchestrationState) Status {
	return Status{
		SessionID:       id,
		OwnerID:         state.OwnerID,
		Phase:           state.Phase,
		StopReason:      state.StopReason,
		Round:           state.Round,
		SubProblemIndex: state.SubProblemIndex,
		SubProblems:     len(state.Problem.SubProblems),
		TotalCost:       state.TotalCost,
		StartedAt:       state.StartedAt,
		UpdatedAt:       state.UpdatedAt,
	}
}

func authorize(actor Actor, ownerID, operation, sessionID string) error {
	if actor.Admin || actor.ID == ownerID {
		return nil
	}
	return errors.NewPermissionError(operation, "session", sessionID, actor.ID)
}
