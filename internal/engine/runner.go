package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quorumhq/quorum/internal/checkpoint"
	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/errors"
	"github.com/quorumhq/quorum/internal/event"
	"github.com/quorumhq/quorum/internal/logging"
)

// Runner executes one session's workflow. The orchestration state is
// owned exclusively by the goroutine calling Run; Pause is the only
// concurrent entry point and it only flips a flag the loop reads at
// node boundaries.
type Runner struct {
	engine    *Engine
	state     *deliberation.OrchestrationState
	node      Node
	stepLimit int
	logger    *logging.Logger

	paused atomic.Bool

	statusMu sync.Mutex
	status   RunStatus
}

// RunStatus is a point-in-time view of a run, published by the
// execution goroutine at node boundaries. Unlike the state itself it
// is safe to read while Run is in flight.
type RunStatus struct {
	Phase           deliberation.Phase
	StopReason      deliberation.StopReason
	Round           int
	SubProblemIndex int
	TotalCost       float64
	UpdatedAt       time.Time
}

// NewRunner prepares a fresh session run from validated state.
func (e *Engine) NewRunner(state *deliberation.OrchestrationState) *Runner {
	r := &Runner{
		engine:    e,
		state:     state,
		node:      e.graph.Start(),
		stepLimit: e.cfg.StepLimit(len(state.Problem.SubProblems)),
		logger:    e.logger.With("session_id", state.SessionID),
	}
	r.syncStatus()
	return r
}

// ResumeRunner prepares a run continuing from a checkpoint. The
// checkpoint's node is the node that was about to execute when the
// snapshot was taken; execution is at-least-once from there, and the
// idempotency guards in the node handlers absorb any replay.
func (e *Engine) ResumeRunner(cp *checkpoint.Checkpoint) (*Runner, error) {
	node := Node(cp.Node)
	if !e.graph.Has(node) {
		return nil, errors.Wrapf(errors.ErrCheckpointCorrupt, "unknown node %q", cp.Node)
	}
	r := &Runner{
		engine:    e,
		state:     cp.State.Clone(),
		node:      node,
		stepLimit: e.cfg.StepLimit(len(cp.State.Problem.SubProblems)),
		logger:    e.logger.With("session_id", cp.SessionID),
	}
	r.syncStatus()
	return r, nil
}

// State returns the runner's state. Callers must not touch it while Run
// is in flight; concurrent observers use Status instead.
func (r *Runner) State() *deliberation.OrchestrationState { return r.state }

// Status returns the most recently published status snapshot. Safe for
// concurrent use.
func (r *Runner) Status() RunStatus {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status
}

// syncStatus publishes a fresh snapshot from the state. Called only by
// the goroutine that owns the state.
func (r *Runner) syncStatus() {
	r.statusMu.Lock()
	r.status = RunStatus{
		Phase:           r.state.Phase,
		StopReason:      r.state.StopReason,
		Round:           r.state.Round,
		SubProblemIndex: r.state.SubProblemIndex,
		TotalCost:       r.state.TotalCost,
		UpdatedAt:       r.state.UpdatedAt,
	}
	r.statusMu.Unlock()
}

// Pause asks the runner to park at the next node boundary. The loop
// writes a checkpoint and returns ErrSessionPaused; resumption builds a
// new runner from that checkpoint.
func (r *Runner) Pause() { r.paused.Store(true) }

// Run drives the workflow until a terminal phase, a pause, or
// cancellation. The contract per iteration: check cancellation, check
// pause, charge a step, execute the node, checkpoint durably, then
// emit the transition event. State changes that were not checkpointed
// are lost on crash, which is exactly what makes re-execution safe.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return r.finishCanceled(ctx)
		}
		if r.paused.Load() {
			return r.finishPaused(ctx)
		}
		if r.state.Phase.Terminal() {
			r.finishTerminal(ctx)
			return nil
		}

		r.state.Steps++
		if r.state.Steps > r.stepLimit {
			r.logger.Error("step limit exceeded", "steps", r.state.Steps, "limit", r.stepLimit)
			r.state.Fail(deliberation.StopStepLimit,
				"step counter exceeded derived ceiling")
			r.finishTerminal(ctx)
			return errors.ErrStepLimitExceeded
		}

		next, err := r.execute(ctx, r.node)
		if err != nil {
			if ctx.Err() != nil {
				return r.finishCanceled(ctx)
			}
			r.logger.Error("node failed", "node", string(r.node), "error", err)
			r.state.Fail(deliberation.StopProviderFailure, err.Error())
			r.finishTerminal(ctx)
			return err
		}

		if next != "" && !r.engine.graph.Allowed(r.node, next) {
			r.state.Fail(deliberation.StopProviderFailure, "illegal transition")
			r.finishTerminal(ctx)
			return errors.Wrapf(errors.ErrGraphInvalid, "transition %s -> %s", r.node, next)
		}

		executed := r.node
		if next != "" {
			r.node = next
		}
		if err := r.writeCheckpoint(ctx); err != nil {
			r.state.Fail(deliberation.StopCheckpointFailure, err.Error())
			r.finishTerminal(ctx)
			return err
		}
		r.syncStatus()
		r.engine.bus.Publish(event.NewNodeTransitionEvent(
			r.state.SessionID, string(executed), string(r.state.Phase),
			r.state.Round, r.state.SubProblemIndex))

		if next == "" {
			r.finishTerminal(ctx)
			return nil
		}
	}
}

func (r *Runner) execute(ctx context.Context, node Node) (Node, error) {
	switch node {
	case NodeInitialRound:
		return r.engine.runInitialRound(ctx, r.state)
	case NodeEvaluate:
		return r.engine.runEvaluate(ctx, r.state)
	case NodeDiscussionRound:
		return r.engine.runDiscussionRound(ctx, r.state)
	case NodeCollectVotes:
		return r.engine.runCollectVotes(ctx, r.state)
	case NodeSynthesize:
		return r.engine.runSynthesize(ctx, r.state)
	case NodeAdvance:
		return r.engine.runAdvance(ctx, r.state)
	case NodeMetaSynthesize:
		return r.engine.runMetaSynthesize(ctx, r.state)
	case NodeFinalize:
		return r.engine.runFinalize(ctx, r.state)
	}
	return "", errors.Wrapf(errors.ErrGraphInvalid, "no handler for node %q", node)
}

// writeCheckpoint persists the current state durably, retrying briefly
// before giving up. Checkpoint writes use a background-derived context
// so a kill or watchdog cancellation still gets its final snapshot.
func (r *Runner) writeCheckpoint(ctx context.Context) error {
	cpCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		seq, err := r.engine.store.Put(cpCtx, r.state.SessionID, string(r.node), r.state)
		if err == nil {
			r.engine.bus.Publish(event.NewCheckpointWrittenEvent(r.state.SessionID, seq, string(r.node)))
			return nil
		}
		lastErr = err
		r.logger.Warn("checkpoint write failed", "attempt", attempt, "error", err)
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return errors.Wrap(lastErr, "checkpoint write exhausted retries")
}

func (r *Runner) finishPaused(ctx context.Context) error {
	if err := r.writeCheckpoint(ctx); err != nil {
		r.state.Fail(deliberation.StopCheckpointFailure, err.Error())
		r.finishTerminal(ctx)
		return err
	}
	r.logger.Info("session paused", "node", string(r.node))
	r.engine.bus.Publish(event.NewSessionPausedEvent(r.state.SessionID, string(r.node)))
	return errors.ErrSessionPaused
}

// finishCanceled maps the cancellation cause onto the right terminal
// phase: the watchdog means timeout, anything else means killed.
func (r *Runner) finishCanceled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, errors.ErrWatchdogExpired) {
		r.state.Phase = deliberation.PhaseTimeout
		r.state.StopReason = deliberation.StopWallClock
		r.state.FailureReason = "wall-clock deadline exceeded"
	} else {
		r.state.Phase = deliberation.PhaseKilled
		r.state.StopReason = deliberation.StopKilled
		if cause != nil {
			r.state.FailureReason = cause.Error()
		}
	}
	r.finishTerminal(ctx)
	return cause
}

// finishTerminal writes the final checkpoint and emits completion. The
// snapshot is best-effort at this point; the terminal phase stands even
// if persistence is failing.
func (r *Runner) finishTerminal(ctx context.Context) {
	r.syncStatus()
	if err := r.writeCheckpoint(ctx); err != nil {
		r.logger.Error("final checkpoint failed", "error", err)
	}
	r.logger.Info("session finished",
		"phase", string(r.state.Phase),
		"stop_reason", string(r.state.StopReason),
		"steps", r.state.Steps,
		"cost", r.state.TotalCost,
	)
	r.engine.bus.Publish(event.NewSessionCompletedEvent(
		r.state.SessionID, string(r.state.Phase), string(r.state.StopReason), r.state.TotalCost))
}
