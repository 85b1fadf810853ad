package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/errors"
	"github.com/quorumhq/quorum/internal/event"
	"github.com/quorumhq/quorum/internal/provider"
)

const facilitatorSpeaker = "facilitator"

// invoke wraps a provider call with the per-call timeout.
func (e *Engine) invoke(ctx context.Context, req provider.Request) (provider.Result, error) {
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}
	return e.contrib.Invoke(ctx, req)
}

// runInitialRound fans out one initial contribution per panelist in
// parallel and merges them in panel order, so the resulting transcript
// is deterministic regardless of completion order.
func (e *Engine) runInitialRound(ctx context.Context, state *deliberation.OrchestrationState) (Node, error) {
	sp, ok := state.CurrentSubProblem()
	if !ok {
		return "", errors.New("initial round with no current sub-problem")
	}
	state.Phase = deliberation.PhaseDeliberating

	// A blown budget buys no new rounds, even for sub-problems that have
	// not started yet; evaluate routes straight on to synthesis.
	if e.checkBudget(state) {
		return NodeEvaluate, nil
	}

	type indexed struct {
		idx    int
		code   string
		result provider.Result
	}

	sharedCtx := subProblemContext(state, sp)
	p := pool.NewWithResults[indexed]().WithContext(ctx).WithMaxGoroutines(len(sp.Panel))
	for i, code := range sp.Panel {
		// Re-run after a resume skips panelists already on record.
		if state.HasContribution(state.Round, code) {
			continue
		}
		i, code := i, code
		p.Go(func(ctx context.Context) (indexed, error) {
			memory, _ := state.ExpertMemory(code)
			res, err := e.invoke(ctx, provider.Request{
				Role:        provider.Persona(code),
				Context:     sharedCtx,
				PriorMemory: memory,
				Instruction: "Give your initial position on the sub-problem goal.",
			})
			if err != nil {
				return indexed{}, errors.Wrapf(err, "initial contribution from %s", code)
			}
			return indexed{idx: i, code: code, result: res}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return "", err
	}

	// Sort by panel index; conc collects in completion order.
	byIndex := make(map[int]indexed, len(results))
	for _, r := range results {
		byIndex[r.idx] = r
	}
	for i, code := range sp.Panel {
		r, ok := byIndex[i]
		if !ok {
			continue
		}
		state.AddContribution(deliberation.Contribution{
			Round:        state.Round,
			Speaker:      code,
			Kind:         deliberation.KindInitial,
			Content:      r.result.Text,
			InputTokens:  r.result.Usage.Input,
			OutputTokens: r.result.Usage.Output,
			Cost:         r.result.Cost,
			CreatedAt:    time.Now(),
		})
		e.bus.Publish(event.NewRoundCompletedEvent(state.SessionID, state.Round, code, string(deliberation.KindInitial)))
	}

	return NodeEvaluate, nil
}

// runEvaluate is the routing heart of the round loop. Safety layers are
// checked before the facilitator gets a say; when none fire, the
// facilitator's parsed decision is persisted as a contribution so a
// resumed session replays the same routing.
func (e *Engine) runEvaluate(ctx context.Context, state *deliberation.OrchestrationState) (Node, error) {
	sp, ok := state.CurrentSubProblem()
	if !ok {
		return "", errors.New("evaluate with no current sub-problem")
	}

	if e.checkBudget(state) {
		state.StopReason = deliberation.StopBudgetExhausted
		return NodeCollectVotes, nil
	}

	if reason, capped := e.cfg.checkRoundCap(state.Round); capped {
		e.logger.Info("round cap reached, forcing vote",
			"session_id", state.SessionID, "round", state.Round, "reason", string(reason))
		state.StopReason = reason
		return NodeCollectVotes, nil
	}

	tuning := e.currentTuning()
	state.Metrics = e.evaluateMetrics(ctx, state, sp)
	earlyStop := tuning.shouldStop(state.Metrics)
	e.bus.Publish(event.NewConvergenceEvent(state.SessionID, state.Round,
		state.Metrics.Convergence, state.Metrics.Novelty, state.Metrics.Drift, earlyStop))
	if earlyStop {
		state.StopReason = deliberation.StopConverged
		return NodeCollectVotes, nil
	}
	state.RedirectHint = tuning.driftRedirect(state.Metrics, sp.Goal)

	decision, err := e.facilitatorDecision(ctx, state, sp)
	if err != nil {
		return "", err
	}
	if decision.Action == deliberation.ActionVote {
		return NodeCollectVotes, nil
	}
	return NodeDiscussionRound, nil
}

// facilitatorDecision obtains and persists the routing decision for the
// current round. An unparseable response degrades to continue so a
// confused facilitator costs one round, not the session; the round caps
// still bound how often that can happen.
func (e *Engine) facilitatorDecision(ctx context.Context, state *deliberation.OrchestrationState, sp deliberation.SubProblem) (deliberation.FacilitatorDecision, error) {
	if state.HasContribution(state.Round, facilitatorSpeaker) {
		return e.recordedDecision(state)
	}

	res, err := e.invoke(ctx, provider.Request{
		Role:        provider.Facilitator(),
		Context:     facilitatorContext(state, sp, e.cfg.MaxRounds),
		Instruction: state.RedirectHint,
	})
	if err != nil {
		return deliberation.FacilitatorDecision{}, errors.Wrap(err, "facilitator call")
	}

	decision, parseErr := DecodeFacilitatorDecision(res.Text)
	if parseErr != nil {
		e.logger.Warn("facilitator decision unparseable, continuing round",
			"session_id", state.SessionID, "round", state.Round, "error", parseErr)
		decision = deliberation.FacilitatorDecision{
			Action:    deliberation.ActionContinue,
			Rationale: "decision unparseable, defaulting to continue",
		}
	}

	state.AddContribution(deliberation.Contribution{
		Round:        state.Round,
		Speaker:      facilitatorSpeaker,
		Kind:         deliberation.KindFacilitator,
		Content:      res.Text,
		InputTokens:  res.Usage.Input,
		OutputTokens: res.Usage.Output,
		Cost:         res.Cost,
		CreatedAt:    time.Now(),
	})
	return decision, nil
}

// recordedDecision replays the facilitator contribution already on
// record for this round, used after a resume re-enters evaluate.
func (e *Engine) recordedDecision(state *deliberation.OrchestrationState) (deliberation.FacilitatorDecision, error) {
	for i := len(state.Contributions) - 1; i >= 0; i-- {
		c := state.Contributions[i]
		if c.Round == state.Round && c.Speaker == facilitatorSpeaker {
			decision, err := DecodeFacilitatorDecision(c.Content)
			if err != nil {
				return deliberation.FacilitatorDecision{Action: deliberation.ActionContinue}, nil
			}
			return decision, nil
		}
	}
	return deliberation.FacilitatorDecision{}, errors.New("no recorded facilitator decision")
}

// runDiscussionRound executes the contribution the facilitator routed:
// a persona response, a moderator challenge, or external research. The
// round counter advances here, once per loop iteration.
func (e *Engine) runDiscussionRound(ctx context.Context, state *deliberation.OrchestrationState) (Node, error) {
	sp, ok := state.CurrentSubProblem()
	if !ok {
		return "", errors.New("discussion round with no current sub-problem")
	}

	decision, err := e.recordedDecision(state)
	if err != nil {
		return "", err
	}

	state.Round++
	round := state.Round

	var (
		speaker string
		kind    deliberation.ContributionKind
		req     provider.Request
	)
	switch decision.Action {
	case deliberation.ActionContinue:
		code := decision.Target
		if !onPanel(sp.Panel, code) {
			code = nextSpeaker(state, sp.Panel)
		}
		memory, _ := state.ExpertMemory(code)
		speaker = code
		kind = deliberation.KindResponse
		req = provider.Request{
			Role:        provider.Persona(code),
			Context:     subProblemContext(state, sp),
			PriorMemory: memory,
			Instruction: state.RedirectHint,
		}
	case deliberation.ActionModerate:
		variant := decision.Variant
		if variant == "" {
			variant = deliberation.ModeratorContrarian
		}
		speaker = fmt.Sprintf("moderator:%s", variant)
		kind = deliberation.KindModerator
		req = provider.Request{
			Role:        provider.Moderator(string(variant)),
			Context:     subProblemContext(state, sp),
			Instruction: decision.Rationale,
		}
	case deliberation.ActionResearch:
		speaker = "researcher"
		kind = deliberation.KindResearch
		req = provider.Request{
			Role:        provider.Researcher(),
			Context:     subProblemContext(state, sp),
			Instruction: decision.Rationale,
		}
	case deliberation.ActionVote:
		// Vote routes out of the loop at evaluate; reaching here means a
		// recorded decision was replayed against the wrong node.
		return NodeEvaluate, nil
	default:
		return "", errors.Wrapf(errors.ErrDecisionUnparseable, "unhandled action %q", decision.Action)
	}

	if state.HasContribution(round, speaker) {
		return NodeEvaluate, nil
	}

	res, err := e.invoke(ctx, req)
	if err != nil {
		return "", errors.Wrapf(err, "%s contribution", speaker)
	}

	state.AddContribution(deliberation.Contribution{
		Round:        round,
		Speaker:      speaker,
		Kind:         kind,
		Content:      res.Text,
		InputTokens:  res.Usage.Input,
		OutputTokens: res.Usage.Output,
		Cost:         res.Cost,
		CreatedAt:    time.Now(),
	})
	e.bus.Publish(event.NewRoundCompletedEvent(state.SessionID, round, speaker, string(kind)))

	return NodeEvaluate, nil
}

func onPanel(panel []string, code string) bool {
	for _, p := range panel {
		if p == code {
			return true
		}
	}
	return false
}

// nextSpeaker picks the panelist who has spoken least recently, so an
// untargeted continue still rotates voices instead of repeating one.
func nextSpeaker(state *deliberation.OrchestrationState, panel []string) string {
	lastRound := make(map[string]int, len(panel))
	for _, c := range state.Contributions {
		if onPanel(panel, c.Speaker) && c.Round > lastRound[c.Speaker] {
			lastRound[c.Speaker] = c.Round
		}
	}
	best := panel[0]
	for _, code := range panel[1:] {
		if lastRound[code] < lastRound[best] {
			best = code
		}
	}
	return best
}
