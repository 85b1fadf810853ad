package engine

import (
	"context"

	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/errors"
	"github.com/quorumhq/quorum/internal/provider"
)

// runCollectVotes gathers exactly one vote per panelist, sequentially
// in panel order. Personas who already voted (a resumed node) are
// skipped so re-execution never double-counts or double-charges.
func (e *Engine) runCollectVotes(ctx context.Context, state *deliberation.OrchestrationState) (Node, error) {
	sp, ok := state.CurrentSubProblem()
	if !ok {
		return "", errors.New("vote collection with no current sub-problem")
	}
	state.Phase = deliberation.PhaseVoting

	voteCtx := synthesisContext(state, sp)
	for _, code := range sp.Panel {
		if state.HasVote(code) {
			continue
		}
		// The kill switch gates ballots too: synthesis proceeds from
		// whatever votes are already on record.
		if e.checkBudget(state) {
			state.StopReason = deliberation.StopBudgetExhausted
			break
		}

		res, err := e.invoke(ctx, provider.Request{
			Role:        provider.Voter(code),
			Context:     voteCtx,
			Instruction: `Respond with JSON: {"decision":"yes|no|abstain|conditional","confidence":0.0,"reasoning":"...","conditions":["..."]}`,
		})
		if err != nil {
			return "", errors.Wrapf(err, "vote from %s", code)
		}

		vote, parseErr := DecodeVote(code, res.Text)
		if parseErr != nil {
			// An unparseable ballot becomes an abstention; losing one voice
			// must not lose the sub-problem.
			e.logger.Warn("vote unparseable, recording abstention",
				"session_id", state.SessionID, "persona", code, "error", parseErr)
			vote = deliberation.Vote{
				PersonaCode: code,
				Decision:    deliberation.VoteAbstain,
				Reasoning:   "ballot unparseable",
			}
		}
		vote.Cost = res.Cost
		state.AddVote(vote)
		state.AddCost(0, res.Usage.Total())
	}

	return NodeSynthesize, nil
}

// runSynthesize produces the current sub-problem's synthesis from the
// discussion and votes.
func (e *Engine) runSynthesize(ctx context.Context, state *deliberation.OrchestrationState) (Node, error) {
	sp, ok := state.CurrentSubProblem()
	if !ok {
		return "", errors.New("synthesis with no current sub-problem")
	}
	state.Phase = deliberation.PhaseSynthesizing

	if state.Synthesis == "" {
		res, err := e.invoke(ctx, provider.Request{
			Role:    provider.Synthesizer(),
			Context: synthesisContext(state, sp),
		})
		if err != nil {
			return "", errors.Wrap(err, "sub-problem synthesis")
		}
		state.Synthesis = res.Text
		state.AddCost(res.Cost, res.Usage.Total())
	}

	return NodeAdvance, nil
}

// runMetaSynthesize combines all sub-problem results into the final
// answer. It only runs when the problem decomposed into more than one
// sub-problem; a single result is promoted directly in finalize.
func (e *Engine) runMetaSynthesize(ctx context.Context, state *deliberation.OrchestrationState) (Node, error) {
	if state.FinalSynthesis == "" {
		res, err := e.invoke(ctx, provider.Request{
			Role:    provider.Synthesizer(),
			Context: metaSynthesisContext(state),
		})
		if err != nil {
			return "", errors.Wrap(err, "meta-synthesis")
		}
		state.FinalSynthesis = res.Text
		state.AddCost(res.Cost, res.Usage.Total())
	}

	return NodeFinalize, nil
}

// runFinalize transitions the session to its normal terminal phase.
func (e *Engine) runFinalize(ctx context.Context, state *deliberation.OrchestrationState) (Node, error) {
	if state.FinalSynthesis == "" && len(state.Results) == 1 {
		state.FinalSynthesis = state.Results[0].Synthesis
	}
	state.Phase = deliberation.PhaseComplete
	return "", nil
}
