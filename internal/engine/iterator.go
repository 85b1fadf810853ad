package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/event"
	"github.com/quorumhq/quorum/internal/provider"
)

// runAdvance seals the current sub-problem into an immutable result and
// moves the iterator forward. Expert memory summaries are produced here
// so a persona's positions follow it into later sub-problems; a failed
// summary degrades that one persona's memory, nothing else.
func (e *Engine) runAdvance(ctx context.Context, state *deliberation.OrchestrationState) (Node, error) {
	sp, ok := state.CurrentSubProblem()
	if !ok {
		return "", fmt.Errorf("advance with no current sub-problem")
	}

	result := deliberation.SubProblemResult{
		SubProblemID:      sp.ID,
		Goal:              sp.Goal,
		Synthesis:         state.Synthesis,
		Votes:             append([]deliberation.Vote(nil), state.Votes...),
		ContributionCount: len(state.Contributions),
		Cost:              subProblemCost(state),
		Duration:          time.Since(state.SubProblemStartedAt),
		Panel:             append([]string(nil), sp.Panel...),
		ExpertSummaries:   e.summarizeExperts(ctx, state, sp),
	}
	state.Results = append(state.Results, result)

	e.bus.Publish(event.NewSubProblemCompletedEvent(
		state.SessionID, sp.ID, state.SubProblemIndex, result.ContributionCount, result.Cost))
	e.logger.Info("sub-problem completed",
		"session_id", state.SessionID,
		"sub_problem", sp.ID,
		"rounds", state.Round,
		"contributions", result.ContributionCount,
		"stop_reason", string(state.StopReason),
	)

	// Reset per-sub-problem working state.
	state.SubProblemIndex++
	state.Round = 1
	state.Contributions = nil
	state.Votes = nil
	state.Synthesis = ""
	state.RedirectHint = ""
	state.StopReason = ""
	state.Metrics = deliberation.ConvergenceMetrics{}
	state.SubProblemStartedAt = time.Now()

	if state.SubProblemIndex < len(state.Problem.SubProblems) {
		return NodeInitialRound, nil
	}
	if len(state.Results) > 1 {
		return NodeMetaSynthesize, nil
	}
	return NodeFinalize, nil
}

// summarizeExperts produces one short memory summary per panelist from
// their contributions to this sub-problem.
func (e *Engine) summarizeExperts(ctx context.Context, state *deliberation.OrchestrationState, sp deliberation.SubProblem) map[string]string {
	summaries := make(map[string]string, len(sp.Panel))
	for _, code := range sp.Panel {
		transcript := personaTranscript(state, code)
		if transcript == "" {
			continue
		}
		// Memory is an optimization; output is not. No summaries once the
		// budget is gone.
		if e.checkBudget(state) {
			break
		}
		res, err := e.invoke(ctx, provider.Request{
			Role:        provider.Summarizer(),
			Context:     fmt.Sprintf("Goal: %s\n\n%s's contributions:\n%s", sp.Goal, code, transcript),
			Instruction: "Summarize this expert's position, key arguments, and confidence in a few sentences.",
		})
		if err != nil {
			e.logger.Warn("expert summary degraded",
				"session_id", state.SessionID, "persona", code, "error", err)
			continue
		}
		summaries[code] = res.Text
		state.AddCost(res.Cost, res.Usage.Total())
	}
	if len(summaries) == 0 {
		return nil
	}
	return summaries
}

func personaTranscript(state *deliberation.OrchestrationState, code string) string {
	var out string
	for _, c := range state.Contributions {
		if c.Speaker == code {
			out += fmt.Sprintf("[round %d] %s\n", c.Round, c.Content)
		}
	}
	return out
}

// subProblemCost totals the costs attached to this sub-problem's
// contributions and votes.
func subProblemCost(state *deliberation.OrchestrationState) float64 {
	var cost float64
	for _, c := range state.Contributions {
		cost += c.Cost
	}
	for _, v := range state.Votes {
		cost += v.Cost
	}
	return cost
}
