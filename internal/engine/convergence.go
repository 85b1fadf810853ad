package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/quorumhq/quorum/internal/deliberation"
)

// evaluateMetrics recomputes the convergence metrics from the current
// sub-problem's discussion. All scores are in [0,1]:
//
//	convergence: mean pairwise similarity of each panelist's latest position
//	novelty:     how much the latest round added over everything before it
//	conflict:    inverse of convergence
//	drift:       relevance of the latest round to the sub-problem goal
//
// A scoring failure degrades to neutral metrics rather than stopping
// the session; the round caps still bound the loop.
func (e *Engine) evaluateMetrics(ctx context.Context, state *deliberation.OrchestrationState, sp deliberation.SubProblem) deliberation.ConvergenceMetrics {
	neutral := deliberation.ConvergenceMetrics{Convergence: 0, Novelty: 1, Conflict: 1, Drift: 1}

	latest := latestPositions(state, sp.Panel)
	if len(latest) < 2 {
		return neutral
	}

	convergence, err := e.pairwiseSimilarity(ctx, latest)
	if err != nil {
		e.logger.Warn("convergence scoring degraded", "session_id", state.SessionID, "error", err)
		return neutral
	}

	novelty, drift := 1.0, 1.0
	if round := roundText(state, state.Round); round != "" {
		if prior := priorText(state, state.Round); prior != "" {
			sim, err := e.scorer.Score(ctx, round, prior)
			if err == nil {
				novelty = 1 - sim
			}
		}
		if rel, err := e.scorer.Score(ctx, round, sp.Goal); err == nil {
			drift = rel
		}
	}

	return deliberation.ConvergenceMetrics{
		Convergence: convergence,
		Novelty:     novelty,
		Conflict:    1 - convergence,
		Drift:       drift,
	}
}

// shouldStop applies the early-stop rule: the panel has converged and
// another round would add little.
func (t Tuning) shouldStop(m deliberation.ConvergenceMetrics) bool {
	return m.Convergence >= t.ConvergenceThreshold && m.Novelty <= t.NoveltyFloor
}

// driftRedirect returns the redirect hint issued when the discussion
// has wandered off the sub-problem goal. It biases the next facilitator
// call; it never overrides routing.
func (t Tuning) driftRedirect(m deliberation.ConvergenceMetrics, goal string) string {
	if m.Drift >= t.DriftFloor {
		return ""
	}
	return fmt.Sprintf("The discussion is drifting. Steer the panel back to the goal: %s", goal)
}

// pairwiseSimilarity averages the scorer over every pair of positions.
func (e *Engine) pairwiseSimilarity(ctx context.Context, positions []string) (float64, error) {
	var sum float64
	var pairs int
	for i := 0; i < len(positions); i++ {
		for j := i + 1; j < len(positions); j++ {
			score, err := e.scorer.Score(ctx, positions[i], positions[j])
			if err != nil {
				return 0, err
			}
			sum += score
			pairs++
		}
	}
	if pairs == 0 {
		return 0, nil
	}
	return sum / float64(pairs), nil
}

// latestPositions returns each panelist's most recent contribution, in
// panel order, skipping panelists who have not spoken.
func latestPositions(state *deliberation.OrchestrationState, panel []string) []string {
	var positions []string
	for _, code := range panel {
		for i := len(state.Contributions) - 1; i >= 0; i-- {
			c := state.Contributions[i]
			if c.Speaker == code {
				positions = append(positions, c.Content)
				break
			}
		}
	}
	return positions
}

// roundText concatenates the non-facilitator contributions of a round.
func roundText(state *deliberation.OrchestrationState, round int) string {
	var parts []string
	for _, c := range state.Contributions {
		if c.Round == round && c.Kind != deliberation.KindFacilitator {
			parts = append(parts, c.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// priorText concatenates all non-facilitator contributions before the
// given round.
func priorText(state *deliberation.OrchestrationState, round int) string {
	var parts []string
	for _, c := range state.Contributions {
		if c.Round < round && c.Kind != deliberation.KindFacilitator {
			parts = append(parts, c.Content)
		}
	}
	return strings.Join(parts, "\n")
}
