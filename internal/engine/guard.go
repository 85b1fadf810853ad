package engine

import (
	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/event"
)

// The safety layers are deliberately independent: the step counter,
// the round caps, the cost budget, and the wall-clock watchdog (owned
// by the session manager's context) each terminate runaway sessions
// without relying on any of the others firing first.

// StepLimit derives the per-session step ceiling. Each round costs two
// node executions (evaluate plus discussion), each sub-problem adds its
// fixed nodes (initial round, vote collection, synthesis, advance), and
// the configured overhead covers meta-synthesis and finalization.
func (c Config) StepLimit(subProblems int) int {
	perSubProblem := 2*c.AbsoluteRoundCap + 4
	return subProblems*perSubProblem + c.StepLimitOverhead
}

// checkRoundCap reports whether the round caps force a vote for the
// current sub-problem, and which cap fired.
func (c Config) checkRoundCap(round int) (deliberation.StopReason, bool) {
	if round >= c.AbsoluteRoundCap {
		return deliberation.StopAbsoluteCap, true
	}
	if round >= c.MaxRounds {
		return deliberation.StopMaxRounds, true
	}
	return "", false
}

// budgetExceeded reports whether total cost has reached the kill
// switch. No side effects; every node that is about to spend money
// consults it first.
func (e *Engine) budgetExceeded(state *deliberation.OrchestrationState) bool {
	return e.cfg.CostBudgetUSD > 0 && state.TotalCost >= e.cfg.CostBudgetUSD
}

// checkBudget reports whether the cost kill switch has fired, latching
// the first firing on the state so the warning and event go out once
// per session. When it fires, the engine stops buying new material
// (rounds, ballots, summaries) and synthesizes from what it has; only
// the synthesis calls themselves stay un-gated so an exhausted session
// still produces output.
func (e *Engine) checkBudget(state *deliberation.OrchestrationState) bool {
	if !e.budgetExceeded(state) {
		return false
	}
	if !state.BudgetExhausted {
		state.BudgetExhausted = true
		e.logger.Warn("cost budget exhausted, forcing early synthesis",
			"session_id", state.SessionID,
			"cost", state.TotalCost,
			"budget", e.cfg.CostBudgetUSD,
		)
		e.bus.Publish(event.NewBudgetExceededEvent(state.SessionID, state.TotalCost, e.cfg.CostBudgetUSD))
	}
	return true
}
