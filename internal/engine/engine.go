// Package engine executes deliberation sessions as a fixed workflow
// graph over orchestration state. The engine owns routing, convergence
// evaluation, the safety guard layers, and synthesis; everything that
// generates text or scores lives behind the provider interfaces.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quorumhq/quorum/internal/checkpoint"
	"github.com/quorumhq/quorum/internal/config"
	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/event"
	"github.com/quorumhq/quorum/internal/logging"
	"github.com/quorumhq/quorum/internal/provider"
)

// Config carries the engine's session limits and tuning thresholds.
type Config struct {
	// MaxRounds is the facilitator's round budget per sub-problem; when a
	// sub-problem reaches it a vote is forced.
	MaxRounds int
	// AbsoluteRoundCap is the hard per-sub-problem ceiling no decision
	// can exceed.
	AbsoluteRoundCap int
	// StepLimitOverhead is slack added to the derived step ceiling.
	StepLimitOverhead int
	// CostBudgetUSD forces early synthesis when total cost crosses it.
	// Zero disables the budget.
	CostBudgetUSD float64

	Tuning Tuning

	// CallTimeout bounds each individual provider call.
	CallTimeout time.Duration
}

// Tuning holds the hot-reloadable convergence thresholds.
type Tuning struct {
	ConvergenceThreshold float64
	NoveltyFloor         float64
	DriftFloor           float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return ConfigFrom(config.Default())
}

// ConfigFrom maps application configuration onto engine limits.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxRounds:         cfg.Session.MaxRounds,
		AbsoluteRoundCap:  cfg.Session.AbsoluteRoundCap,
		StepLimitOverhead: cfg.Session.StepLimitOverhead,
		CostBudgetUSD:     cfg.Session.CostBudgetUSD,
		Tuning: Tuning{
			ConvergenceThreshold: cfg.Tuning.ConvergenceThreshold,
			NoveltyFloor:         cfg.Tuning.NoveltyFloor,
			DriftFloor:           cfg.Tuning.DriftFloor,
		},
		CallTimeout: cfg.Tuning.CallTimeout(),
	}
}

// Engine wires providers, persistence, and the event bus into runnable
// sessions. One Engine serves many concurrent runners.
type Engine struct {
	cfg     Config
	graph   *Graph
	contrib provider.ContributionProvider
	scorer  provider.ScoringProvider
	store   checkpoint.Store
	bus     *event.Bus
	logger  *logging.Logger

	tuningMu sync.RWMutex
	tuning   Tuning
}

// New creates an engine. The workflow graph is validated during
// construction; an invalid topology is unreachable in practice but
// would surface here, not mid-session.
func New(cfg Config, contrib provider.ContributionProvider, scorer provider.ScoringProvider, store checkpoint.Store, bus *event.Bus, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if bus == nil {
		bus = event.NewBus()
	}
	return &Engine{
		cfg:     cfg,
		graph:   WorkflowGraph(),
		contrib: contrib,
		scorer:  scorer,
		store:   store,
		bus:     bus,
		logger:  logger,
		tuning:  cfg.Tuning,
	}
}

// SetTuning swaps the convergence thresholds. Running sessions pick the
// new values up at their next evaluate node.
func (e *Engine) SetTuning(t Tuning) {
	e.tuningMu.Lock()
	e.tuning = t
	e.tuningMu.Unlock()
	e.logger.Info("tuning updated",
		"convergence_threshold", t.ConvergenceThreshold,
		"novelty_floor", t.NoveltyFloor,
		"drift_floor", t.DriftFloor,
	)
}

// currentTuning returns a snapshot of the thresholds.
func (e *Engine) currentTuning() Tuning {
	e.tuningMu.RLock()
	defer e.tuningMu.RUnlock()
	return e.tuning
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Store returns the engine's checkpoint store.
func (e *Engine) Store() checkpoint.Store { return e.store }

// -----------------------------------------------------------------------------
// Prompt context assembly
// -----------------------------------------------------------------------------

// subProblemContext renders the context block shared by persona,
// moderator, and facilitator calls for the current sub-problem.
func subProblemContext(state *deliberation.OrchestrationState, sp deliberation.SubProblem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Problem: %s\n", state.Problem.Description)
	fmt.Fprintf(&sb, "Sub-problem (%d of %d): %s\n", state.SubProblemIndex+1, len(state.Problem.SubProblems), sp.Goal)
	if sp.Context != "" {
		fmt.Fprintf(&sb, "Context: %s\n", sp.Context)
	}
	if len(state.Contributions) > 0 {
		sb.WriteString("\nDiscussion so far:\n")
		for _, c := range state.Contributions {
			if c.Kind == deliberation.KindFacilitator {
				continue
			}
			fmt.Fprintf(&sb, "[round %d] %s: %s\n", c.Round, c.Speaker, c.Content)
		}
	}
	return sb.String()
}

// facilitatorContext extends the shared context with the routing
// instruction and current metrics.
func facilitatorContext(state *deliberation.OrchestrationState, sp deliberation.SubProblem, maxRounds int) string {
	var sb strings.Builder
	sb.WriteString(subProblemContext(state, sp))
	fmt.Fprintf(&sb, "\nRound %d of %d.\n", state.Round, maxRounds)
	fmt.Fprintf(&sb, "Convergence %.2f, novelty %.2f, drift %.2f.\n",
		state.Metrics.Convergence, state.Metrics.Novelty, state.Metrics.Drift)
	sb.WriteString(`Respond with JSON: {"action":"continue|vote|moderate|research","target":"<persona code, for continue>","variant":"contrarian|skeptic|optimist, for moderate","rationale":"..."}`)
	return sb.String()
}

// synthesisContext renders the material for a sub-problem synthesis.
func synthesisContext(state *deliberation.OrchestrationState, sp deliberation.SubProblem) string {
	var sb strings.Builder
	sb.WriteString(subProblemContext(state, sp))
	if len(state.Votes) > 0 {
		sb.WriteString("\nVotes:\n")
		for _, v := range state.Votes {
			fmt.Fprintf(&sb, "%s: %s (confidence %.2f) %s\n", v.PersonaCode, v.Decision, v.Confidence, v.Reasoning)
			for _, cond := range v.Conditions {
				fmt.Fprintf(&sb, "  condition: %s\n", cond)
			}
		}
	}
	sb.WriteString("\nSynthesize the panel's conclusion for this sub-problem.")
	return sb.String()
}

// metaSynthesisContext renders all completed sub-problem results for the
// final combined synthesis.
func metaSynthesisContext(state *deliberation.OrchestrationState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Problem: %s\n\n", state.Problem.Description)
	for i, r := range state.Results {
		fmt.Fprintf(&sb, "Sub-problem %d: %s\nConclusion: %s\n\n", i+1, r.Goal, r.Synthesis)
	}
	sb.WriteString("Combine the sub-problem conclusions into one coherent answer to the overall problem.")
	return sb.String()
}
