// Package deliberation defines the domain model for quorum sessions: the
// decomposed problem, per-round contributions, facilitator decisions,
// votes, per-sub-problem results, and the orchestration state that the
// engine threads through the workflow graph.
package deliberation

import (
	"fmt"
	"time"
)

// Phase represents the lifecycle phase of a deliberation session.
type Phase string

const (
	// PhaseDecomposing is the intake phase before deliberation begins.
	PhaseDecomposing Phase = "decomposing"
	// PhaseDeliberating is the discussion-round loop.
	PhaseDeliberating Phase = "deliberating"
	// PhaseVoting collects one vote per panel persona.
	PhaseVoting Phase = "voting"
	// PhaseSynthesizing produces the sub-problem or meta synthesis.
	PhaseSynthesizing Phase = "synthesizing"
	// PhaseComplete is the only non-error terminal phase.
	PhaseComplete Phase = "complete"
	// PhaseKilled is the terminal phase after an authorized kill.
	PhaseKilled Phase = "killed"
	// PhaseTimeout is the terminal phase after the wall-clock watchdog fires.
	PhaseTimeout Phase = "timeout"
	// PhaseFailed is the terminal phase after an unrecoverable error.
	PhaseFailed Phase = "failed"
)

// Terminal reports whether the phase is absorbing.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseKilled, PhaseTimeout, PhaseFailed:
		return true
	}
	return false
}

// Valid reports whether the phase is one of the defined constants.
func (p Phase) Valid() bool {
	switch p {
	case PhaseDecomposing, PhaseDeliberating, PhaseVoting, PhaseSynthesizing,
		PhaseComplete, PhaseKilled, PhaseTimeout, PhaseFailed:
		return true
	}
	return false
}

// StopReason records why deliberation on a sub-problem (or the whole
// session) stopped early. Empty means normal flow.
type StopReason string

const (
	StopConverged         StopReason = "converged"
	StopMaxRounds         StopReason = "max_rounds_reached"
	StopAbsoluteCap       StopReason = "absolute_cap_reached"
	StopBudgetExhausted   StopReason = "budget_exhausted"
	StopStepLimit         StopReason = "step_limit_exceeded"
	StopWallClock         StopReason = "wall_clock_timeout"
	StopKilled            StopReason = "killed"
	StopProviderFailure   StopReason = "provider_failure"
	StopCheckpointFailure StopReason = "checkpoint_failure"
)

// Problem is the immutable description of what the session deliberates,
// produced once by decomposition intake.
type Problem struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	Context     string       `json:"context,omitempty"`
	SubProblems []SubProblem `json:"sub_problems"`
}

// SubProblem is one decomposed unit of the overall problem.
// Immutable once decomposition completes.
type SubProblem struct {
	ID         string   `json:"id"`
	Goal       string   `json:"goal"`
	Context    string   `json:"context,omitempty"`
	Complexity int      `json:"complexity"` // 1-10
	DependsOn  []string `json:"depends_on,omitempty"`
	// Panel is the ordered list of persona codes deliberating this
	// sub-problem. Empty means the session manager selects one from the
	// catalog before the session starts. Panel order determines merge
	// order for the initial round fan-out.
	Panel []string `json:"panel"`
}

// Validate checks a problem for structural soundness before a session is
// started from it.
func (p *Problem) Validate() error {
	if p.Description == "" {
		return fmt.Errorf("problem description is empty")
	}
	if len(p.SubProblems) == 0 {
		return fmt.Errorf("problem has no sub-problems")
	}
	seen := make(map[string]bool, len(p.SubProblems))
	for i, sp := range p.SubProblems {
		if sp.ID == "" {
			return fmt.Errorf("sub-problem %d has no id", i)
		}
		if seen[sp.ID] {
			return fmt.Errorf("duplicate sub-problem id %q", sp.ID)
		}
		seen[sp.ID] = true
		if sp.Goal == "" {
			return fmt.Errorf("sub-problem %q has no goal", sp.ID)
		}
		if sp.Complexity < 1 || sp.Complexity > 10 {
			return fmt.Errorf("sub-problem %q complexity %d out of range 1-10", sp.ID, sp.Complexity)
		}
	}
	for _, sp := range p.SubProblems {
		for _, dep := range sp.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("sub-problem %q depends on unknown id %q", sp.ID, dep)
			}
		}
	}
	return nil
}

// ContributionKind classifies a contribution within a round sequence.
type ContributionKind string

const (
	KindInitial     ContributionKind = "initial"
	KindResponse    ContributionKind = "response"
	KindModerator   ContributionKind = "moderator"
	KindFacilitator ContributionKind = "facilitator"
	KindResearch    ContributionKind = "research"
)

// Contribution is a single utterance in a sub-problem's round sequence.
// Contributions are append-only within a sub-problem and are preserved in
// the SubProblemResult before being cleared on advance.
type Contribution struct {
	Round        int              `json:"round"`
	Speaker      string           `json:"speaker"` // persona code, "facilitator", "moderator:<variant>", "researcher"
	Kind         ContributionKind `json:"kind"`
	Content      string           `json:"content"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	Cost         float64          `json:"cost"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Action is the facilitator's routing decision for the next step.
// It is a closed set; routing switches over it exhaustively.
type Action string

const (
	ActionContinue Action = "continue"
	ActionVote     Action = "vote"
	ActionModerate Action = "moderate"
	ActionResearch Action = "research"
)

// ParseAction validates a raw action string against the closed set.
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionContinue, ActionVote, ActionModerate, ActionResearch:
		return Action(raw), nil
	}
	return "", fmt.Errorf("unknown facilitator action %q", raw)
}

// ModeratorVariant selects the flavor of moderator intervention.
type ModeratorVariant string

const (
	ModeratorContrarian ModeratorVariant = "contrarian"
	ModeratorSkeptic    ModeratorVariant = "skeptic"
	ModeratorOptimist   ModeratorVariant = "optimist"
)

// FacilitatorDecision is the routing decision recomputed every round.
// It is superseded immediately and not retained beyond audit logging.
type FacilitatorDecision struct {
	Action    Action           `json:"action"`
	Target    string           `json:"target,omitempty"`  // persona code when Action == continue
	Variant   ModeratorVariant `json:"variant,omitempty"` // when Action == moderate
	Rationale string           `json:"rationale,omitempty"`
}

// ConvergenceMetrics are the normalized [0,1] measures recomputed after
// each round.
type ConvergenceMetrics struct {
	Convergence float64 `json:"convergence"`
	Novelty     float64 `json:"novelty"`
	Conflict    float64 `json:"conflict"`
	Drift       float64 `json:"drift"`
}

// VoteDecision is a persona's stance on the sub-problem synthesis.
type VoteDecision string

const (
	VoteYes         VoteDecision = "yes"
	VoteNo          VoteDecision = "no"
	VoteAbstain     VoteDecision = "abstain"
	VoteConditional VoteDecision = "conditional"
)

// ParseVoteDecision validates a raw vote decision string.
func ParseVoteDecision(raw string) (VoteDecision, error) {
	switch VoteDecision(raw) {
	case VoteYes, VoteNo, VoteAbstain, VoteConditional:
		return VoteDecision(raw), nil
	}
	return "", fmt.Errorf("unknown vote decision %q", raw)
}

// Vote is one persona's vote, collected once per sub-problem.
type Vote struct {
	PersonaCode string       `json:"persona_code"`
	Decision    VoteDecision `json:"decision"`
	Confidence  float64      `json:"confidence"` // [0,1]
	Reasoning   string       `json:"reasoning,omitempty"`
	Conditions  []string     `json:"conditions,omitempty"`
	Cost        float64      `json:"cost"`
}

// SubProblemResult is the authoritative, immutable record of a completed
// sub-problem, consumed by meta-synthesis and by expert memory injection
// in later sub-problems.
type SubProblemResult struct {
	SubProblemID      string        `json:"sub_problem_id"`
	Goal              string        `json:"goal"`
	Synthesis         string        `json:"synthesis"`
	Votes             []Vote        `json:"votes"`
	ContributionCount int           `json:"contribution_count"`
	Cost              float64       `json:"cost"`
	Duration          time.Duration `json:"duration"`
	Panel             []string      `json:"panel"`
	// ExpertSummaries maps persona code to a short memory summary of that
	// persona's contributions, injected into the same persona's calls in
	// later sub-problems.
	ExpertSummaries map[string]string `json:"expert_summaries,omitempty"`
}
