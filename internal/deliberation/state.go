package deliberation

import (
	"fmt"
	"time"
)

// OrchestrationState is the full mutable state of one deliberation
// session. It is owned exclusively by the session's execution goroutine;
// no other component mutates it directly. The whole struct is
// JSON-serializable so it can be checkpointed after every node.
type OrchestrationState struct {
	SessionID string  `json:"session_id"`
	OwnerID   string  `json:"owner_id"`
	Problem   Problem `json:"problem"`

	Phase      Phase      `json:"phase"`
	StopReason StopReason `json:"stop_reason,omitempty"`
	// FailureReason is the human-readable cause recorded on any terminal
	// or degraded condition. Nothing fails without a surfaced cause.
	FailureReason string `json:"failure_reason,omitempty"`

	SubProblemIndex int `json:"sub_problem_index"`
	Round           int `json:"round"`
	MaxRounds       int `json:"max_rounds"`
	Steps           int `json:"steps"`

	Contributions []Contribution     `json:"contributions,omitempty"`
	Votes         []Vote             `json:"votes,omitempty"`
	Metrics       ConvergenceMetrics `json:"metrics"`
	// RedirectHint biases the next facilitator call back toward the
	// sub-problem goal after drift is detected. Input hint, never a hard
	// override.
	RedirectHint string `json:"redirect_hint,omitempty"`

	// Synthesis holds the current sub-problem's synthesis text between
	// the synthesize node and the advance node.
	Synthesis string `json:"synthesis,omitempty"`
	// FinalSynthesis is the session's final output: the meta-synthesis,
	// or the lone sub-problem's synthesis when there is only one.
	FinalSynthesis string `json:"final_synthesis,omitempty"`

	Results []SubProblemResult `json:"results"`

	TotalCost   float64 `json:"total_cost"`
	TotalTokens int64   `json:"total_tokens"`

	// BudgetExhausted latches the cost kill switch. It survives the
	// per-sub-problem reset on advance, so once spending stops it stays
	// stopped for the rest of the session.
	BudgetExhausted bool `json:"budget_exhausted,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// SubProblemStartedAt feeds the Duration field of the next result.
	SubProblemStartedAt time.Time `json:"sub_problem_started_at"`
}

// NewState initializes orchestration state for a validated problem.
func NewState(sessionID, ownerID string, problem Problem, maxRounds int) *OrchestrationState {
	now := time.Now()
	return &OrchestrationState{
		SessionID:           sessionID,
		OwnerID:             ownerID,
		Problem:             problem,
		Phase:               PhaseDecomposing,
		Round:               1,
		MaxRounds:           maxRounds,
		Results:             make([]SubProblemResult, 0, len(problem.SubProblems)),
		StartedAt:           now,
		UpdatedAt:           now,
		SubProblemStartedAt: now,
	}
}

// CurrentSubProblem returns the sub-problem under deliberation, or false
// when the iterator has advanced past the last one.
func (s *OrchestrationState) CurrentSubProblem() (SubProblem, bool) {
	if s.SubProblemIndex < 0 || s.SubProblemIndex >= len(s.Problem.SubProblems) {
		return SubProblem{}, false
	}
	return s.Problem.SubProblems[s.SubProblemIndex], true
}

// HasContribution reports whether a contribution already exists for the
// given round and speaker. Node execution is at-least-once; this check is
// what keeps a re-run node from double-charging cost.
func (s *OrchestrationState) HasContribution(round int, speaker string) bool {
	for _, c := range s.Contributions {
		if c.Round == round && c.Speaker == speaker {
			return true
		}
	}
	return false
}

// AddContribution appends a contribution and accumulates its cost and
// token usage. The only place session totals grow from contributions.
func (s *OrchestrationState) AddContribution(c Contribution) {
	s.Contributions = append(s.Contributions, c)
	s.TotalCost += c.Cost
	s.TotalTokens += c.InputTokens + c.OutputTokens
	s.UpdatedAt = time.Now()
}

// HasVote reports whether the persona has already voted on the current
// sub-problem.
func (s *OrchestrationState) HasVote(personaCode string) bool {
	for _, v := range s.Votes {
		if v.PersonaCode == personaCode {
			return true
		}
	}
	return false
}

// AddVote records a vote and accumulates its cost.
func (s *OrchestrationState) AddVote(v Vote) {
	s.Votes = append(s.Votes, v)
	s.TotalCost += v.Cost
	s.UpdatedAt = time.Now()
}

// AddCost accumulates provider cost not tied to a contribution or vote
// (synthesis and summarizer calls).
func (s *OrchestrationState) AddCost(cost float64, tokens int64) {
	s.TotalCost += cost
	s.TotalTokens += tokens
	s.UpdatedAt = time.Now()
}

// ExpertMemory scans completed results newest-first for a memory summary
// belonging to the given persona. Returns the summary and true when one
// exists; most recent match wins.
func (s *OrchestrationState) ExpertMemory(personaCode string) (string, bool) {
	for i := len(s.Results) - 1; i >= 0; i-- {
		if summary, ok := s.Results[i].ExpertSummaries[personaCode]; ok {
			return summary, true
		}
	}
	return "", false
}

// Fail transitions the session to the failed terminal phase with a
// recorded reason.
func (s *OrchestrationState) Fail(reason StopReason, cause string) {
	s.Phase = PhaseFailed
	s.StopReason = reason
	s.FailureReason = cause
	s.UpdatedAt = time.Now()
}

// Clone returns a deep copy suitable for checkpointing while the
// execution goroutine keeps mutating the original.
func (s *OrchestrationState) Clone() *OrchestrationState {
	clone := *s

	clone.Problem.SubProblems = make([]SubProblem, len(s.Problem.SubProblems))
	copy(clone.Problem.SubProblems, s.Problem.SubProblems)
	for i, sp := range s.Problem.SubProblems {
		clone.Problem.SubProblems[i].DependsOn = append([]string(nil), sp.DependsOn...)
		clone.Problem.SubProblems[i].Panel = append([]string(nil), sp.Panel...)
	}

	clone.Contributions = append([]Contribution(nil), s.Contributions...)

	clone.Votes = make([]Vote, len(s.Votes))
	for i, v := range s.Votes {
		clone.Votes[i] = v
		clone.Votes[i].Conditions = append([]string(nil), v.Conditions...)
	}

	clone.Results = make([]SubProblemResult, len(s.Results))
	for i, r := range s.Results {
		clone.Results[i] = r
		clone.Results[i].Panel = append([]string(nil), r.Panel...)
		clone.Results[i].Votes = make([]Vote, len(r.Votes))
		for j, v := range r.Votes {
			clone.Results[i].Votes[j] = v
			clone.Results[i].Votes[j].Conditions = append([]string(nil), v.Conditions...)
		}
		if r.ExpertSummaries != nil {
			clone.Results[i].ExpertSummaries = make(map[string]string, len(r.ExpertSummaries))
			for k, val := range r.ExpertSummaries {
				clone.Results[i].ExpertSummaries[k] = val
			}
		}
	}

	return &clone
}

// Validate checks the structural invariants that must hold for any state
// loaded from a checkpoint. A violation means the snapshot is corrupt.
func (s *OrchestrationState) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("state has no session id")
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if s.SubProblemIndex < 0 || s.SubProblemIndex > len(s.Problem.SubProblems) {
		return fmt.Errorf("sub-problem index %d out of range [0,%d]", s.SubProblemIndex, len(s.Problem.SubProblems))
	}
	if len(s.Results) != s.SubProblemIndex {
		return fmt.Errorf("results length %d != sub-problem index %d", len(s.Results), s.SubProblemIndex)
	}
	if s.Round < 1 && !s.Phase.Terminal() {
		return fmt.Errorf("round %d below 1", s.Round)
	}
	if s.Steps < 0 {
		return fmt.Errorf("negative step counter %d", s.Steps)
	}
	if s.TotalCost < 0 {
		return fmt.Errorf("negative total cost %f", s.TotalCost)
	}
	return nil
}
