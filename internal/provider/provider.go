// Package provider defines the async contracts to the external
// collaborators that generate expert text and similarity scores. The
// orchestration engine only ever talks to these interfaces; the real
// LLM-backed implementations live outside this repository.
package provider

import (
	"context"
	"fmt"
)

// RoleKind classifies who is being asked to speak.
type RoleKind string

const (
	RoleFacilitator RoleKind = "facilitator"
	RolePersona     RoleKind = "persona"
	RoleModerator   RoleKind = "moderator"
	RoleSummarizer  RoleKind = "summarizer"
	RoleVoter       RoleKind = "voter"
	RoleSynthesizer RoleKind = "synthesizer"
	RoleResearcher  RoleKind = "researcher"
)

// Role identifies the voice for a contribution call. Qualified roles
// (persona, moderator, voter) carry the persona code or moderator
// variant in Qualifier.
type Role struct {
	Kind      RoleKind
	Qualifier string
}

// String renders the wire form of the role, e.g. "persona:maria".
func (r Role) String() string {
	if r.Qualifier == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s:%s", r.Kind, r.Qualifier)
}

// Facilitator returns the facilitator role.
func Facilitator() Role { return Role{Kind: RoleFacilitator} }

// Persona returns the role for a named panel persona.
func Persona(code string) Role { return Role{Kind: RolePersona, Qualifier: code} }

// Moderator returns the role for a moderator variant (contrarian,
// skeptic, optimist).
func Moderator(variant string) Role { return Role{Kind: RoleModerator, Qualifier: variant} }

// Summarizer returns the expert-memory summarizer role.
func Summarizer() Role { return Role{Kind: RoleSummarizer} }

// Voter returns the voting role for a named persona.
func Voter(code string) Role { return Role{Kind: RoleVoter, Qualifier: code} }

// Synthesizer returns the synthesis role.
func Synthesizer() Role { return Role{Kind: RoleSynthesizer} }

// Researcher returns the external research collaborator role.
func Researcher() Role { return Role{Kind: RoleResearcher} }

// Request carries everything a contribution call needs.
type Request struct {
	Role Role
	// Context is the free-form prompt context: state summary for the
	// facilitator, goal and discussion so far for personas.
	Context string
	// PriorMemory is the expert-memory summary injected when the same
	// persona deliberated an earlier sub-problem. When set, the provider
	// must instruct the persona that inconsistent positions need to be
	// justified.
	PriorMemory string
	// Instruction is an optional steering hint (e.g. a drift redirect).
	Instruction string
}

// TokenUsage reports token consumption for a single call.
type TokenUsage struct {
	Input  int64
	Output int64
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int64 { return u.Input + u.Output }

// Result is the outcome of a contribution call. Cancelled or partial
// calls must report zero cost unless the provider explicitly billed them.
type Result struct {
	Text  string
	Usage TokenUsage
	Cost  float64
}

// ContributionProvider generates expert text for a role. Implementations
// must honor context cancellation and report cost on partial completion
// as zero unless explicitly billed.
type ContributionProvider interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// ScoringProvider returns a similarity/relevance score in [0,1] for two
// pieces of text. The underlying algorithm (embedding model, distance
// metric) is unspecified here; only the contract is binding.
type ScoringProvider interface {
	Score(ctx context.Context, textA, textB string) (float64, error)
}
