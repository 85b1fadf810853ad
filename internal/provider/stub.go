package provider

import (
	"context"
	"fmt"
	"strings"
)

// StubProvider is a deterministic, zero-cost ContributionProvider used by
// the CLI's dry-run mode. It lets a full session execute end to end
// without reaching any external collaborator: the facilitator calls a
// vote after each panel has spoken once, personas echo canned positions,
// and voters approve.
type StubProvider struct{}

// NewStubProvider returns a dry-run contribution provider.
func NewStubProvider() *StubProvider { return &StubProvider{} }

// Invoke implements ContributionProvider.
func (p *StubProvider) Invoke(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var text string
	switch req.Role.Kind {
	case RoleFacilitator:
		text = `{"action":"vote","rationale":"dry run: panel has spoken"}`
	case RoleVoter:
		text = `{"decision":"yes","confidence":0.8,"reasoning":"dry run approval"}`
	case RolePersona:
		text = fmt.Sprintf("[dry run] %s's position on: %s", req.Role.Qualifier, firstLine(req.Context))
		if req.PriorMemory != "" {
			text += " (consistent with prior analysis)"
		}
	case RoleModerator:
		text = fmt.Sprintf("[dry run] %s challenge", req.Role.Qualifier)
	case RoleSummarizer:
		text = "dry run summary: position held, no evidence, moderate confidence"
	case RoleSynthesizer:
		text = "[dry run] synthesis of the discussion above"
	case RoleResearcher:
		text = "[dry run] research findings"
	default:
		return Result{}, fmt.Errorf("stub: unknown role kind %q", req.Role.Kind)
	}

	return Result{
		Text:  text,
		Usage: TokenUsage{Input: int64(len(req.Context) / 4), Output: int64(len(text) / 4)},
	}, nil
}

// firstLine truncates context for readable dry-run output.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

// StubScorer is a deterministic ScoringProvider for dry runs and tests.
// It scores by word overlap, which is crude but monotonic enough to
// exercise the convergence engine.
type StubScorer struct{}

// NewStubScorer returns a dry-run scoring provider.
func NewStubScorer() *StubScorer { return &StubScorer{} }

// Score implements ScoringProvider with a Jaccard word overlap.
func (s *StubScorer) Score(ctx context.Context, textA, textB string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	wordsA := wordSet(textA)
	wordsB := wordSet(textB)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0, nil
	}

	var intersection int
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	return float64(intersection) / float64(union), nil
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(w, ".,;:!?\"'()[]")] = true
	}
	delete(set, "")
	return set
}
