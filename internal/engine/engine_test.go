package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quorumhq/quorum/internal/checkpoint"
	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/errors"
	"github.com/quorumhq/quorum/internal/event"
	"github.com/quorumhq/quorum/internal/provider"
)

// scriptedProvider answers every role deterministically. The
// facilitator pops actions from a queue and votes once it runs dry, so
// a test controls exactly how many discussion rounds happen.
type scriptedProvider struct {
	mu          sync.Mutex
	actions     []string // facilitator action queue
	costPerCall float64
	requests    []provider.Request
	calls       map[string]int // role string -> count
}

func newScriptedProvider(actions ...string) *scriptedProvider {
	return &scriptedProvider{actions: actions, calls: make(map[string]int)}
}

func (f *scriptedProvider) Invoke(ctx context.Context, req provider.Request) (provider.Result, error) {
	if err := ctx.Err(); err != nil {
		return provider.Result{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.calls[req.Role.String()]++

	var text string
	switch req.Role.Kind {
	case provider.RoleFacilitator:
		action := "vote"
		if len(f.actions) > 0 {
			action = f.actions[0]
			f.actions = f.actions[1:]
		}
		text = fmt.Sprintf(`{"action":%q,"rationale":"scripted"}`, action)
	case provider.RoleVoter:
		text = `{"decision":"yes","confidence":0.8,"reasoning":"scripted approval"}`
	case provider.RolePersona:
		text = fmt.Sprintf("%s position call %d", req.Role.Qualifier, f.calls[req.Role.String()])
	case provider.RoleModerator:
		text = fmt.Sprintf("%s challenge", req.Role.Qualifier)
	case provider.RoleSummarizer:
		text = "summary: " + summarizedPersona(req.Context)
	case provider.RoleSynthesizer:
		text = "synthesis of the discussion"
	case provider.RoleResearcher:
		text = "research findings"
	}

	return provider.Result{Text: text, Cost: f.costPerCall}, nil
}

// summarizedPersona recovers which persona a summarizer call is about.
func summarizedPersona(context string) string {
	for _, line := range strings.Split(context, "\n") {
		if i := strings.Index(line, "'s contributions:"); i > 0 {
			return line[:i]
		}
	}
	return "unknown"
}

func (f *scriptedProvider) requestsFor(role string) []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []provider.Request
	for _, r := range f.requests {
		if r.Role.String() == role {
			out = append(out, r)
		}
	}
	return out
}

// fixedScorer returns one similarity for everything except goal
// relevance, which it keeps high so drift never fires by accident.
type fixedScorer struct{ similarity float64 }

func (s fixedScorer) Score(ctx context.Context, a, b string) (float64, error) {
	return s.similarity, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRounds = 3
	cfg.AbsoluteRoundCap = 6
	cfg.CallTimeout = 5 * time.Second
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, p provider.ContributionProvider, s provider.ScoringProvider) *Engine {
	t.Helper()
	store, err := checkpoint.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, p, s, store, event.NewBus(), nil)
}

func singleSubProblem() deliberation.Problem {
	return deliberation.Problem{
		ID:          "p1",
		Description: "migrate the billing system",
		SubProblems: []deliberation.SubProblem{
			{ID: "sp1", Goal: "choose a data model", Complexity: 5, Panel: []string{"maria", "ahmed"}},
		},
	}
}

func threeSubProblems() deliberation.Problem {
	return deliberation.Problem{
		ID:          "p1",
		Description: "migrate the billing system",
		SubProblems: []deliberation.SubProblem{
			{ID: "sp1", Goal: "choose a data model", Complexity: 5, Panel: []string{"maria", "ahmed"}},
			{ID: "sp2", Goal: "plan the cutover", Complexity: 6, Panel: []string{"ahmed", "li"}},
			{ID: "sp3", Goal: "design rollback", Complexity: 4, Panel: []string{"maria", "li"}},
		},
	}
}

func TestRunCompletesSingleSubProblem(t *testing.T) {
	p := newScriptedProvider("continue", "continue")
	e := newTestEngine(t, testConfig(), p, fixedScorer{similarity: 0.1})

	state := deliberation.NewState("s1", "owner", singleSubProblem(), 3)
	r := e.NewRunner(state)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if state.Phase != deliberation.PhaseComplete {
		t.Errorf("Phase = %s, want complete", state.Phase)
	}
	if len(state.Results) != 1 {
		t.Fatalf("Results = %d, want 1", len(state.Results))
	}
	if state.Results[0].Synthesis != "synthesis of the discussion" {
		t.Errorf("Synthesis = %q", state.Results[0].Synthesis)
	}
	// A single sub-problem skips meta-synthesis: the final output is the
	// lone synthesis verbatim.
	if state.FinalSynthesis != state.Results[0].Synthesis {
		t.Errorf("FinalSynthesis = %q, want the lone synthesis", state.FinalSynthesis)
	}
	if got := len(state.Results[0].Votes); got != 2 {
		t.Errorf("votes = %d, want one per panelist", got)
	}
}

func TestRunMetaSynthesizesMultipleSubProblems(t *testing.T) {
	p := newScriptedProvider() // facilitator votes immediately every round
	e := newTestEngine(t, testConfig(), p, fixedScorer{similarity: 0.1})

	state := deliberation.NewState("s1", "owner", threeSubProblems(), 3)
	r := e.NewRunner(state)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(state.Results) != 3 {
		t.Fatalf("Results = %d, want 3", len(state.Results))
	}
	if state.FinalSynthesis != "synthesis of the discussion" {
		t.Errorf("FinalSynthesis = %q, want the meta-synthesis output", state.FinalSynthesis)
	}
	if p.calls["synthesizer"] != 4 {
		t.Errorf("synthesizer calls = %d, want 3 sub-problem + 1 meta", p.calls["synthesizer"])
	}
}

func TestMaxRoundsForcesVote(t *testing.T) {
	// The facilitator would continue forever; the round budget must cut
	// it off after MaxRounds.
	actions := make([]string, 50)
	for i := range actions {
		actions[i] = "continue"
	}
	p := newScriptedProvider(actions...)

	cfg := testConfig()
	cfg.MaxRounds = 3
	e := newTestEngine(t, cfg, p, fixedScorer{similarity: 0.1})

	state := deliberation.NewState("s1", "owner", singleSubProblem(), 3)
	if err := e.NewRunner(state).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if state.Phase != deliberation.PhaseComplete {
		t.Fatalf("Phase = %s, want complete", state.Phase)
	}
	// Rounds 1 and 2 get facilitator decisions; round 3 hits the cap
	// before the facilitator is consulted.
	if p.calls["facilitator"] != 2 {
		t.Errorf("facilitator calls = %d, want 2", p.calls["facilitator"])
	}
	if len(state.Results[0].Votes) != 2 {
		t.Errorf("votes = %d, want 2 despite forced stop", len(state.Results[0].Votes))
	}
}

func TestConvergenceEarlyStop(t *testing.T) {
	actions := make([]string, 50)
	for i := range actions {
		actions[i] = "continue"
	}
	p := newScriptedProvider(actions...)

	cfg := testConfig()
	cfg.MaxRounds = 20
	cfg.AbsoluteRoundCap = 30
	// High similarity: converged positions and low novelty from round 2 on.
	e := newTestEngine(t, cfg, p, fixedScorer{similarity: 0.95})

	var converged bool
	e.Bus().Subscribe("convergence.evaluated", func(ev event.Event) {
		if ce, ok := ev.(event.ConvergenceEvent); ok && ce.EarlyStop {
			converged = true
		}
	})

	state := deliberation.NewState("s1", "owner", singleSubProblem(), 20)
	if err := e.NewRunner(state).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !converged {
		t.Error("expected an early-stop convergence event")
	}
	// Round 1 cannot early-stop (novelty has no prior text to compare);
	// round 2 should.
	if p.calls["facilitator"] != 1 {
		t.Errorf("facilitator calls = %d, want 1", p.calls["facilitator"])
	}
}

func TestExpertMemoryCarriesAcrossSubProblems(t *testing.T) {
	p := newScriptedProvider()
	e := newTestEngine(t, testConfig(), p, fixedScorer{similarity: 0.1})

	state := deliberation.NewState("s1", "owner", threeSubProblems(), 3)
	if err := e.NewRunner(state).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// maria sits on panels 1 and 3. Her sub-problem 3 call must carry
	// the memory summarized from sub-problem 1.
	mariaCalls := p.requestsFor("persona:maria")
	if len(mariaCalls) != 2 {
		t.Fatalf("maria persona calls = %d, want 2", len(mariaCalls))
	}
	if mariaCalls[0].PriorMemory != "" {
		t.Errorf("first maria call PriorMemory = %q, want empty", mariaCalls[0].PriorMemory)
	}
	if mariaCalls[1].PriorMemory != "summary: maria" {
		t.Errorf("second maria call PriorMemory = %q, want maria's summary", mariaCalls[1].PriorMemory)
	}

	// ahmed sits on panels 1 and 2; the panel-2 call must carry the
	// most recent summary, which is from panel 1.
	ahmedCalls := p.requestsFor("persona:ahmed")
	if len(ahmedCalls) != 2 {
		t.Fatalf("ahmed persona calls = %d, want 2", len(ahmedCalls))
	}
	if ahmedCalls[1].PriorMemory != "summary: ahmed" {
		t.Errorf("second ahmed call PriorMemory = %q", ahmedCalls[1].PriorMemory)
	}
}

func TestBudgetForcesEarlySynthesis(t *testing.T) {
	actions := make([]string, 50)
	for i := range actions {
		actions[i] = "continue"
	}
	p := newScriptedProvider(actions...)
	p.costPerCall = 1.0

	cfg := testConfig()
	cfg.MaxRounds = 20
	cfg.AbsoluteRoundCap = 30
	cfg.CostBudgetUSD = 2.0
	e := newTestEngine(t, cfg, p, fixedScorer{similarity: 0.1})

	var budgetFired bool
	e.Bus().Subscribe("budget.exceeded", func(ev event.Event) { budgetFired = true })

	state := deliberation.NewState("s1", "owner", singleSubProblem(), 20)
	if err := e.NewRunner(state).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !budgetFired {
		t.Error("expected budget.exceeded event")
	}
	// The kill switch forces synthesis from material so far instead of
	// aborting: the session still completes with a result.
	if state.Phase != deliberation.PhaseComplete {
		t.Errorf("Phase = %s, want complete", state.Phase)
	}
	if len(state.Results) != 1 || state.Results[0].Synthesis == "" {
		t.Error("expected a synthesized result despite budget exhaustion")
	}
}

func TestBudgetHaltsSpendAcrossSubProblems(t *testing.T) {
	p := newScriptedProvider()
	p.costPerCall = 1.0

	cfg := testConfig()
	cfg.CostBudgetUSD = 1.5
	e := newTestEngine(t, cfg, p, fixedScorer{similarity: 0.1})

	var budgetEvents int
	e.Bus().Subscribe("budget.exceeded", func(ev event.Event) { budgetEvents++ })

	state := deliberation.NewState("s1", "owner", threeSubProblems(), 3)
	if err := e.NewRunner(state).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if state.Phase != deliberation.PhaseComplete {
		t.Fatalf("Phase = %s, want complete", state.Phase)
	}
	if len(state.Results) != 3 {
		t.Fatalf("Results = %d, want 3", len(state.Results))
	}
	if state.FinalSynthesis == "" {
		t.Error("expected a final synthesis despite budget exhaustion")
	}

	// The first sub-problem's fan-out blows the budget; after that no
	// rounds, ballots, or summaries are bought for any sub-problem.
	var personas, voters, summarizers int
	for _, req := range p.requests {
		switch req.Role.Kind {
		case provider.RolePersona:
			personas++
		case provider.RoleVoter:
			voters++
		case provider.RoleSummarizer:
			summarizers++
		}
	}
	if personas != 2 {
		t.Errorf("persona calls = %d, want only the first fan-out", personas)
	}
	if voters != 0 {
		t.Errorf("voter calls = %d, want 0 once the budget fired", voters)
	}
	if summarizers != 0 {
		t.Errorf("summarizer calls = %d, want 0 once the budget fired", summarizers)
	}
	if p.calls["facilitator"] != 0 {
		t.Errorf("facilitator calls = %d, want 0", p.calls["facilitator"])
	}
	// Synthesis stays un-gated: one call per sub-problem plus the meta
	// pass, so the session still produces output.
	if p.calls["synthesizer"] != 4 {
		t.Errorf("synthesizer calls = %d, want 4", p.calls["synthesizer"])
	}
	if budgetEvents != 1 {
		t.Errorf("budget.exceeded events = %d, want exactly 1", budgetEvents)
	}
}

func TestStepLimitFailsSession(t *testing.T) {
	actions := make([]string, 200)
	for i := range actions {
		actions[i] = "continue"
	}
	p := newScriptedProvider(actions...)

	cfg := testConfig()
	cfg.MaxRounds = 50
	cfg.AbsoluteRoundCap = 60
	cfg.StepLimitOverhead = 0
	e := newTestEngine(t, cfg, p, fixedScorer{similarity: 0.1})

	state := deliberation.NewState("s1", "owner", singleSubProblem(), 50)
	r := e.NewRunner(state)
	r.stepLimit = 4 // force the backstop to fire long before the caps

	err := r.Run(context.Background())
	if !errors.Is(err, errors.ErrStepLimitExceeded) {
		t.Fatalf("err = %v, want ErrStepLimitExceeded", err)
	}
	if state.Phase != deliberation.PhaseFailed {
		t.Errorf("Phase = %s, want failed", state.Phase)
	}
	if state.StopReason != deliberation.StopStepLimit {
		t.Errorf("StopReason = %s, want step_limit_exceeded", state.StopReason)
	}
}

func TestPauseAndResume(t *testing.T) {
	p := newScriptedProvider("continue", "continue")
	store, err := checkpoint.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := New(testConfig(), p, fixedScorer{similarity: 0.1}, store, event.NewBus(), nil)

	state := deliberation.NewState("s1", "owner", singleSubProblem(), 3)
	r := e.NewRunner(state)
	r.Pause()

	if err := r.Run(context.Background()); !errors.Is(err, errors.ErrSessionPaused) {
		t.Fatalf("err = %v, want ErrSessionPaused", err)
	}
	if state.Phase.Terminal() {
		t.Errorf("pause must not be terminal, got %s", state.Phase)
	}

	cp, err := store.Latest(context.Background(), "s1")
	if err != nil {
		t.Fatalf("no checkpoint after pause: %v", err)
	}

	resumed, err := e.ResumeRunner(cp)
	if err != nil {
		t.Fatalf("ResumeRunner failed: %v", err)
	}
	if err := resumed.Run(context.Background()); err != nil {
		t.Fatalf("resumed Run failed: %v", err)
	}
	if resumed.State().Phase != deliberation.PhaseComplete {
		t.Errorf("Phase = %s, want complete", resumed.State().Phase)
	}
}

func TestWatchdogCancellationMarksTimeout(t *testing.T) {
	p := newScriptedProvider()
	e := newTestEngine(t, testConfig(), p, fixedScorer{similarity: 0.1})

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errors.ErrWatchdogExpired)

	state := deliberation.NewState("s1", "owner", singleSubProblem(), 3)
	err := e.NewRunner(state).Run(ctx)
	if !errors.Is(err, errors.ErrWatchdogExpired) {
		t.Fatalf("err = %v, want ErrWatchdogExpired", err)
	}
	if state.Phase != deliberation.PhaseTimeout {
		t.Errorf("Phase = %s, want timeout", state.Phase)
	}
	if state.StopReason != deliberation.StopWallClock {
		t.Errorf("StopReason = %s, want wall_clock_timeout", state.StopReason)
	}
}

func TestKillCancellationMarksKilled(t *testing.T) {
	p := newScriptedProvider()
	e := newTestEngine(t, testConfig(), p, fixedScorer{similarity: 0.1})

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errors.New("killed by admin-1"))

	state := deliberation.NewState("s1", "owner", singleSubProblem(), 3)
	_ = e.NewRunner(state).Run(ctx)

	if state.Phase != deliberation.PhaseKilled {
		t.Errorf("Phase = %s, want killed", state.Phase)
	}
	if state.StopReason != deliberation.StopKilled {
		t.Errorf("StopReason = %s, want killed", state.StopReason)
	}
}

func TestNodeTransitionEventsEmitted(t *testing.T) {
	p := newScriptedProvider()
	e := newTestEngine(t, testConfig(), p, fixedScorer{similarity: 0.1})

	var mu sync.Mutex
	var nodes []string
	e.Bus().Subscribe("node.transition", func(ev event.Event) {
		if nt, ok := ev.(event.NodeTransitionEvent); ok {
			mu.Lock()
			nodes = append(nodes, nt.Node)
			mu.Unlock()
		}
	})

	state := deliberation.NewState("s1", "owner", singleSubProblem(), 3)
	if err := e.NewRunner(state).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"initial_round", "evaluate", "collect_votes", "synthesize", "advance", "finalize"}
	if len(nodes) != len(want) {
		t.Fatalf("transitions = %v, want %v", nodes, want)
	}
	for i := range want {
		if nodes[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, nodes[i], want[i])
		}
	}
}

func TestTuningHotReload(t *testing.T) {
	e := newTestEngine(t, testConfig(), newScriptedProvider(), fixedScorer{similarity: 0.5})

	e.SetTuning(Tuning{ConvergenceThreshold: 0.5, NoveltyFloor: 0.6, DriftFloor: 0.1})
	got := e.currentTuning()
	if got.ConvergenceThreshold != 0.5 || got.NoveltyFloor != 0.6 {
		t.Errorf("tuning = %+v", got)
	}

	m := deliberation.ConvergenceMetrics{Convergence: 0.55, Novelty: 0.5}
	if !got.shouldStop(m) {
		t.Error("expected early stop under the reloaded thresholds")
	}
}

func TestStepLimitDerivation(t *testing.T) {
	cfg := Config{AbsoluteRoundCap: 10, StepLimitOverhead: 25}
	if got, want := cfg.StepLimit(3), 3*(2*10+4)+25; got != want {
		t.Errorf("StepLimit(3) = %d, want %d", got, want)
	}
}
