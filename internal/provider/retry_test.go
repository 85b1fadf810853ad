package provider

import (
	"context"
	"testing"
	"time"

	"github.com/quorumhq/quorum/internal/errors"
)

// flakyProvider fails a set number of times before succeeding.
type flakyProvider struct {
	failures int
	calls    int
	err      error
}

func (f *flakyProvider) Invoke(ctx context.Context, req Request) (Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return Result{}, f.err
	}
	return Result{Text: "ok", Cost: 0.1}, nil
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: errors.ErrProviderRateLimited}
	p := WrapContribution(inner, RetryConfig{MaxAttempts: 3}, nil)

	res, err := p.Invoke(context.Background(), Request{Role: Persona("maria")})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Text != "ok" {
		t.Errorf("Text = %q, want ok", res.Text)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryExhaustionSurfacesProviderError(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.ErrProviderUnavailable}
	p := WrapContribution(inner, RetryConfig{MaxAttempts: 3}, nil)

	_, err := p.Invoke(context.Background(), Request{Role: Facilitator()})
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}

	var provErr *errors.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %T: %v", err, err)
	}
	if provErr.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", provErr.Attempt)
	}
	// Exhausted retries must not be classified retryable again upstream.
	if errors.IsRetryable(err) {
		t.Error("exhausted retry error should not be retryable")
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("schema mismatch")}
	p := WrapContribution(inner, RetryConfig{MaxAttempts: 5}, nil)

	_, err := p.Invoke(context.Background(), Request{Role: Voter("maria")})
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable errors must not be retried)", inner.calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &flakyProvider{failures: 0}
	p := WrapContribution(inner, DefaultRetryConfig(), nil)

	_, err := p.Invoke(ctx, Request{Role: Persona("maria")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if inner.calls != 0 {
		t.Errorf("calls = %d, want 0 after pre-cancelled context", inner.calls)
	}
}

func TestRetryCancellationDuringBackoff(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.ErrProviderRateLimited}
	p := WrapContribution(inner, RetryConfig{MaxAttempts: 5, Backoff: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Invoke(ctx, Request{Role: Persona("maria")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v; backoff wait did not honor ctx", elapsed)
	}
}

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{Facilitator(), "facilitator"},
		{Persona("maria"), "persona:maria"},
		{Moderator("contrarian"), "moderator:contrarian"},
		{Summarizer(), "summarizer"},
		{Voter("li"), "voter:li"},
		{Synthesizer(), "synthesizer"},
		{Researcher(), "researcher"},
	}
	for _, tt := range tests {
		if got := tt.role.String(); got != tt.want {
			t.Errorf("Role.String() = %q, want %q", got, tt.want)
		}
	}
}

func TestStubProviderDeterminism(t *testing.T) {
	stub := NewStubProvider()
	ctx := context.Background()

	res, err := stub.Invoke(ctx, Request{Role: Facilitator(), Context: "summary"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Cost != 0 {
		t.Errorf("stub cost = %v, want 0", res.Cost)
	}

	again, _ := stub.Invoke(ctx, Request{Role: Facilitator(), Context: "summary"})
	if res.Text != again.Text {
		t.Error("stub output should be deterministic")
	}
}

func TestStubScorer(t *testing.T) {
	scorer := NewStubScorer()
	ctx := context.Background()

	same, err := scorer.Score(ctx, "the data model should be relational", "the data model should be relational")
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if same != 1.0 {
		t.Errorf("identical texts scored %v, want 1.0", same)
	}

	different, _ := scorer.Score(ctx, "alpha beta gamma", "delta epsilon zeta")
	if different != 0 {
		t.Errorf("disjoint texts scored %v, want 0", different)
	}

	partial, _ := scorer.Score(ctx, "shared words here", "shared words there")
	if partial <= 0 || partial >= 1 {
		t.Errorf("overlapping texts scored %v, want (0,1)", partial)
	}
}
