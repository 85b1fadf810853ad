package provider

import (
	"context"
	"time"

	"github.com/quorumhq/quorum/internal/errors"
	"github.com/quorumhq/quorum/internal/logging"
)

// RetryConfig controls retry behavior for wrapped contribution calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// Backoff is the delay before the second attempt; it doubles on each
	// subsequent attempt. Zero disables waiting.
	Backoff time.Duration
	// ShouldRetry classifies errors; nil defaults to errors.IsRetryable.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig returns the retry defaults for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
	}
}

// WrapContribution wraps a ContributionProvider with deterministic,
// error-only retries and exponential backoff. Retries are invisible to
// orchestration state beyond the attempt count recorded on the final
// error; a call that never succeeds surfaces a ProviderError.
func WrapContribution(next ContributionProvider, cfg RetryConfig, logger *logging.Logger) ContributionProvider {
	if next == nil {
		return nil
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &retryingProvider{next: next, cfg: cfg, logger: logger}
}

type retryingProvider struct {
	next   ContributionProvider
	cfg    RetryConfig
	logger *logging.Logger
}

func (p *retryingProvider) Invoke(ctx context.Context, req Request) (Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	attempts := p.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := p.cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = errors.IsRetryable
	}

	backoff := p.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := p.next.Invoke(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err

		// Cancellation ends the retry loop immediately; the session's
		// watchdog or a kill is driving, not a transient failure.
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if attempt == attempts || !shouldRetry(err) {
			break
		}

		p.logger.Warn("provider call failed, retrying",
			"role", req.Role.String(),
			"attempt", attempt,
			"error", err,
		)

		if backoff > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return Result{}, errors.NewProviderError("invoke failed after retries", lastErr).
		WithRole(req.Role.String()).
		WithAttempt(attempts).
		WithRetryable(false)
}
