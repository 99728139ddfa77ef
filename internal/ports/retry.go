package ports

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy is the bounded retry configuration applied to every port
// call: a per-call timeout, an attempt limit, and an exponential backoff
// curve capped at BackoffMax.
type RetryPolicy struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	CallTimeout    time.Duration
}

// Backoff returns the sleep before the given retry attempt (attempt 1 is
// the first retry).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	backoff := p.BackoffInitial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= p.BackoffMax {
			return p.BackoffMax
		}
	}

	if backoff > p.BackoffMax {
		return p.BackoffMax
	}
	return backoff
}

// Do runs fn under the policy: each attempt gets its own CallTimeout
// context, non-retryable failures stop immediately, and ctx cancellation
// aborts both in-flight calls and backoff sleeps. The returned error is the
// last failure.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy requires at least one attempt")
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.Backoff(attempt - 1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}

		err := fn(callCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !IsRetryable(err) {
			return lastErr
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", p.MaxAttempts, lastErr)
}
