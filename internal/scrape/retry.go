package scrape

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BackoffPolicy bounds retry behavior for fetch-like operations. Worst case
// there are exactly MaxAttempts attempts, and total backoff time is bounded
// by (MaxAttempts-1) * MaxDelay.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep is replaceable in tests. When nil, a context-aware wait is used.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultBackoff matches the production posture: three attempts, half a
// second doubling up to ten seconds.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Delay returns the backoff before attempt n+1, given attempt n (1-based)
// just failed: min(BaseDelay * 2^(n-1), MaxDelay).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay << uint(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p BackoffPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn with bounded exponential backoff. Only transient/timeout
// failures are retried; parse and validation errors propagate on the first
// attempt. After the final attempt the error is wrapped with the attempt
// count attached.
func Retry(ctx context.Context, policy BackoffPolicy, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		logger.Warn("retrying after transient failure",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)
		if err := policy.wait(ctx, delay); err != nil {
			return &RetryExhaustedError{Attempts: attempt, Err: err}
		}
	}

	return &RetryExhaustedError{Attempts: policy.MaxAttempts, Err: lastErr}
}
