package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testPolicy(recorded *[]time.Duration) BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		sleep: func(ctx context.Context, d time.Duration) error {
			*recorded = append(*recorded, d)
			return nil
		},
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	var delays []time.Duration
	attempts := 0

	err := Retry(context.Background(), testPolicy(&delays), zap.NewNop(), "test", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &TransientError{Op: "fetch", URL: "http://x", Err: errors.New("503")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 || delays[0] != 500*time.Millisecond || delays[1] != time.Second {
		t.Errorf("expected exponential delays [500ms 1s], got %v", delays)
	}
}

func TestRetryExhaustion(t *testing.T) {
	var delays []time.Duration
	attempts := 0

	err := Retry(context.Background(), testPolicy(&delays), zap.NewNop(), "test", func(ctx context.Context) error {
		attempts++
		return &TimeoutError{Op: "fetch", URL: "http://x", Err: errors.New("deadline")}
	})

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("expected 3 recorded attempts, got %d", exhausted.Attempts)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryFatalErrorNotRetried(t *testing.T) {
	var delays []time.Duration
	attempts := 0

	fatal := &ParseError{Source: "metro-city-bids", Page: 1, Reason: "no rows matched"}
	err := Retry(context.Background(), testPolicy(&delays), zap.NewNop(), "test", func(ctx context.Context) error {
		attempts++
		return fatal
	})

	if attempts != 1 {
		t.Fatalf("parse error should fail on first attempt, got %d attempts", attempts)
	}
	if !errors.Is(err, fatal) {
		t.Errorf("expected the parse error to propagate unwrapped, got %v", err)
	}
	if len(delays) != 0 {
		t.Errorf("expected no backoff sleeps, got %v", delays)
	}
}

func TestRetryDelayCap(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	if d := p.Delay(1); d != time.Second {
		t.Errorf("attempt 1: expected 1s, got %v", d)
	}
	if d := p.Delay(3); d != 4*time.Second {
		t.Errorf("attempt 3: expected 4s, got %v", d)
	}
	if d := p.Delay(6); d != 5*time.Second {
		t.Errorf("attempt 6: expected cap of 5s, got %v", d)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"Transient", &TransientError{Op: "fetch", Err: errors.New("503")}, true},
		{"Timeout", &TimeoutError{Op: "fetch", Err: errors.New("deadline")}, true},
		{"Wrapped transient", errors.Join(errors.New("outer"), &TransientError{Err: errors.New("inner")}), true},
		{"Context deadline", context.DeadlineExceeded, true},
		{"Parse", &ParseError{Source: "x", Reason: "bad markup"}, false},
		{"Validation", &ValidationError{Source: "x", Reason: "missing title"}, false},
		{"Plain", errors.New("boom"), false},
		{"Nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable(%v) = %v, expected %v", tt.err, got, tt.retryable)
			}
		})
	}
}
