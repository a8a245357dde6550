package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError covers connection, DNS and 5xx-class failures. Retryable.
type TransientError struct {
	Op  string
	URL string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error during %s of %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TimeoutError means a fetch or browser wait exceeded its bound. Retryable.
type TimeoutError struct {
	Op  string
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s of %s: %v", e.Op, e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ParseError means the expected structure was absent (selector drift,
// unexpected markup). Never retried: a repeat fetch cannot fix broken markup,
// and retrying would mask a site change that needs a config update.
type ParseError struct {
	Source string
	Page   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error on %s page %d: %s", e.Source, e.Page, e.Reason)
}

// ValidationError marks a single parsed item that fails the minimal shape
// invariants. The item is dropped with a warning; the page and run continue.
type ValidationError struct {
	Source string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid item from %s: %s", e.Source, e.Reason)
}

// RetryExhaustedError wraps the final failure after all retry attempts.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// IsRetryable reports whether err belongs to the transient/timeout class.
// Parse and validation errors are fatal and must fail immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// classifyFetchErr maps a low-level fetch failure into the taxonomy.
func classifyFetchErr(op, url string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, URL: url, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, URL: url, Err: err}
	}
	return &TransientError{Op: op, URL: url, Err: err}
}
