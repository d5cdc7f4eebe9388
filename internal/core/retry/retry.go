// Package retry wraps store calls with a bounded per-attempt timeout and a
// small exponential backoff budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmapos/internal/core/apperror"
)

// Policy bounds how long and how often an operation is attempted.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// Timeout bounds each individual attempt. Zero disables it.
	Timeout time.Duration
	// BaseDelay is the wait before the second attempt; it doubles after each failure.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultPolicy returns the policy used for store calls.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		Timeout:   5 * time.Second,
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  time.Second,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The returned error is the last one seen.
//
// fn must be idempotent: an attempt that timed out may still have been applied.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = runOnce(ctx, p.Timeout, fn)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) || ctx.Err() != nil || attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, lastErr)
		case <-time.After(p.delay(attempt)):
		}
	}
	return lastErr
}

func runOnce(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func (p Policy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retryable reports whether err is worth another attempt.
// Business errors carried as AppError are final; infrastructure failures and
// per-attempt deadlines are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if appErr, ok := apperror.AsAppError(err); ok {
		switch appErr.Code {
		case apperror.CodeDatabase, apperror.CodeTimeout:
			return true
		default:
			return false
		}
	}
	return true
}
