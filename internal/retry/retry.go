// Package retry runs store and provider operations under a bounded
// exponential-backoff policy. Only errors the classifier reports as
// transient are retried; everything else is returned immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int           // total attempts including the first; <1 means 1
	BaseDelay   time.Duration // delay before the second attempt, doubled afterwards
	MaxDelay    time.Duration // cap for a single backoff delay; 0 means no cap
	CallTimeout time.Duration // per-attempt timeout; 0 means only the caller's ctx applies
}

// DefaultPolicy is used when a caller passes the zero Policy.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    2 * time.Second,
	CallTimeout: 30 * time.Second,
}

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// ErrExhausted wraps the last error once every attempt has failed transiently.
var ErrExhausted = errors.New("retry budget exhausted")

// Do runs op until it succeeds, fails with a non-transient error, the
// attempts run out, or ctx is done. A nil classifier uses IsTransient.
func Do(ctx context.Context, p Policy, isTransient Classifier, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, isTransient, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, isTransient Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	if p == (Policy{}) {
		p = DefaultPolicy
	}
	if isTransient == nil {
		isTransient = IsTransient
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	delay := p.BaseDelay
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithCtx(ctx, delay); err != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		v, err := runAttempt(ctx, p.CallTimeout, op)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isTransient(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(callCtx)
}

// sleepWithCtx is a cancellable sleep.
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
