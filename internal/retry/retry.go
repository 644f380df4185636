// Package retry runs operations under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"time"

	"blogpilot/internal/core"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds how often and how long an operation is retried.
type Policy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// DefaultPolicy is three attempts with 2s base and 30s cap.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Base: 2 * time.Second, Cap: 30 * time.Second}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Attempts < 1 {
		p.Attempts = d.Attempts
	}
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Cap <= 0 {
		p.Cap = d.Cap
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Cap
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}

// ShouldRetry reports whether err is worth another attempt. Auth failures and
// tagged errors marked non-retryable stop immediately; untagged errors are
// treated as transient.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) && core.KindOf(err) == "" {
		return false
	}
	if core.IsKind(err, core.KindAuth) {
		return false
	}
	if core.KindOf(err) != "" {
		return core.IsRetryable(err)
	}
	return true
}

// Do calls op until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. attempt starts at 1. onRetry, if set, is called
// before each sleep.
func Do[T any](ctx context.Context, p Policy, op func(attempt int) (T, error), onRetry func(err error, next time.Duration)) (T, error) {
	p = p.normalized()
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(attempt)
		if err != nil && !ShouldRetry(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.Attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if onRetry != nil {
		opts = append(opts, backoff.WithNotify(onRetry))
	}

	v, err := backoff.Retry(ctx, operation, opts...)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return v, err
}
