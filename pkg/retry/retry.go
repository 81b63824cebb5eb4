// Package retry bounds transient-failure loops with exponential backoff.
// Broker redelivery and dependency calls both go through a Policy; nothing in
// the bus retries without a finite attempt budget.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Minute,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.Multiplier <= 0 {
		p.Multiplier = def.Multiplier
	}
	return p
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = p.MaxElapsedTime

	var b backoff.BackOff = exp
	b = backoff.WithContext(b, ctx)
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}

// nextDelay mirrors what the backoff will wait before the given attempt,
// for logging only; the real delay includes jitter.
func (p Policy) nextDelay(attempt int) time.Duration {
	d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(d)
}

// permanent reports whether retrying cannot change the outcome. Terminal
// pipeline errors carry IsFatal; everything else is presumed transient.
func permanent(err error) bool {
	var fatal interface {
		error
		IsFatal() bool
	}
	if errors.As(err, &fatal) {
		return fatal.IsFatal()
	}
	return false
}

func Do(ctx context.Context, policy Policy, fn func() error) error {
	return DoNotify(ctx, policy, fn, nil)
}

// DoNotify runs fn under the policy, calling notify before each backoff
// sleep. A permanent error aborts the loop and is returned as-is.
func DoNotify(ctx context.Context, policy Policy, fn func() error, notify func(attempt int, err error, nextDelay time.Duration)) error {
	p := policy.withDefaults()

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		if notify != nil && attempt < p.MaxAttempts {
			notify(attempt, err, p.nextDelay(attempt))
		}
		return err
	}

	return backoff.Retry(operation, p.backoff(ctx))
}
