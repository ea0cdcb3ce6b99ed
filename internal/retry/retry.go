// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

// Package retry provides the shared exponential-backoff executor used
// for network calls, subscription establishment and store queries.
// There is exactly one backoff implementation in the codebase; callers
// vary only the Policy.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Policy configures backoff behavior. The delay before attempt n
// (zero-based) is BaseDelay * Multiplier^n, capped at MaxDelay.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
}

// DefaultPolicy returns the policy used for ordinary network calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}
}

// normalize fills zero values with safe defaults.
func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}
	return p
}

// Delay returns the backoff delay preceding retry number attempt
// (zero-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalize()

	// Past ~50 doublings any practical base exceeds the cap; shortcut
	// to avoid float overflow feeding a negative duration.
	if attempt > 50 {
		return p.MaxDelay
	}

	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if d < 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops retrying and returns err as-is.
// Callers use it to short-circuit on errors they classify as terminal.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

// OnAttempt is invoked before each retry with the upcoming attempt
// number (1-based) and the error that caused it. It exists for
// observability; returning is the only option.
type OnAttempt func(attempt int, err error)

// Do executes op, retrying per the policy. It returns nil on the first
// success, the last error once attempts are exhausted, or the context
// error if the context ends during a backoff wait.
//
// op must be safe to invoke more than once; callers ensure idempotence
// (for example, writes carry a client-assigned request identity).
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error, onAttempt OnAttempt) error {
	policy = policy.normalize()

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if onAttempt != nil {
				onAttempt(attempt, lastErr)
			}
			select {
			case <-time.After(policy.Delay(attempt - 1)):
			case <-ctx.Done():
				return errors.Join(ctx.Err(), lastErr)
			}
		}

		if err := op(ctx); err != nil {
			var perm *permanentError
			if errors.As(err, &perm) {
				return perm.err
			}
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error), onAttempt OnAttempt) (T, error) {
	var result T
	err := Do(ctx, policy, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, onAttempt)
	return result, err
}
