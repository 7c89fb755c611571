// Package retry provides a small retry combinator with pluggable backoff
// for wrapping single I/O calls against flaky dependencies. Strategies are
// stateless and safe for concurrent use.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/jobgate/jobgate/errors"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Config controls a Do invocation.
type Config struct {
	Attempts       int           // Total attempts including the first (min 1).
	AttemptTimeout time.Duration // Per-attempt deadline; 0 = no deadline.
	Backoff        Strategy      // Delay between attempts; nil = no delay.
}

// Do invokes fn up to cfg.Attempts times, applying the per-attempt timeout
// and waiting cfg.Backoff.Delay between failures. It stops early when the
// parent context is cancelled and returns the last error from fn otherwise.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "retry aborted")
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if cfg.Backoff != nil {
			select {
			case <-time.After(cfg.Backoff.Delay(attempt)):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry aborted during backoff")
			}
		}
	}

	return errors.Wrapf(lastErr, "all %d attempts failed", attempts)
}
