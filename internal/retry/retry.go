// Package retry runs an operation with bounded attempts and backoff between
// them. Only failures classified as transient are retried.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	migerr "github.com/acme-corp/pg-mongo-migrator/internal/errors"
)

// Operation is one attempt of the retried work.
type Operation func(ctx context.Context) error

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Result is the terminal state of Execute. Err is nil on success and holds
// the last attempt's error otherwise.
type Result struct {
	Attempts int
	Err      error
}

// OK reports whether the operation eventually succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Controller retries transient failures with backoff.
type Controller struct {
	// MaxAttempts is the total number of attempts, first one included.
	// Values below 1 mean a single attempt.
	MaxAttempts int
	// NewBackOff builds the delay schedule for one Execute call. Defaults to
	// Linear(5s).
	NewBackOff func() backoff.BackOff
	// Sleep defaults to a context-aware timer.
	Sleep SleepFunc
	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultBase is the default linear step.
const DefaultBase = 5 * time.Second

// Execute runs op until it succeeds, fails with a non-retryable error, or the
// attempts are used up. It never sleeps after the final attempt.
func (c *Controller) Execute(ctx context.Context, op Operation) Result {
	maxAttempts := c.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := c.backOff()
	b.Reset()

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return Result{Attempts: attempt}
		}
		if attempt >= maxAttempts || !migerr.IsRetryable(err) {
			return Result{Attempts: attempt, Err: err}
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return Result{Attempts: attempt, Err: err}
		}
		if c.OnRetry != nil {
			c.OnRetry(attempt, err, delay)
		}
		if serr := c.sleep(ctx, delay); serr != nil {
			return Result{Attempts: attempt, Err: errors.Join(err, serr)}
		}
	}
}

func (c *Controller) backOff() backoff.BackOff {
	if c.NewBackOff != nil {
		return c.NewBackOff()
	}
	return Linear(DefaultBase)()
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep blocks the calling goroutine for d, returning early with the context
// error if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type linearBackOff struct {
	base    time.Duration
	attempt int64
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	return l.base * time.Duration(l.attempt)
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

// Linear waits base × attempt after each failed attempt.
func Linear(base time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		return &linearBackOff{base: base}
	}
}

// Exponential doubles the delay from base up to max, randomised by jitter
// (0 disables jitter, 0.5 means ±50%).
func Exponential(base, max time.Duration, jitter float64) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.Multiplier = 2
		b.RandomizationFactor = jitter
		if max > 0 {
			b.MaxInterval = max
		}
		b.Reset()
		return b
	}
}
