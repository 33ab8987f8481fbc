// Package retry retries startup work, such as connecting a store or a
// broker, with capped exponential backoff. Request handling never retries;
// only the daemon's boot sequence uses this package.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rbaliyan/mailroom/store"
)

// Policy describes how often and how patiently to retry.
type Policy struct {
	// Attempts is the total number of tries, including the first (default: 5).
	Attempts int

	// Initial is the delay after the first failure (default: 500ms).
	Initial time.Duration

	// Max caps any single delay (default: 15s).
	Max time.Duration

	// Jitter spreads each delay by +/- this fraction (default: 0.2).
	Jitter float64
}

// DefaultPolicy returns the boot policy used by mailroomd.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 5,
		Initial:  500 * time.Millisecond,
		Max:      15 * time.Second,
		Jitter:   0.2,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	return p
}

// Delay returns the wait before attempt n+1 (n counts from 0), without
// jitter: Initial doubled n times, capped at Max.
func (p Policy) Delay(n int) time.Duration {
	p = p.normalized()
	d := p.Initial
	for range n {
		if d >= p.Max/2 {
			return p.Max
		}
		d *= 2
	}
	return min(d, p.Max)
}

// ErrExhausted is reported when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Error reports a failed retry loop.
type Error struct {
	Op       string
	Attempts int
	Err      error // last error from the operation
	Reason   error // ErrExhausted, or the context error that stopped the loop
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Reason, e.Err}
}

// Permanent marks err so that Do stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsRetryable reports whether Do should try again after err. Permanent
// errors, context errors and store state errors (already connected) are
// final; everything else is assumed to be a transient dial failure.
func IsRetryable(err error) bool {
	var p *permanentError
	switch {
	case err == nil:
		return false
	case errors.As(err, &p):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, store.ErrAlreadyConnected):
		return false
	}
	return true
}

// Option configures Do.
type Option func(*config)

type config struct {
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

// WithLogger logs every failed attempt.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// withSleep replaces the wait between attempts. Tests only.
func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *config) { c.sleep = fn }
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the policy
// runs out of attempts, or ctx is done. op names the work in logs and
// errors.
func Do(ctx context.Context, op string, p Policy, fn func(context.Context) error, opts ...Option) error {
	p = p.normalized()
	c := &config{logger: slog.Default(), sleep: sleep}
	for _, opt := range opts {
		opt(c)
	}

	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		last = fn(ctx)
		if last == nil {
			if attempt > 1 {
				c.logger.Info("retry succeeded", "op", op, "attempt", attempt)
			}
			return nil
		}
		if !IsRetryable(last) {
			var perm *permanentError
			if errors.As(last, &perm) {
				last = perm.err
			}
			return fmt.Errorf("%s: %w", op, last)
		}
		if attempt == p.Attempts {
			break
		}

		wait := jitter(p.Delay(attempt-1), p.Jitter)
		c.logger.Warn("retrying", "op", op, "attempt", attempt, "of", p.Attempts, "wait", wait, "error", last)
		if err := c.sleep(ctx, wait); err != nil {
			return &Error{Op: op, Attempts: attempt, Err: last, Reason: err}
		}
	}
	return &Error{Op: op, Attempts: p.Attempts, Err: last, Reason: ErrExhausted}
}

// Value is Do for operations that produce a result, such as dialing a
// client.
func Value[T any](ctx context.Context, op string, p Policy, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := Do(ctx, op, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts...)
	return out, err
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * frac
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}
