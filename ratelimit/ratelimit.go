// Package ratelimit provides a mailroom plugin that caps how fast each user
// can send. Send, Reply, Forward and SendDraft all count against the same
// per-user token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbaliyan/mailroom"
	"golang.org/x/time/rate"
)

// Defaults.
const (
	DefaultRate    = rate.Limit(1) // one send per second
	DefaultBurst   = 10
	DefaultIdleTTL = 10 * time.Minute
	pluginName     = "ratelimit"
)

// Compile-time check
var _ mailroom.SendHook = (*Limiter)(nil)

// Option configures a Limiter.
type Option func(*Limiter)

// WithRate sets the sustained sends per second.
func WithRate(r float64) Option {
	return func(l *Limiter) {
		if r > 0 {
			l.limit = rate.Limit(r)
		}
	}
}

// WithBurst sets how many sends may happen back to back.
func WithBurst(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.burst = n
		}
	}
}

// WithIdleTTL sets how long an unused bucket is kept.
func WithIdleTTL(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.idleTTL = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// withClock sets the time source. Tests only.
func withClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-user token bucket.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a limiter. Register it with mailroom.WithPlugin.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		limit:   DefaultRate,
		burst:   DefaultBurst,
		idleTTL: DefaultIdleTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Name() string { return pluginName }

// Init starts the goroutine that evicts idle buckets.
func (l *Limiter) Init(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return nil
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.sweepLoop(l.stop, l.done)
	return nil
}

// Close stops the eviction goroutine.
func (l *Limiter) Close(ctx context.Context) error {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BeforeSend takes one token from userID's bucket.
func (l *Limiter) BeforeSend(_ context.Context, userID string, _ *mailroom.Message) error {
	if !l.Allow(userID) {
		l.logger.Debug("send rate limited", "user_id", userID)
		return fmt.Errorf("%w: user %s", mailroom.ErrRateLimited, userID)
	}
	return nil
}

func (l *Limiter) AfterSend(context.Context, string, *mailroom.Message) error { return nil }

// Allow reports whether userID may send now and consumes a token if so.
func (l *Limiter) Allow(userID string) bool {
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

func (l *Limiter) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep drops buckets idle for longer than idleTTL. A dropped bucket is
// full again when it comes back, which is what an idle user would have.
func (l *Limiter) sweep() int {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
			n++
		}
	}
	return n
}
