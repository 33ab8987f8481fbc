// Package janitor purges expired trash on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rbaliyan/mailroom"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs the purge daily at 03:00 UTC.
const DefaultSchedule = "0 3 * * *"

// retryAfter is how long to wait when the next tick cannot be computed.
const retryAfter = 30 * time.Second

// Cleaner is the part of mailroom.Service the janitor drives.
type Cleaner interface {
	CleanupTrash(ctx context.Context) (*mailroom.CleanupTrashResult, error)
}

// Janitor runs Cleaner.CleanupTrash at every tick of a cron expression.
type Janitor struct {
	cleaner  Cleaner
	schedule string
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithTimeout bounds a single purge.
func WithTimeout(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// withClock sets the time source. Tests only.
func withClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// New validates schedule and returns a janitor. An empty schedule means
// DefaultSchedule.
func New(cleaner Cleaner, schedule string, opts ...Option) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("janitor: invalid cron expression %q", schedule)
	}
	j := &Janitor{
		cleaner:  cleaner,
		schedule: schedule,
		timeout:  5 * time.Minute,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Next returns the first tick strictly after t.
func (j *Janitor) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(j.schedule, t.UTC(), false)
}

// RunOnce purges once. Overlapping calls are skipped and report
// (nil, nil).
func (j *Janitor) RunOnce(ctx context.Context) (*mailroom.CleanupTrashResult, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		j.logger.Warn().Msg("trash purge still running, skipping tick")
		return nil, nil
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := j.now()
	res, err := j.cleaner.CleanupTrash(ctx)
	if err != nil {
		j.logger.Error().Err(err).Msg("trash purge failed")
		return nil, err
	}
	j.logger.Info().
		Int64("deleted", res.DeletedCount).
		Time("cutoff", res.Cutoff).
		Dur("took", j.now().Sub(start)).
		Msg("trash purged")
	return res, nil
}

// Run sleeps until each tick and purges, until ctx is done. It always
// returns nil so it can sit in an errgroup next to the HTTP server.
func (j *Janitor) Run(ctx context.Context) error {
	j.logger.Info().Str("schedule", j.schedule).Msg("trash janitor started")
	defer j.logger.Info().Msg("trash janitor stopped")

	for {
		wait := retryAfter
		next, err := j.Next(j.now())
		if err != nil {
			j.logger.Error().Err(err).Str("schedule", j.schedule).Msg("cannot compute next tick")
		} else {
			wait = max(next.Sub(j.now()), 0)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if err != nil {
			continue
		}
		_, _ = j.RunOnce(ctx)
	}
}
