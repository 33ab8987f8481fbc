package mailroom

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Notifier is told about every message that lands in a user's inbox:
// direct sends, replies, forwards and sent drafts. Drafts, trash and
// restore never notify.
//
// Notify runs in the background after the write has committed, with its
// own timeout. Errors are logged and never reach the sender.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, msg *Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, recipientID string, msg *Message) error

// Notify calls f(ctx, recipientID, msg).
func (f NotifierFunc) Notify(ctx context.Context, recipientID string, msg *Message) error {
	return f(ctx, recipientID, msg)
}

// dispatcher runs notifiers off the request path.
type dispatcher struct {
	notifiers []Notifier
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	timeout   time.Duration
	logger    *slog.Logger
	otel      *otelInstrumentation
}

func newDispatcher(notifiers []Notifier, o *options, instr *otelInstrumentation) *dispatcher {
	return &dispatcher{
		notifiers: notifiers,
		sem:       semaphore.NewWeighted(int64(o.maxPendingNotifications)),
		timeout:   o.notifyTimeout,
		logger:    o.logger,
		otel:      instr,
	}
}

// dispatch hands msg to every notifier in a background goroutine. When the
// pending bound is reached the notification is dropped.
func (d *dispatcher) dispatch(ctx context.Context, recipientID string, msg *Message) {
	if len(d.notifiers) == 0 || recipientID == "" {
		return
	}
	if !d.sem.TryAcquire(1) {
		d.logger.Warn("notification dropped, too many pending",
			"recipient_id", recipientID, "message_id", msg.ID)
		return
	}

	snapshot := msg.Clone()
	bg := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		nctx, cancel := context.WithTimeout(bg, d.timeout)
		defer cancel()

		for _, n := range d.notifiers {
			start := time.Now()
			err := d.notifyOne(nctx, n, recipientID, snapshot)
			d.otel.recordNotify(nctx, time.Since(start), err)
			if err != nil {
				d.logger.Warn("notification failed",
					"recipient_id", recipientID, "message_id", snapshot.ID, "error", err)
			}
		}
	}()
}

// notifyOne calls n and converts a panic into an error.
func (d *dispatcher) notifyOne(ctx context.Context, n Notifier, recipientID string, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return n.Notify(ctx, recipientID, msg)
}

// wait blocks until every in-flight notification finished or ctx is done.
func (d *dispatcher) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
