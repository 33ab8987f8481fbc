package janitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbaliyan/mailroom"
)

type fakeCleaner struct {
	calls   atomic.Int32
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeCleaner) CleanupTrash(ctx context.Context) (*mailroom.CleanupTrashResult, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &mailroom.CleanupTrashResult{DeletedCount: 3, Cutoff: time.Unix(0, 0)}, nil
}

func TestNewValidatesSchedule(t *testing.T) {
	if _, err := New(&fakeCleaner{}, "not a cron"); err == nil {
		t.Error("expected error for invalid schedule")
	}
	j, err := New(&fakeCleaner{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if j.schedule != DefaultSchedule {
		t.Errorf("schedule = %q, want default", j.schedule)
	}
}

func TestNext(t *testing.T) {
	j, err := New(&fakeCleaner{}, "0 3 * * *")
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 3, 10, 10, 15, 0, 0, time.UTC)
	next, err := j.Next(from)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestRunOnce(t *testing.T) {
	c := &fakeCleaner{}
	j, _ := New(c, DefaultSchedule)

	res, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.DeletedCount != 3 {
		t.Errorf("DeletedCount = %d", res.DeletedCount)
	}

	c.err = mailroom.ErrNotConnected
	if _, err := j.RunOnce(context.Background()); !errors.Is(err, mailroom.ErrNotConnected) {
		t.Errorf("RunOnce error = %v", err)
	}
}

func TestRunOnceSkipsOverlap(t *testing.T) {
	c := &fakeCleaner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	j, _ := New(c, DefaultSchedule)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = j.RunOnce(context.Background())
	}()
	<-c.started

	res, err := j.RunOnce(context.Background())
	if res != nil || err != nil {
		t.Errorf("overlapping run = %v, %v; want skipped", res, err)
	}
	close(c.block)
	wg.Wait()

	if n := c.calls.Load(); n != 1 {
		t.Errorf("cleaner called %d times, want 1", n)
	}
}

func TestRunOnceTimeout(t *testing.T) {
	c := &fakeCleaner{block: make(chan struct{})}
	j, _ := New(c, DefaultSchedule, WithTimeout(20*time.Millisecond))

	_, err := j.RunOnce(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	j, _ := New(&fakeCleaner{}, DefaultSchedule)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
