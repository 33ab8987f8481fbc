package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/mailroom"
	"github.com/rbaliyan/mailroom/resolver"
	"github.com/rbaliyan/mailroom/store/memory"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiterBurstAndRefill(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(WithRate(1), WithBurst(3), withClock(clock.Now))
	ctx := context.Background()

	for i := range 3 {
		if err := l.BeforeSend(ctx, "alice", nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	err := l.BeforeSend(ctx, "alice", nil)
	if !errors.Is(err, mailroom.ErrRateLimited) {
		t.Fatalf("4th send: got %v, want ErrRateLimited", err)
	}

	if err := l.BeforeSend(ctx, "bob", nil); err != nil {
		t.Errorf("bob shares alice's bucket: %v", err)
	}

	clock.Advance(time.Second)
	if err := l.BeforeSend(ctx, "alice", nil); err != nil {
		t.Errorf("after refill: %v", err)
	}
}

func TestLimiterSweep(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(WithIdleTTL(time.Minute), withClock(clock.Now))

	l.Allow("alice")
	clock.Advance(30 * time.Second)
	l.Allow("bob")
	clock.Advance(45 * time.Second)

	if n := l.sweep(); n != 1 {
		t.Errorf("sweep removed %d, want 1", n)
	}
	l.mu.Lock()
	_, aliceKept := l.buckets["alice"]
	_, bobKept := l.buckets["bob"]
	l.mu.Unlock()
	if aliceKept || !bobKept {
		t.Errorf("alice kept=%v bob kept=%v", aliceKept, bobKept)
	}
}

func TestLimiterLifecycle(t *testing.T) {
	ctx := context.Background()
	l := New()
	if l.Name() != "ratelimit" {
		t.Errorf("Name() = %q", l.Name())
	}
	if err := l.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestLimiterAsPlugin(t *testing.T) {
	ctx := context.Background()
	svc, err := mailroom.NewService(
		mailroom.WithStore(memory.New()),
		mailroom.WithResolver(resolver.NewStatic(
			&mailroom.Recipient{UserID: "alice", Email: "alice@example.com"},
			&mailroom.Recipient{UserID: "bob", Email: "bob@example.com"},
		)),
		mailroom.WithPlugin(New(WithRate(0.001), WithBurst(2))),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer svc.Close(ctx)

	alice := svc.Client("alice")
	req := mailroom.SendRequest{Receiver: "bob@example.com", Subject: "Hi", Body: "Hello"}
	first, err := alice.Send(ctx, req)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := alice.Reply(ctx, first.ID, "again"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if _, err := alice.Send(ctx, req); !errors.Is(err, mailroom.ErrRateLimited) {
		t.Fatalf("third send: got %v, want ErrRateLimited", err)
	}

	inbox, err := svc.Client("bob").Inbox(ctx, mailroom.PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if inbox.Total != 2 {
		t.Errorf("bob's inbox has %d messages, want 2", inbox.Total)
	}
}
