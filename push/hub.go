// Package push delivers live events to connected clients.
//
// A Hub keeps the websocket connections of every user on this instance.
// Clients connect, send {"event":"join","data":"<userId>"} and from then on
// receive {"event":"newMessage","data":<message>} whenever mail arrives.
//
// With a Relay the Hub fans events out across instances: Deliver publishes,
// and every instance's subscriber hands the event to its own connections.
// Delivery is best effort; an offline user simply misses the event.
package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/mailroom"
)

// Compile-time checks
var (
	_ mailroom.Plugin   = (*Hub)(nil)
	_ mailroom.Notifier = (*Hub)(nil)
)

// Conn is a client connection the hub can push to.
type Conn interface {
	// Send queues ev without blocking. Returns false if the event was
	// dropped because the connection is closed or its queue is full.
	Send(ev Event) bool
	// Close terminates the connection.
	Close() error
}

// Relay carries events between instances.
type Relay interface {
	// Publish sends ev for userID to every subscribed instance.
	Publish(ctx context.Context, userID string, ev Event) error
	// Subscribe calls deliver for every published event until stop is
	// called. It returns once the subscription is active.
	Subscribe(ctx context.Context, deliver func(userID string, ev Event)) (stop func() error, err error)
}

// Option configures a Hub.
type Option func(*Hub)

// WithRelay enables cross-instance delivery.
func WithRelay(r Relay) Option {
	return func(h *Hub) {
		if r != nil {
			h.relay = r
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// Hub maps user ids to their live connections.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*registration]struct{}
	count  int
	relay  Relay
	stop   func() error
	closed atomic.Bool
	logger *slog.Logger
}

type registration struct {
	conn Conn
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		conns:  make(map[string]map[*registration]struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements mailroom.Plugin.
func (h *Hub) Name() string { return "push" }

// Init starts the relay subscription, if any.
func (h *Hub) Init(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	stop, err := h.relay.Subscribe(ctx, func(userID string, ev Event) {
		h.deliverLocal(userID, ev)
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.stop = stop
	h.mu.Unlock()
	return nil
}

// Close stops the relay and disconnects every client.
func (h *Hub) Close(_ context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.mu.Lock()
	stop := h.stop
	h.stop = nil
	var all []Conn
	for _, set := range h.conns {
		for reg := range set {
			all = append(all, reg.conn)
		}
	}
	h.conns = make(map[string]map[*registration]struct{})
	h.count = 0
	h.mu.Unlock()

	var errs []error
	if stop != nil {
		if err := stop(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range all {
		_ = c.Close()
	}
	return errors.Join(errs...)
}

// Register adds c under userID. The returned func removes it and is safe
// to call more than once.
func (h *Hub) Register(userID string, c Conn) (unregister func()) {
	if h.closed.Load() {
		_ = c.Close()
		return func() {}
	}

	reg := &registration{conn: c}
	h.mu.Lock()
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[*registration]struct{})
		h.conns[userID] = set
	}
	set[reg] = struct{}{}
	h.count++
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			set, ok := h.conns[userID]
			if !ok {
				return
			}
			if _, ok := set[reg]; !ok {
				return
			}
			delete(set, reg)
			h.count--
			if len(set) == 0 {
				delete(h.conns, userID)
			}
		})
	}
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Deliver sends ev to every connection of userID and returns how many
// accepted it on this instance. With a relay the event is published
// instead and local delivery happens on receipt, so the count is 0; if
// publishing fails the hub falls back to local delivery.
func (h *Hub) Deliver(ctx context.Context, userID string, ev Event) int {
	if h.closed.Load() || userID == "" {
		return 0
	}
	if h.relay != nil {
		err := h.relay.Publish(ctx, userID, ev)
		if err == nil {
			return 0
		}
		h.logger.Warn("push relay publish failed, delivering locally",
			"error", err, "user_id", userID, "event", ev.Name)
	}
	return h.deliverLocal(userID, ev)
}

func (h *Hub) deliverLocal(userID string, ev Event) int {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns[userID]))
	for reg := range h.conns[userID] {
		targets = append(targets, reg.conn)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.Send(ev) {
			n++
		} else {
			h.logger.Debug("push event dropped", "user_id", userID, "event", ev.Name)
		}
	}
	return n
}

// Notify implements mailroom.Notifier by pushing a newMessage event to the
// recipient.
func (h *Hub) Notify(ctx context.Context, recipientID string, msg *mailroom.Message) error {
	ev, err := NewEvent(EventNewMessage, msg)
	if err != nil {
		return err
	}
	h.Deliver(ctx, recipientID, ev)
	return nil
}
