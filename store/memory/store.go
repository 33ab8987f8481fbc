// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailroom/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	messages  sync.Map // map[string]*entry
	msgLocks  sync.Map // map[string]*sync.Mutex (per-message locks for mutations)
	seq       uint64   // insertion counter, breaks created_at ties
	connected int32
	now       func() time.Time
}

// entry is an immutable snapshot of a stored message. Mutations replace
// the entry (copy-on-write) so readers never see partial updates.
type entry struct {
	msg *store.Message
	seq uint64
}

// Option configures a memory store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// getMsgLock returns the mutex for a message ID, creating one if needed.
// Uses LoadOrStore for atomic get-or-create.
func (s *Store) getMsgLock(id string) *sync.Mutex {
	lock, _ := s.msgLocks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// NewID allocates a random UUID.
func (s *Store) NewID() string {
	return uuid.NewString()
}

// Create inserts a message.
func (s *Store) Create(_ context.Context, msg *store.Message) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, store.ErrInvalidID
	}

	m := msg.Clone()
	if m.ID == "" {
		m.ID = s.NewID()
	}
	now := s.now()
	m.CreatedAt = now
	m.UpdatedAt = now

	e := &entry{msg: m, seq: atomic.AddUint64(&s.seq, 1)}
	if _, loaded := s.messages.LoadOrStore(m.ID, e); loaded {
		return nil, store.ErrDuplicateEntry
	}
	return m.Clone(), nil
}
