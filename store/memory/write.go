package memory

import (
	"context"
	"time"

	"github.com/rbaliyan/mailroom/store"
)

// Update applies patch to the oldest message matching the filters.
// Uses per-message locking and re-checks the filters under the lock, so a
// concurrent change that makes the message stop matching is observed.
func (s *Store) Update(_ context.Context, filters []store.Filter, patch store.Patch) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, store.ErrEmptyPatch
	}

	candidates := s.collect(filters)
	sortEntries(candidates, "created_at", store.SortAsc)

	for _, c := range candidates {
		id := c.msg.ID
		lock := s.getMsgLock(id)
		lock.Lock()

		v, ok := s.messages.Load(id)
		if !ok || !matchesFilters(v.(*entry).msg, filters) {
			lock.Unlock()
			continue
		}

		// Copy-on-write: clone, modify, store
		orig := v.(*entry)
		m := orig.msg.Clone()
		patch.Apply(m, s.now())
		s.messages.Store(id, &entry{msg: m, seq: orig.seq})
		lock.Unlock()

		return m.Clone(), nil
	}
	return nil, store.ErrNotFound
}

// Delete removes the oldest message matching the filters.
func (s *Store) Delete(_ context.Context, filters []store.Filter) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	candidates := s.collect(filters)
	sortEntries(candidates, "created_at", store.SortAsc)

	for _, c := range candidates {
		id := c.msg.ID
		lock := s.getMsgLock(id)
		lock.Lock()
		v, ok := s.messages.Load(id)
		if ok && matchesFilters(v.(*entry).msg, filters) {
			s.messages.Delete(id)
			lock.Unlock()
			s.msgLocks.Delete(id)
			return true, nil
		}
		lock.Unlock()
	}
	return false, nil
}

// DeleteExpiredTrash removes trashed messages with TrashedAt before cutoff.
func (s *Store) DeleteExpiredTrash(_ context.Context, cutoff time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	var deleted int64
	s.messages.Range(func(key, value any) bool {
		id := key.(string)
		lock := s.getMsgLock(id)
		lock.Lock()
		removed := false
		v, ok := s.messages.Load(id)
		if ok {
			m := v.(*entry).msg
			if m.IsTrashed && m.TrashedAt != nil && m.TrashedAt.Before(cutoff) {
				s.messages.Delete(id)
				removed = true
				deleted++
			}
		}
		lock.Unlock()
		if removed {
			s.msgLocks.Delete(id)
		}
		return true
	})
	return deleted, nil
}
