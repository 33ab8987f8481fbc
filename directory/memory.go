package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time check
var _ Directory = (*Memory)(nil)

// Memory is an in-memory Directory.
type Memory struct {
	mu    sync.RWMutex
	users map[string]*User // by id
	order []string         // ids in creation order
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]*User)}
}

func (m *Memory) Create(_ context.Context, u *User) (*User, error) {
	c, err := normalize(u)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == c.Email || (c.Username != "" && existing.Username == c.Username) {
			return nil, ErrUserExists
		}
	}
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()
	m.users[c.ID] = c
	m.order = append(m.order, c.ID)

	out := *c
	return &out, nil
}

func (m *Memory) ByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (m *Memory) ByIDs(_ context.Context, ids []string) (map[string]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*User, len(ids))
	for _, id := range uniqueIDs(ids) {
		if u, ok := m.users[id]; ok {
			c := *u
			out[id] = &c
		}
	}
	return out, nil
}

func (m *Memory) ByIdentifier(_ context.Context, identifier string) (*User, error) {
	if identifier == "" {
		return nil, ErrUserNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		u := m.users[id]
		if u.Email == identifier || u.Username == identifier {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *Memory) Search(_ context.Context, q string, limit int) ([]*User, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return []*User{}, nil
	}
	limit = searchLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, limit)
	for _, id := range m.order {
		u := m.users[id]
		if strings.Contains(strings.ToLower(u.Email), q) || strings.Contains(strings.ToLower(u.Username), q) {
			c := *u
			out = append(out, &c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
