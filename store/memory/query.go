package memory

import (
	"context"
	"strings"

	"github.com/rbaliyan/mailroom/store"
)

// Get retrieves a message by ID.
func (s *Store) Get(_ context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	v, ok := s.messages.Load(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.(*entry).msg.Clone(), nil
}

// FindOne returns the oldest message matching the filters.
func (s *Store) FindOne(_ context.Context, filters []store.Filter) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	matches := s.collect(filters)
	if len(matches) == 0 {
		return nil, store.ErrNotFound
	}
	sortEntries(matches, "created_at", store.SortAsc)
	return matches[0].msg.Clone(), nil
}

// Find retrieves messages matching the filters.
func (s *Store) Find(_ context.Context, filters []store.Filter, opts store.ListOptions) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	all := s.collect(filters)
	return page(all, opts), nil
}

// Count returns the count of messages matching the filters.
func (s *Store) Count(_ context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	return int64(len(s.collect(filters))), nil
}

// Search performs a case-insensitive substring search on the query fields.
func (s *Store) Search(_ context.Context, query store.SearchQuery) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	term := strings.ToLower(query.Query)
	fields := query.Fields
	if len(fields) == 0 {
		fields = []string{"subject", "body"}
	}

	var all []*entry
	for _, e := range s.collect(query.Filters) {
		if term == "" || containsAny(e.msg, fields, term) {
			all = append(all, e)
		}
	}
	return page(all, query.Options), nil
}

// collect returns a snapshot of all entries matching the filters.
func (s *Store) collect(filters []store.Filter) []*entry {
	var out []*entry
	s.messages.Range(func(_, v any) bool {
		e := v.(*entry)
		if matchesFilters(e.msg, filters) {
			out = append(out, e)
		}
		return true
	})
	return out
}

// page sorts and slices entries into a MessageList.
func page(all []*entry, opts store.ListOptions) *store.MessageList {
	sortEntries(all, opts.SortBy, opts.SortOrder)

	total := int64(len(all))
	start := opts.Offset
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	messages := make([]*store.Message, 0, end-start)
	for _, e := range all[start:end] {
		messages = append(messages, e.msg.Clone())
	}
	return &store.MessageList{Messages: messages, Total: total}
}

func containsAny(m *store.Message, fields []string, term string) bool {
	for _, f := range fields {
		key, _ := store.MessageFieldKey(f)
		var v string
		switch key {
		case "subject":
			v = m.Subject
		case "body":
			v = m.Body
		default:
			continue
		}
		if strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}
