package memory

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/rbaliyan/mailroom/store"
)

func matchesFilters(m *store.Message, filters []store.Filter) bool {
	for _, f := range filters {
		if !matchesFilter(m, f) {
			return false
		}
	}
	return true
}

func matchesFilter(m *store.Message, f store.Filter) bool {
	switch f.Operator() {
	case store.OpAllOf:
		return matchesFilters(m, f.Children())
	case store.OpAnyOf:
		for _, c := range f.Children() {
			if matchesFilter(m, c) {
				return true
			}
		}
		return false
	}

	fieldValue, ok := fieldOf(m, f.Key())
	if !ok {
		return false
	}
	value := f.Value()

	switch f.Operator() {
	case store.OpEqual:
		return fieldValue == value
	case store.OpNotEqual:
		return fieldValue != value
	case store.OpLess:
		return fieldValue != nil && compareValues(fieldValue, value) < 0
	case store.OpLessEqual:
		return fieldValue != nil && compareValues(fieldValue, value) <= 0
	case store.OpGreater:
		return fieldValue != nil && compareValues(fieldValue, value) > 0
	case store.OpGreaterEqual:
		return fieldValue != nil && compareValues(fieldValue, value) >= 0
	case store.OpExists:
		exists, _ := value.(bool)
		isEmpty := fieldValue == "" || fieldValue == nil
		return exists != isEmpty
	case store.OpIn:
		return valueInSet(fieldValue, value)
	default:
		return false
	}
}

// fieldOf returns the value of a storage key. A nil TrashedAt is reported
// as an untyped nil so comparisons against it never match.
func fieldOf(m *store.Message, key string) (any, bool) {
	switch key {
	case "id":
		return m.ID, true
	case "sender_id":
		return m.SenderID, true
	case "receiver_id":
		return m.ReceiverID, true
	case "subject":
		return m.Subject, true
	case "body":
		return m.Body, true
	case "thread_id":
		return m.ThreadID, true
	case "is_read":
		return m.IsRead, true
	case "is_draft":
		return m.IsDraft, true
	case "is_trashed":
		return m.IsTrashed, true
	case "trashed_at":
		if m.TrashedAt == nil {
			return nil, true
		}
		return *m.TrashedAt, true
	case "created_at":
		return m.CreatedAt, true
	case "updated_at":
		return m.UpdatedAt, true
	}
	return nil, false
}

// valueInSet checks if a scalar value is in a set (slice) of values.
func valueInSet(fieldValue any, set any) bool {
	switch s := set.(type) {
	case []string:
		fv, ok := fieldValue.(string)
		if !ok {
			return false
		}
		return slices.Contains(s, fv)
	case []any:
		for _, v := range s {
			if v == fieldValue {
				return true
			}
		}
	}
	return false
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return 0
}

// sortEntries orders entries by the given key. Insertion order breaks ties
// in the same direction, so equal timestamps still sort deterministically.
func sortEntries(entries []*entry, sortBy string, order store.SortOrder) {
	key, ok := store.MessageOrderingKey(sortBy)
	if !ok {
		key = "created_at"
	}
	if order == 0 {
		order = store.SortDesc
	}

	slices.SortFunc(entries, func(a, b *entry) int {
		var c int
		switch key {
		case "updated_at":
			c = a.msg.UpdatedAt.Compare(b.msg.UpdatedAt)
		case "subject":
			c = strings.Compare(a.msg.Subject, b.msg.Subject)
		default:
			c = a.msg.CreatedAt.Compare(b.msg.CreatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.seq, b.seq)
		}
		if order == store.SortDesc {
			return -c
		}
		return c
	})
}
