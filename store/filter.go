package store

import (
	"fmt"
)

// SortOrder represents the sort direction.
type SortOrder int

const (
	// SortAsc sorts in ascending order.
	SortAsc SortOrder = 1
	// SortDesc sorts in descending order.
	SortDesc SortOrder = -1
)

// ListOptions configures message listing.
type ListOptions struct {
	Limit     int
	Offset    int
	SortBy    string
	SortOrder SortOrder
}

// SearchQuery represents a substring search request.
// Query is matched literally and case-insensitively against each of Fields
// (any field matching is enough). Filters are ANDed with the text match.
type SearchQuery struct {
	Query   string
	Fields  []string    // defaults to subject and body
	Filters []Filter    // visibility filters
	Options ListOptions // paging and sorting
}

// Filter operators.
const (
	OpEqual        = "eq"
	OpNotEqual     = "ne"
	OpGreater      = "gt"
	OpGreaterEqual = "gte"
	OpLess         = "lt"
	OpLessEqual    = "lte"
	OpIn           = "in"
	OpExists       = "exists"
	OpAnyOf        = "or"
	OpAllOf        = "and"
)

// Filter represents a query filter with a field key, comparison operator, and value.
// Composite filters (OpAnyOf, OpAllOf) have no key and carry their children
// as the value.
type Filter struct {
	key      string
	value    any
	operator string
}

// Key returns the storage field key.
func (f Filter) Key() string { return f.key }

// Value returns the filter value.
func (f Filter) Value() any { return f.value }

// Operator returns the comparison operator.
func (f Filter) Operator() string { return f.operator }

// Children returns the nested filters of a composite filter.
func (f Filter) Children() []Filter {
	children, _ := f.value.([]Filter)
	return children
}

// IsComposite reports whether f combines other filters.
func (f Filter) IsComposite() bool {
	return f.operator == OpAnyOf || f.operator == OpAllOf
}

// FilterBuilder builds filters for a specific message field.
// Use MessageFilter() to create one, then chain a comparison method:
//
//	filter, err := store.MessageFilter("TrashedAt").LessThan(cutoff)
type FilterBuilder struct {
	key string
	err error
}

var validOperators = map[string]bool{
	OpEqual:        true,
	OpNotEqual:     true,
	OpGreater:      true,
	OpGreaterEqual: true,
	OpLess:         true,
	OpLessEqual:    true,
	OpIn:           true,
	OpExists:       true,
}

// NewFilter creates a filter with the given key, operator, and value.
// Returns ErrFilterInvalid if the key or operator is invalid.
func NewFilter(key, operator string, value any) (Filter, error) {
	storageKey, ok := MessageFieldKey(key)
	if !ok {
		return Filter{}, fmt.Errorf("%w: unsupported field: %s", ErrFilterInvalid, key)
	}
	if !validOperators[operator] {
		return Filter{}, fmt.Errorf("%w: unsupported operator: %s", ErrFilterInvalid, operator)
	}
	return Filter{key: storageKey, value: value, operator: operator}, nil
}

// AnyOf matches when at least one of the filters matches.
func AnyOf(filters ...Filter) Filter {
	return Filter{operator: OpAnyOf, value: filters}
}

// AllOf matches when every filter matches.
func AllOf(filters ...Filter) Filter {
	return Filter{operator: OpAllOf, value: filters}
}

// FilterError represents an error in filter building.
type FilterError struct {
	Key string
	Err error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Key, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

func (b *FilterBuilder) build(op string, v any) (Filter, error) {
	if b.err != nil {
		return Filter{}, &FilterError{Key: b.key, Err: b.err}
	}
	return Filter{key: b.key, value: v, operator: op}, nil
}

func (b *FilterBuilder) Equal(v any) (Filter, error)            { return b.build(OpEqual, v) }
func (b *FilterBuilder) NotEqual(v any) (Filter, error)         { return b.build(OpNotEqual, v) }
func (b *FilterBuilder) GreaterThan(v any) (Filter, error)      { return b.build(OpGreater, v) }
func (b *FilterBuilder) GreaterThanEqual(v any) (Filter, error) { return b.build(OpGreaterEqual, v) }
func (b *FilterBuilder) LessThan(v any) (Filter, error)         { return b.build(OpLess, v) }
func (b *FilterBuilder) LessThanEqual(v any) (Filter, error)    { return b.build(OpLessEqual, v) }
func (b *FilterBuilder) In(v ...string) (Filter, error)         { return b.build(OpIn, v) }
func (b *FilterBuilder) Exists(v bool) (Filter, error)          { return b.build(OpExists, v) }

// MessageFilter returns a filter builder for message fields.
func MessageFilter(field string) *FilterBuilder {
	key, ok := MessageFieldKey(field)
	if !ok {
		return &FilterBuilder{key: field, err: fmt.Errorf("%w: unsupported field: %s", ErrFilterInvalid, field)}
	}
	return &FilterBuilder{key: key}
}

// MessageFieldKey maps field names to storage keys.
func MessageFieldKey(field string) (string, bool) {
	switch field {
	case "ID", "id":
		return "id", true
	case "SenderID", "sender_id":
		return "sender_id", true
	case "ReceiverID", "receiver_id":
		return "receiver_id", true
	case "Subject", "subject":
		return "subject", true
	case "Body", "body":
		return "body", true
	case "ThreadID", "thread_id":
		return "thread_id", true
	case "IsRead", "is_read":
		return "is_read", true
	case "IsDraft", "is_draft":
		return "is_draft", true
	case "IsTrashed", "is_trashed":
		return "is_trashed", true
	case "TrashedAt", "trashed_at":
		return "trashed_at", true
	case "CreatedAt", "created_at":
		return "created_at", true
	case "UpdatedAt", "updated_at":
		return "updated_at", true
	default:
		return "", false
	}
}

// MessageOrderingKey returns the storage key for sorting.
// Only timestamps and subject are sortable.
func MessageOrderingKey(field string) (string, bool) {
	key, ok := MessageFieldKey(field)
	if !ok {
		return "", false
	}
	switch key {
	case "created_at", "updated_at", "subject":
		return key, true
	}
	return "", false
}

// Convenience filter functions

// IDIs returns a filter matching a single message ID.
func IDIs(id string) Filter {
	f, _ := MessageFilter("ID").Equal(id)
	return f
}

// SenderIs returns a filter for messages from a specific sender.
func SenderIs(senderID string) Filter {
	f, _ := MessageFilter("SenderID").Equal(senderID)
	return f
}

// ReceiverIs returns a filter for messages addressed to a specific user.
func ReceiverIs(receiverID string) Filter {
	f, _ := MessageFilter("ReceiverID").Equal(receiverID)
	return f
}

// ThreadIs returns a filter for messages in a specific thread.
func ThreadIs(threadID string) Filter {
	f, _ := MessageFilter("ThreadID").Equal(threadID)
	return f
}

// DraftIs returns a filter on the draft flag.
func DraftIs(isDraft bool) Filter {
	f, _ := MessageFilter("IsDraft").Equal(isDraft)
	return f
}

// TrashedIs returns a filter on the trash flag.
func TrashedIs(isTrashed bool) Filter {
	f, _ := MessageFilter("IsTrashed").Equal(isTrashed)
	return f
}

// ReadIs returns a filter on the read flag.
func ReadIs(isRead bool) Filter {
	f, _ := MessageFilter("IsRead").Equal(isRead)
	return f
}
