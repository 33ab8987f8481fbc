package mailroom

import "github.com/rbaliyan/mailroom/store"

// Type aliases for commonly used store types.
// These allow users to work with the mailroom package without importing store directly.
type (
	Message     = store.Message
	ListOptions = store.ListOptions
	SortOrder   = store.SortOrder
)

// Re-exported sort order constants.
const (
	SortAsc  = store.SortAsc
	SortDesc = store.SortDesc
)

// SendRequest is a new message addressed by email or username.
type SendRequest struct {
	Receiver string `json:"receiver"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// DraftRequest creates a draft. Every field is optional.
type DraftRequest struct {
	Receiver string `json:"receiver"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// DraftUpdate changes a draft. Nil fields are left as they are; an empty
// Receiver clears the recipient.
type DraftUpdate struct {
	Receiver *string `json:"receiver"`
	Subject  *string `json:"subject"`
	Body     *string `json:"body"`
}

// IsEmpty reports whether the update changes nothing.
func (u DraftUpdate) IsEmpty() bool {
	return u.Receiver == nil && u.Subject == nil && u.Body == nil
}

// PageRequest selects an inbox page. Page is 1-based; zero values pick
// the defaults.
type PageRequest struct {
	Page  int
	Limit int
}

// Page is one page of the inbox.
//
// Limit is the page size actually applied after defaults and the cap, so
// TotalPages is always ceil(Total/Limit).
type Page struct {
	Messages   []*Message `json:"messages"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"totalPages"`
	Total      int64      `json:"total"`
}
