package store

import (
	"time"
)

// Message is a single mail record. The same document is seen by its sender
// and its receiver; visibility is decided by filters, not by copies.
//
// ReceiverID is empty only while the message is a draft without a chosen
// recipient. ThreadID is empty only while the message is a draft.
type Message struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"sender"`
	ReceiverID string     `json:"receiver,omitempty"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	ThreadID   string     `json:"threadId,omitempty"`
	IsRead     bool       `json:"isRead"`
	IsDraft    bool       `json:"isDraft"`
	IsTrashed  bool       `json:"isTrashed"`
	TrashedAt  *time.Time `json:"trashedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.TrashedAt != nil {
		t := *m.TrashedAt
		c.TrashedAt = &t
	}
	return &c
}

// IsParticipant reports whether userID is the sender or the receiver.
func (m *Message) IsParticipant(userID string) bool {
	return userID != "" && (m.SenderID == userID || m.ReceiverID == userID)
}

// Patch describes a partial update applied by Store.Update.
// Nil fields are left unchanged.
//
// There is deliberately no way to set IsDraft back to true: Send only
// clears the flag.
type Patch struct {
	ReceiverID *string
	Subject    *string
	Body       *string
	ThreadID   *string
	IsRead     *bool
	IsTrashed  *bool // true stamps TrashedAt, false clears it

	// Send clears IsDraft.
	Send bool
}

// IsEmpty returns true if the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.ReceiverID == nil && p.Subject == nil && p.Body == nil &&
		p.ThreadID == nil && p.IsRead == nil && p.IsTrashed == nil && !p.Send
}

// Apply applies the patch to m in place. Backends without native partial
// updates (memory) use this directly; SQL and Mongo backends translate the
// same fields into their own update statements.
func (p Patch) Apply(m *Message, now time.Time) {
	if p.ReceiverID != nil {
		m.ReceiverID = *p.ReceiverID
	}
	if p.Subject != nil {
		m.Subject = *p.Subject
	}
	if p.Body != nil {
		m.Body = *p.Body
	}
	if p.ThreadID != nil {
		m.ThreadID = *p.ThreadID
	}
	if p.IsRead != nil {
		m.IsRead = *p.IsRead
	}
	if p.IsTrashed != nil {
		m.IsTrashed = *p.IsTrashed
		if *p.IsTrashed {
			t := now
			m.TrashedAt = &t
		} else {
			m.TrashedAt = nil
		}
	}
	if p.Send {
		m.IsDraft = false
	}
	m.UpdatedAt = now
}

// MessageList represents a page of messages.
type MessageList struct {
	Messages []*Message
	// Total is the number of messages matching the filters, ignoring paging.
	Total int64
}
