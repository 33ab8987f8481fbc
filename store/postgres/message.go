package postgres

import (
	"database/sql"
	"time"

	"github.com/rbaliyan/mailroom/store"
)

// columns lists the selected columns in messageRow order.
const columns = `id, sender_id, receiver_id, subject, body, thread_id,
	is_read, is_draft, is_trashed, trashed_at, created_at, updated_at`

// messageRow is the sqlx scan target for a messages row.
type messageRow struct {
	ID         string       `db:"id"`
	SenderID   string       `db:"sender_id"`
	ReceiverID string       `db:"receiver_id"`
	Subject    string       `db:"subject"`
	Body       string       `db:"body"`
	ThreadID   string       `db:"thread_id"`
	IsRead     bool         `db:"is_read"`
	IsDraft    bool         `db:"is_draft"`
	IsTrashed  bool         `db:"is_trashed"`
	TrashedAt  sql.NullTime `db:"trashed_at"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
}

func (r *messageRow) toMessage() *store.Message {
	m := &store.Message{
		ID:         r.ID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Subject:    r.Subject,
		Body:       r.Body,
		ThreadID:   r.ThreadID,
		IsRead:     r.IsRead,
		IsDraft:    r.IsDraft,
		IsTrashed:  r.IsTrashed,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.TrashedAt.Valid {
		t := r.TrashedAt.Time.UTC()
		m.TrashedAt = &t
	}
	return m
}

func rowsToList(rows []messageRow, total int64) *store.MessageList {
	messages := make([]*store.Message, len(rows))
	for i := range rows {
		messages[i] = rows[i].toMessage()
	}
	return &store.MessageList{Messages: messages, Total: total}
}
