package mongo

import (
	"time"

	"github.com/rbaliyan/mailroom/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// messageDoc is the MongoDB document representation.
type messageDoc struct {
	ID         bson.ObjectID `bson:"_id,omitempty"`
	SenderID   string        `bson:"sender_id"`
	ReceiverID string        `bson:"receiver_id"`
	Subject    string        `bson:"subject"`
	Body       string        `bson:"body"`
	ThreadID   string        `bson:"thread_id"`
	IsRead     bool          `bson:"is_read"`
	IsDraft    bool          `bson:"is_draft"`
	IsTrashed  bool          `bson:"is_trashed"`
	TrashedAt  *time.Time    `bson:"trashed_at,omitempty"`
	CreatedAt  time.Time     `bson:"created_at"`
	UpdatedAt  time.Time     `bson:"updated_at"`
}

func messageToDoc(m *store.Message) (*messageDoc, error) {
	oid, err := bson.ObjectIDFromHex(m.ID)
	if err != nil {
		return nil, store.ErrInvalidID
	}
	return &messageDoc{
		ID:         oid,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Subject:    m.Subject,
		Body:       m.Body,
		ThreadID:   m.ThreadID,
		IsRead:     m.IsRead,
		IsDraft:    m.IsDraft,
		IsTrashed:  m.IsTrashed,
		TrashedAt:  m.TrashedAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

func docToMessage(doc *messageDoc) *store.Message {
	m := &store.Message{
		ID:         doc.ID.Hex(),
		SenderID:   doc.SenderID,
		ReceiverID: doc.ReceiverID,
		Subject:    doc.Subject,
		Body:       doc.Body,
		ThreadID:   doc.ThreadID,
		IsRead:     doc.IsRead,
		IsDraft:    doc.IsDraft,
		IsTrashed:  doc.IsTrashed,
		CreatedAt:  doc.CreatedAt.UTC(),
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}
	if doc.TrashedAt != nil {
		t := doc.TrashedAt.UTC()
		m.TrashedAt = &t
	}
	return m
}

func docsToList(docs []messageDoc, total int64) *store.MessageList {
	messages := make([]*store.Message, len(docs))
	for i := range docs {
		messages[i] = docToMessage(&docs[i])
	}
	return &store.MessageList{Messages: messages, Total: total}
}
