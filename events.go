package mailroom

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for mailroom events.
const (
	EventNameMessageSent     = "mailroom.message.sent"
	EventNameMessageRead     = "mailroom.message.read"
	EventNameMessageTrashed  = "mailroom.message.trashed"
	EventNameMessageRestored = "mailroom.message.restored"
	EventNameMessageDeleted  = "mailroom.message.deleted"
)

// MessageSentEvent is published when a message is sent (directly, as a
// reply or forward, or from a draft).
type MessageSentEvent struct {
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `json:"sent_at"`
}

// MessageReadEvent is published when a message is marked as read.
type MessageReadEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// MessageTrashedEvent is published when a message is moved to trash.
type MessageTrashedEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	TrashedAt time.Time `json:"trashed_at"`
}

// MessageRestoredEvent is published when a message is restored from trash.
type MessageRestoredEvent struct {
	MessageID  string    `json:"message_id"`
	UserID     string    `json:"user_id"`
	RestoredAt time.Time `json:"restored_at"`
}

// MessageDeletedEvent is published when a message is permanently deleted.
type MessageDeletedEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
type ServiceEvents struct {
	MessageSent     event.Event[MessageSentEvent]
	MessageRead     event.Event[MessageReadEvent]
	MessageTrashed  event.Event[MessageTrashedEvent]
	MessageRestored event.Event[MessageRestoredEvent]
	MessageDeleted  event.Event[MessageDeletedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageSent:     event.New[MessageSentEvent](namePrefix + "." + EventNameMessageSent),
		MessageRead:     event.New[MessageReadEvent](namePrefix + "." + EventNameMessageRead),
		MessageTrashed:  event.New[MessageTrashedEvent](namePrefix + "." + EventNameMessageTrashed),
		MessageRestored: event.New[MessageRestoredEvent](namePrefix + "." + EventNameMessageRestored),
		MessageDeleted:  event.New[MessageDeletedEvent](namePrefix + "." + EventNameMessageDeleted),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageSent); err != nil {
		return fmt.Errorf("register MessageSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageRead); err != nil {
		return fmt.Errorf("register MessageRead: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageTrashed); err != nil {
		return fmt.Errorf("register MessageTrashed: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageRestored); err != nil {
		return fmt.Errorf("register MessageRestored: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageDeleted); err != nil {
		return fmt.Errorf("register MessageDeleted: %w", err)
	}
	return nil
}

// publish sends payload on ev. Failures are reported to the failure
// handler, or returned as *EventPublishError when event errors are fatal.
func publish[T any](ctx context.Context, s *service, ev event.Event[T], name, messageID string, payload T) error {
	if ev == nil {
		return nil
	}
	if err := ev.Publish(ctx, payload); err != nil {
		if s.opts.eventErrorsFatal {
			return &EventPublishError{Event: name, MessageID: messageID, Err: err}
		}
		s.opts.safeEventPublishFailure(name, err)
	}
	return nil
}
