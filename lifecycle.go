package mailroom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rbaliyan/mailroom/store"
	"go.opentelemetry.io/otel/attribute"
)

// Subject prefixes for derived messages.
const (
	replyPrefix   = "Re: "
	forwardPrefix = "Fwd: "
)

// resolve turns an email or username into a user id.
func (m *userMailbox) resolve(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", &NotFoundError{Resource: "Receiver"}
	}
	r, err := m.service.resolver.Resolve(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrRecipientNotFound) {
			return "", &NotFoundError{Resource: "Receiver"}
		}
		return "", fmt.Errorf("resolve receiver: %w", err)
	}
	if r == nil || r.UserID == "" {
		return "", &NotFoundError{Resource: "Receiver"}
	}
	return r.UserID, nil
}

// Send starts a new thread with a message to req.Receiver.
func (m *userMailbox) Send(ctx context.Context, req SendRequest) (*Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if err := requireFields("All fields required",
		"receiver", req.Receiver, "subject", req.Subject, "body", req.Body); err != nil {
		return nil, err
	}
	receiverID, err := m.resolve(ctx, req.Receiver)
	if err != nil {
		return nil, err
	}
	if err := ValidateContentWithLimits(req.Subject, req.Body, m.service.opts.getLimits()); err != nil {
		return nil, err
	}

	id := m.service.store.NewID()
	msg := &Message{
		ID:         id,
		SenderID:   m.userID,
		ReceiverID: receiverID,
		Subject:    req.Subject,
		Body:       req.Body,
		ThreadID:   rootThread(id),
	}
	return m.send(ctx, "send", msg, m.create(msg))
}

// Reply answers originalID. The new message goes to the original's sender
// and stays in the original's thread.
func (m *userMailbox) Reply(ctx context.Context, originalID, body string) (*Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	orig, err := m.service.store.FindOne(ctx, m.originalFilters(originalID))
	if err != nil {
		return nil, notFound(err, "Original message", "load original")
	}
	if err := requireFields("Body is required", "body", body); err != nil {
		return nil, err
	}
	if err := ValidateBodyWithLimits(body, m.service.opts.getLimits()); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:         m.service.store.NewID(),
		SenderID:   m.userID,
		ReceiverID: orig.SenderID,
		Subject:    replyPrefix + orig.Subject,
		Body:       body,
		ThreadID:   replyThread(orig),
	}
	return m.send(ctx, "reply", msg, m.create(msg))
}

// Forward sends a copy of originalID to receiver in the original's thread.
func (m *userMailbox) Forward(ctx context.Context, originalID, receiver string) (*Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	receiverID, err := m.resolve(ctx, receiver)
	if err != nil {
		return nil, err
	}
	orig, err := m.service.store.FindOne(ctx, m.originalFilters(originalID))
	if err != nil {
		return nil, notFound(err, "Original message", "load original")
	}

	msg := &Message{
		ID:         m.service.store.NewID(),
		SenderID:   m.userID,
		ReceiverID: receiverID,
		Subject:    forwardPrefix + orig.Subject,
		Body:       orig.Body,
		ThreadID:   forwardThread(orig),
	}
	return m.send(ctx, "forward", msg, m.create(msg))
}

// SaveDraft stores an unsent message. The receiver, when given, must exist.
func (m *userMailbox) SaveDraft(ctx context.Context, req DraftRequest) (draft *Message, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	ctx, endSpan := m.service.otel.startSpan(ctx, "mailroom.draft.save",
		attribute.String("user_id", m.userID),
	)
	start := time.Now()
	defer func() {
		endSpan(err)
		m.service.otel.recordUpdate(ctx, time.Since(start), "save_draft", err)
	}()

	if err = ValidateContentWithLimits(req.Subject, req.Body, m.service.opts.getLimits()); err != nil {
		return nil, err
	}
	var receiverID string
	if strings.TrimSpace(req.Receiver) != "" {
		if receiverID, err = m.resolve(ctx, req.Receiver); err != nil {
			return nil, err
		}
	}

	draft, err = m.service.store.Create(ctx, &Message{
		ID:         m.service.store.NewID(),
		SenderID:   m.userID,
		ReceiverID: receiverID,
		Subject:    req.Subject,
		Body:       req.Body,
		IsDraft:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	return draft, nil
}

// UpdateDraft changes the caller's draft in a single conditional write.
// Concurrent updates are last-write-wins.
func (m *userMailbox) UpdateDraft(ctx context.Context, draftID string, update DraftUpdate) (draft *Message, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	ctx, endSpan := m.service.otel.startSpan(ctx, "mailroom.draft.update",
		attribute.String("user_id", m.userID),
		attribute.String("message_id", draftID),
	)
	start := time.Now()
	defer func() {
		endSpan(err)
		m.service.otel.recordUpdate(ctx, time.Since(start), "update_draft", err)
	}()

	limits := m.service.opts.getLimits()
	patch := store.Patch{Subject: update.Subject, Body: update.Body}
	if update.Subject != nil {
		if err = ValidateSubjectWithLimits(*update.Subject, limits); err != nil {
			return nil, err
		}
	}
	if update.Body != nil {
		if err = ValidateBodyWithLimits(*update.Body, limits); err != nil {
			return nil, err
		}
	}
	if update.Receiver != nil {
		var receiverID string
		if strings.TrimSpace(*update.Receiver) != "" {
			if receiverID, err = m.resolve(ctx, *update.Receiver); err != nil {
				return nil, err
			}
		}
		patch.ReceiverID = &receiverID
	}

	filters := m.ownedDraftFilters(draftID)
	if patch.IsEmpty() {
		draft, err = m.service.store.FindOne(ctx, filters)
	} else {
		draft, err = m.service.store.Update(ctx, filters, patch)
	}
	if err != nil {
		return nil, notFound(err, "Draft", "update draft")
	}
	return draft, nil
}

// SendDraft sends a draft as the root of a new thread. Only one of several
// concurrent calls succeeds; the others see "Draft not found".
func (m *userMailbox) SendDraft(ctx context.Context, draftID string) (*Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	filters := m.sendDraftFilters(draftID)
	draft, err := m.service.store.FindOne(ctx, filters)
	if err != nil {
		return nil, notFound(err, "Draft", "load draft")
	}
	if draft.ReceiverID == "" {
		return nil, &ValidationError{Field: "receiver", Message: "Receiver is required"}
	}

	hasReceiver, err := store.MessageFilter("ReceiverID").NotEqual("")
	if err != nil {
		return nil, err
	}
	threadID := rootThread(draft.ID)
	patch := store.Patch{ThreadID: &threadID, Send: true}
	commit := func(ctx context.Context) (*Message, error) {
		sent, err := m.service.store.Update(ctx, append(filters, hasReceiver), patch)
		if err != nil {
			return nil, notFound(err, "Draft", "send draft")
		}
		return sent, nil
	}
	return m.send(ctx, "draft", draft, commit)
}

// create returns a commit step that inserts msg.
func (m *userMailbox) create(msg *Message) func(context.Context) (*Message, error) {
	return func(ctx context.Context) (*Message, error) {
		sent, err := m.service.store.Create(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		return sent, nil
	}
}

// send runs the shared pipeline for every message that leaves its sender:
// bound concurrency, run BeforeSend hooks on msg, commit, then publish,
// run AfterSend hooks and notify the receiver. An event publish failure is
// only returned with WithEventErrorsFatal, alongside the sent message.
func (m *userMailbox) send(ctx context.Context, kind string, msg *Message, commit func(context.Context) (*Message, error)) (sent *Message, err error) {
	ctx, endSpan := m.service.otel.startSpan(ctx, "mailroom."+kind,
		attribute.String("user_id", m.userID),
		attribute.String("thread_id", msg.ThreadID),
	)
	start := time.Now()
	defer func() {
		endSpan(err)
		m.service.otel.recordSend(ctx, time.Since(start), kind, err)
	}()

	if err = m.service.sendSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.service.sendSem.Release(1)

	if err = m.service.plugins.beforeSend(ctx, m.userID, msg); err != nil {
		return nil, err
	}

	if sent, err = commit(ctx); err != nil {
		return nil, err
	}

	s := m.service
	err = publish(ctx, s, s.events.MessageSent, EventNameMessageSent, sent.ID, MessageSentEvent{
		MessageID:  sent.ID,
		ThreadID:   sent.ThreadID,
		SenderID:   sent.SenderID,
		ReceiverID: sent.ReceiverID,
		Subject:    sent.Subject,
		SentAt:     sent.UpdatedAt,
	})
	s.plugins.afterSend(ctx, m.userID, sent)
	s.notify.dispatch(ctx, sent.ReceiverID, sent)

	s.logger.Debug("message sent", "kind", kind, "message_id", sent.ID, "thread_id", sent.ThreadID)
	return sent, err
}

// MarkRead marks a received message as read.
func (m *userMailbox) MarkRead(ctx context.Context, messageID string) (*Message, error) {
	read := true
	msg, err := m.mutate(ctx, "mark_read", m.markReadFilters(messageID), store.Patch{IsRead: &read})
	if err != nil {
		return nil, err
	}
	s := m.service
	return msg, publish(ctx, s, s.events.MessageRead, EventNameMessageRead, msg.ID, MessageReadEvent{
		MessageID: msg.ID,
		UserID:    m.userID,
		ReadAt:    msg.UpdatedAt,
	})
}

// MoveToTrash moves a message to trash and stamps the trash time.
func (m *userMailbox) MoveToTrash(ctx context.Context, messageID string) (*Message, error) {
	trashed := true
	msg, err := m.mutate(ctx, "trash", m.participantFilters(messageID), store.Patch{IsTrashed: &trashed})
	if err != nil {
		return nil, err
	}
	s := m.service
	return msg, publish(ctx, s, s.events.MessageTrashed, EventNameMessageTrashed, msg.ID, MessageTrashedEvent{
		MessageID: msg.ID,
		UserID:    m.userID,
		TrashedAt: msg.UpdatedAt,
	})
}

// Restore takes a message out of the caller's trash.
func (m *userMailbox) Restore(ctx context.Context, messageID string) (*Message, error) {
	trashed := false
	msg, err := m.mutate(ctx, "restore", m.restoreFilters(messageID), store.Patch{IsTrashed: &trashed})
	if err != nil {
		return nil, err
	}
	s := m.service
	return msg, publish(ctx, s, s.events.MessageRestored, EventNameMessageRestored, msg.ID, MessageRestoredEvent{
		MessageID:  msg.ID,
		UserID:     m.userID,
		RestoredAt: msg.UpdatedAt,
	})
}

// mutate applies patch to the one message matching filters.
func (m *userMailbox) mutate(ctx context.Context, op string, filters []store.Filter, patch store.Patch) (msg *Message, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	ctx, endSpan := m.service.otel.startSpan(ctx, "mailroom."+op,
		attribute.String("user_id", m.userID),
	)
	start := time.Now()
	defer func() {
		endSpan(err)
		m.service.otel.recordUpdate(ctx, time.Since(start), op, err)
	}()

	msg, err = m.service.store.Update(ctx, filters, patch)
	if err != nil {
		return nil, notFound(err, "Message", op)
	}
	return msg, nil
}

// Delete permanently removes a message. A message that does not exist (or
// is not the caller's) is silently ignored.
func (m *userMailbox) Delete(ctx context.Context, messageID string) (err error) {
	if err := m.checkAccess(); err != nil {
		return err
	}
	ctx, endSpan := m.service.otel.startSpan(ctx, "mailroom.delete",
		attribute.String("user_id", m.userID),
		attribute.String("message_id", messageID),
	)
	start := time.Now()
	defer func() {
		endSpan(err)
		m.service.otel.recordDelete(ctx, time.Since(start), err)
	}()

	deleted, err := m.service.store.Delete(ctx, m.participantFilters(messageID))
	if err != nil {
		if store.IsInvalidID(err) || store.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete message: %w", err)
	}
	if !deleted {
		return nil
	}

	s := m.service
	return publish(ctx, s, s.events.MessageDeleted, EventNameMessageDeleted, messageID, MessageDeletedEvent{
		MessageID: messageID,
		UserID:    m.userID,
		DeletedAt: time.Now().UTC(),
	})
}
