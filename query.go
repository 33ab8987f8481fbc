package mailroom

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rbaliyan/mailroom/store"
	"go.opentelemetry.io/otel/attribute"
)

// Get returns a single message visible to the caller.
func (m *userMailbox) Get(ctx context.Context, messageID string) (msg *Message, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	ctx, endSpan := m.service.otel.startSpan(ctx, "mailroom.get",
		attribute.String("user_id", m.userID),
		attribute.String("message_id", messageID),
	)
	start := time.Now()
	defer func() {
		endSpan(err)
		m.service.otel.recordGet(ctx, time.Since(start), err)
	}()

	msg, err = m.service.store.FindOne(ctx, m.getFilters(messageID))
	if err != nil {
		return nil, notFound(err, "Message", "get message")
	}
	return msg, nil
}

// Inbox returns one page of received, sent, untrashed messages, newest first.
func (m *userMailbox) Inbox(ctx context.Context, req PageRequest) (page *Page, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	ctx, endSpan := m.service.otel.startSpan(ctx, "mailroom.inbox",
		attribute.String("user_id", m.userID),
	)
	start := time.Now()
	defer func() {
		n := 0
		if page != nil {
			n = len(page.Messages)
		}
		endSpan(err)
		m.service.otel.recordList(ctx, time.Since(start), "inbox", n, err)
	}()

	pageNum, limit := m.normalizePage(req)
	page = &Page{Messages: []*Message{}, Page: pageNum, Limit: limit}

	filters := inboxFilters(m.userID)
	if pageNum-1 > math.MaxInt/limit {
		// Offset would overflow; no store holds that many messages.
		total, err := m.service.store.Count(ctx, filters)
		if err != nil {
			return nil, fmt.Errorf("count inbox: %w", err)
		}
		page.Total = total
		page.TotalPages = totalPages(total, limit)
		return page, nil
	}

	list, err := m.service.store.Find(ctx, filters, store.ListOptions{
		Limit:     limit,
		Offset:    (pageNum - 1) * limit,
		SortBy:    "created_at",
		SortOrder: store.SortDesc,
	})
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	if list.Messages != nil {
		page.Messages = list.Messages
	}
	page.Total = list.Total
	page.TotalPages = totalPages(list.Total, limit)
	return page, nil
}

// normalizePage applies the page defaults: page < 1 is 1, limit < 1 is the
// default limit, and limit is capped at the maximum.
func (m *userMailbox) normalizePage(req PageRequest) (int, int) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit < 1 {
		limit = m.service.opts.defaultQueryLimit
	}
	if limit > m.service.opts.maxQueryLimit {
		limit = m.service.opts.maxQueryLimit
	}
	return page, limit
}

// totalPages is ceil(total/limit).
func totalPages(total int64, limit int) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

// Drafts lists the caller's drafts, most recently edited first.
func (m *userMailbox) Drafts(ctx context.Context) ([]*Message, error) {
	return m.list(ctx, "drafts", draftFilters(m.userID), "updated_at")
}

// Trash lists the caller's trashed messages, newest first.
func (m *userMailbox) Trash(ctx context.Context) ([]*Message, error) {
	return m.list(ctx, "trash", trashFilters(m.userID), "created_at")
}

func (m *userMailbox) list(ctx context.Context, folder string, filters []store.Filter, sortBy string) (msgs []*Message, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	ctx, endSpan := m.service.otel.startSpan(ctx, "mailroom."+folder,
		attribute.String("user_id", m.userID),
	)
	start := time.Now()
	defer func() {
		endSpan(err)
		m.service.otel.recordList(ctx, time.Since(start), folder, len(msgs), err)
	}()

	list, err := m.service.store.Find(ctx, filters, store.ListOptions{
		Limit:     m.service.opts.maxListLimit,
		SortBy:    sortBy,
		SortOrder: store.SortDesc,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}
	return nonNil(list.Messages), nil
}

// Search matches q against subject and body of the caller's inbox.
func (m *userMailbox) Search(ctx context.Context, q string) (msgs []*Message, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(q) == "" {
		return []*Message{}, nil
	}
	ctx, endSpan := m.service.otel.startSpan(ctx, "mailroom.search",
		attribute.String("user_id", m.userID),
	)
	start := time.Now()
	defer func() {
		endSpan(err)
		m.service.otel.recordSearch(ctx, time.Since(start), len(msgs), err)
	}()

	list, err := m.service.store.Search(ctx, store.SearchQuery{
		Query:   q,
		Fields:  []string{"subject", "body"},
		Filters: inboxFilters(m.userID),
		Options: store.ListOptions{
			Limit:     m.service.opts.maxListLimit,
			SortBy:    "created_at",
			SortOrder: store.SortDesc,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return nonNil(list.Messages), nil
}

// Thread returns every message of a thread, oldest first. Under
// PolicyParticipants the caller must have sent or received at least one of
// them; otherwise the thread is reported as not found.
func (m *userMailbox) Thread(ctx context.Context, threadID string) (msgs []*Message, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	ctx, endSpan := m.service.otel.startSpan(ctx, "mailroom.thread",
		attribute.String("user_id", m.userID),
		attribute.String("thread_id", threadID),
	)
	start := time.Now()
	defer func() {
		endSpan(err)
		m.service.otel.recordList(ctx, time.Since(start), "thread", len(msgs), err)
	}()

	open := m.policy() == PolicyOpen
	if strings.TrimSpace(threadID) == "" {
		if open {
			return []*Message{}, nil
		}
		return nil, &NotFoundError{Resource: "Thread"}
	}

	filters := threadFilters(threadID)
	if !open {
		n, err := m.service.store.Count(ctx, append(threadFilters(threadID), participant(m.userID)))
		if err != nil {
			return nil, fmt.Errorf("check thread access: %w", err)
		}
		if n == 0 {
			return nil, &NotFoundError{Resource: "Thread"}
		}
	}

	list, err := m.service.store.Find(ctx, filters, store.ListOptions{
		Limit:     m.service.opts.maxListLimit,
		SortBy:    "created_at",
		SortOrder: store.SortAsc,
	})
	if err != nil {
		return nil, notFound(err, "Thread", "list thread")
	}
	return nonNil(list.Messages), nil
}

func nonNil(msgs []*Message) []*Message {
	if msgs == nil {
		return []*Message{}
	}
	return msgs
}
