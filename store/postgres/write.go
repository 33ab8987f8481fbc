package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rbaliyan/mailroom/store"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Create inserts a message. A preallocated id (see NewID) is kept so thread
// roots can reference themselves in a single insert.
func (s *Store) Create(ctx context.Context, msg *store.Message) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, store.ErrInvalidID
	}

	m := msg.Clone()
	if m.ID == "" {
		m.ID = s.NewID()
	} else if _, err := uuid.Parse(m.ID); err != nil {
		return nil, store.ErrInvalidID
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, sender_id, receiver_id, subject, body, thread_id,
		                is_read, is_draft, is_trashed, trashed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, s.opts.table)

	var trashedAt sql.NullTime
	if m.TrashedAt != nil {
		trashedAt = sql.NullTime{Time: *m.TrashedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.SenderID, m.ReceiverID, m.Subject, m.Body, m.ThreadID,
		m.IsRead, m.IsDraft, m.IsTrashed, trashedAt, now, now,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, store.ErrDuplicateEntry
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// Update applies patch to the oldest matching row in one statement. The
// filters are repeated on the outer UPDATE so a concurrent writer that makes
// the row stop matching is re-checked after the row lock is taken.
func (s *Store) Update(ctx context.Context, filters []store.Filter, patch store.Patch) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, store.ErrEmptyPatch
	}

	argIdx := 1
	set, setArgs := buildSetClause(patch, time.Now().UTC(), &argIdx)
	where, whereArgs, err := buildWhereClause(filters, &argIdx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	t := s.opts.table
	query := fmt.Sprintf(`
		UPDATE %s SET %s
		WHERE %s AND id = (
			SELECT id FROM %s WHERE %s ORDER BY created_at ASC, id ASC LIMIT 1
		)
		RETURNING %s
	`, t, set, where, t, where, columns)

	var row messageRow
	if err := s.db.GetContext(ctx, &row, query, append(setArgs, whereArgs...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("update message: %w", err)
	}
	return row.toMessage(), nil
}

// Delete removes the oldest row matching the filters.
func (s *Store) Delete(ctx context.Context, filters []store.Filter) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	argIdx := 1
	where, args, err := buildWhereClause(filters, &argIdx)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	t := s.opts.table
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE %s AND id = (
			SELECT id FROM %s WHERE %s ORDER BY created_at ASC, id ASC LIMIT 1
		)
	`, t, where, t, where)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteExpiredTrash removes trashed rows older than cutoff in one statement.
func (s *Store) DeleteExpiredTrash(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE is_trashed AND trashed_at < $1`, s.opts.table)
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired trash: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged expired trash", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
