package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailroom/store"
)

// Get retrieves a message by ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, s.opts.table)

	var row messageRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return row.toMessage(), nil
}

// FindOne returns the oldest message matching the filters.
func (s *Store) FindOne(ctx context.Context, filters []store.Filter) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	argIdx := 1
	where, args, err := buildWhereClause(filters, &argIdx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY created_at ASC, id ASC LIMIT 1`,
		columns, s.opts.table, where)

	var row messageRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return row.toMessage(), nil
}

// Find retrieves messages matching the filters.
func (s *Store) Find(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	argIdx := 1
	where, args, err := buildWhereClause(filters, &argIdx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.list(ctx, where, args, argIdx, opts)
}

// Count counts messages matching the filters.
func (s *Store) Count(ctx context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	argIdx := 1
	where, args, err := buildWhereClause(filters, &argIdx)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.opts.table, where)
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// Search performs a case-insensitive ILIKE match on the query fields.
func (s *Store) Search(ctx context.Context, query store.SearchQuery) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	argIdx := 1
	where, args, err := buildWhereClause(query.Filters, &argIdx)
	if err != nil {
		return nil, err
	}
	if query.Query != "" {
		cond, arg := searchCondition(query.Query, query.Fields, &argIdx)
		where = where + " AND " + cond
		if arg != nil {
			args = append(args, arg)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.list(ctx, where, args, argIdx, query.Options)
}

func (s *Store) list(ctx context.Context, where string, args []any, argIdx int, opts store.ListOptions) (*store.MessageList, error) {
	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.opts.table, where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s %s`, columns, s.opts.table, where, orderClause(opts))
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	return rowsToList(rows, total), nil
}
