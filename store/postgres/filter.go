package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rbaliyan/mailroom/store"
)

// likeEscaper escapes LIKE wildcards so search input is matched literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildWhereClause renders filters as an AND-joined condition. Placeholders
// start at *argIdx, which is advanced past the returned args.
func buildWhereClause(filters []store.Filter, argIdx *int) (string, []any, error) {
	var (
		conditions []string
		args       []any
	)
	for _, f := range filters {
		cond, a, err := filterToCondition(f, argIdx)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, cond)
		args = append(args, a...)
	}

	if len(conditions) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(conditions, " AND "), args, nil
}

func filterToCondition(f store.Filter, argIdx *int) (string, []any, error) {
	if f.IsComposite() {
		sep := " OR "
		if f.Operator() == store.OpAllOf {
			sep = " AND "
		}
		var (
			parts []string
			args  []any
		)
		for _, c := range f.Children() {
			cond, a, err := filterToCondition(c, argIdx)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, cond)
			args = append(args, a...)
		}
		if len(parts) == 0 {
			if f.Operator() == store.OpAllOf {
				return "TRUE", nil, nil
			}
			return "FALSE", nil, nil
		}
		return "(" + strings.Join(parts, sep) + ")", args, nil
	}

	key, ok := store.MessageFieldKey(f.Key())
	if !ok {
		return "", nil, fmt.Errorf("%w: unsupported field: %s", store.ErrFilterInvalid, f.Key())
	}
	val := f.Value()
	if key == "id" {
		if err := validateIDs(val); err != nil {
			return "", nil, err
		}
	}

	next := func(format string) string {
		cond := fmt.Sprintf(format, key, *argIdx)
		*argIdx++
		return cond
	}

	switch f.Operator() {
	case store.OpEqual:
		return next("%s = $%d"), []any{val}, nil
	case store.OpNotEqual:
		return next("%s != $%d"), []any{val}, nil
	case store.OpGreater:
		return next("%s > $%d"), []any{val}, nil
	case store.OpGreaterEqual:
		return next("%s >= $%d"), []any{val}, nil
	case store.OpLess:
		return next("%s < $%d"), []any{val}, nil
	case store.OpLessEqual:
		return next("%s <= $%d"), []any{val}, nil
	case store.OpIn:
		if key == "id" {
			return next("%s::text = ANY($%d)"), []any{pq.Array(val)}, nil
		}
		return next("%s = ANY($%d)"), []any{pq.Array(val)}, nil
	case store.OpExists:
		if key == "trashed_at" {
			if val == true {
				return "trashed_at IS NOT NULL", nil, nil
			}
			return "trashed_at IS NULL", nil, nil
		}
		if val == true {
			return fmt.Sprintf("(%s IS NOT NULL AND %s != '')", key, key), nil, nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s = '')", key, key), nil, nil
	}
	return "", nil, fmt.Errorf("%w: unsupported operator: %s", store.ErrFilterInvalid, f.Operator())
}

// validateIDs rejects values that cannot be UUIDs before they reach the
// database, where they would fail the cast.
func validateIDs(val any) error {
	switch v := val.(type) {
	case string:
		if _, err := uuid.Parse(v); err != nil {
			return store.ErrInvalidID
		}
	case []string:
		for _, id := range v {
			if _, err := uuid.Parse(id); err != nil {
				return store.ErrInvalidID
			}
		}
	}
	return nil
}

// searchCondition builds an ILIKE match over fields with escaped input.
func searchCondition(query string, fields []string, argIdx *int) (string, any) {
	if len(fields) == 0 {
		fields = []string{"subject", "body"}
	}
	var parts []string
	for _, field := range fields {
		key, ok := store.MessageFieldKey(field)
		if !ok || (key != "subject" && key != "body") {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s ILIKE $%d", key, *argIdx))
	}
	if len(parts) == 0 {
		return "FALSE", nil
	}
	*argIdx++
	return "(" + strings.Join(parts, " OR ") + ")", "%" + likeEscaper.Replace(query) + "%"
}

// buildSetClause renders a patch as SET assignments.
func buildSetClause(p store.Patch, now time.Time, argIdx *int) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, *argIdx))
		args = append(args, v)
		*argIdx++
	}

	if p.ReceiverID != nil {
		add("receiver_id", *p.ReceiverID)
	}
	if p.Subject != nil {
		add("subject", *p.Subject)
	}
	if p.Body != nil {
		add("body", *p.Body)
	}
	if p.ThreadID != nil {
		add("thread_id", *p.ThreadID)
	}
	if p.IsRead != nil {
		add("is_read", *p.IsRead)
	}
	if p.IsTrashed != nil {
		add("is_trashed", *p.IsTrashed)
		if *p.IsTrashed {
			add("trashed_at", now)
		} else {
			sets = append(sets, "trashed_at = NULL")
		}
	}
	if p.Send {
		sets = append(sets, "is_draft = FALSE")
	}
	add("updated_at", now)

	return strings.Join(sets, ", "), args
}

func orderClause(opts store.ListOptions) string {
	key, ok := store.MessageOrderingKey(opts.SortBy)
	if !ok {
		key = "created_at"
	}
	dir := "DESC"
	if opts.SortOrder == store.SortAsc {
		dir = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s, id %s", key, dir, dir)
}
