package mongo

import (
	"fmt"
	"regexp"
	"time"

	"github.com/rbaliyan/mailroom/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// regexMetaChars matches regex metacharacters that need escaping.
var regexMetaChars = regexp.MustCompile(`[\\^$.|?*+()[\]{}]`)

// escapeRegex escapes regex metacharacters in a string to prevent regex injection.
func escapeRegex(s string) string {
	return regexMetaChars.ReplaceAllString(s, `\$0`)
}

// mapKey translates shared filter keys to MongoDB field names.
func mapKey(key string) string {
	if key == "id" {
		return "_id"
	}
	return key
}

// buildFilter converts a slice of store.Filter to a MongoDB filter document.
// Conditions on distinct keys are merged into one document; a repeated key
// moves the extra condition into $and. Top-level AllOf children are
// flattened into the same $and.
func buildFilter(filters []store.Filter) (bson.M, error) {
	result := bson.M{}
	var and []bson.M

	for _, f := range filters {
		cond, err := filterToCond(f)
		if err != nil {
			return nil, err
		}
		for k, v := range cond {
			if k == "$and" {
				parts, _ := v.([]bson.M)
				and = append(and, parts...)
				continue
			}
			if _, taken := result[k]; taken {
				and = append(and, bson.M{k: v})
				continue
			}
			result[k] = v
		}
	}

	if len(and) > 0 {
		result["$and"] = and
	}
	return result, nil
}

func filterToCond(f store.Filter) (bson.M, error) {
	if f.IsComposite() {
		children := f.Children()
		parts := make([]bson.M, 0, len(children))
		for _, c := range children {
			cond, err := filterToCond(c)
			if err != nil {
				return nil, err
			}
			parts = append(parts, cond)
		}
		op := "$or"
		if f.Operator() == store.OpAllOf {
			op = "$and"
		}
		return bson.M{op: parts}, nil
	}

	key := mapKey(f.Key())
	value, err := convertValue(key, f.Value())
	if err != nil {
		return nil, err
	}

	switch f.Operator() {
	case store.OpEqual:
		return bson.M{key: value}, nil
	case store.OpNotEqual:
		return bson.M{key: bson.M{"$ne": value}}, nil
	case store.OpGreater:
		return bson.M{key: bson.M{"$gt": value}}, nil
	case store.OpGreaterEqual:
		return bson.M{key: bson.M{"$gte": value}}, nil
	case store.OpLess:
		return bson.M{key: bson.M{"$lt": value}}, nil
	case store.OpLessEqual:
		return bson.M{key: bson.M{"$lte": value}}, nil
	case store.OpIn:
		return bson.M{key: bson.M{"$in": value}}, nil
	case store.OpExists:
		return bson.M{key: bson.M{"$exists": value}}, nil
	}
	return nil, fmt.Errorf("%w: unsupported operator: %s", store.ErrFilterInvalid, f.Operator())
}

// convertValue turns id strings into ObjectIDs. A malformed id can never
// match a stored document, so it is reported as ErrInvalidID.
func convertValue(key string, value any) (any, error) {
	if key != "_id" {
		return value, nil
	}
	switch v := value.(type) {
	case string:
		oid, err := bson.ObjectIDFromHex(v)
		if err != nil {
			return nil, store.ErrInvalidID
		}
		return oid, nil
	case []string:
		oids := make([]bson.ObjectID, 0, len(v))
		for _, id := range v {
			oid, err := bson.ObjectIDFromHex(id)
			if err != nil {
				return nil, store.ErrInvalidID
			}
			oids = append(oids, oid)
		}
		return oids, nil
	}
	return value, nil
}

// searchCond builds the case-insensitive literal match over fields.
func searchCond(query string, fields []string) bson.M {
	if len(fields) == 0 {
		fields = []string{"subject", "body"}
	}
	escaped := escapeRegex(query)
	or := make([]bson.M, 0, len(fields))
	for _, field := range fields {
		key, ok := store.MessageFieldKey(field)
		if !ok {
			continue
		}
		or = append(or, bson.M{key: bson.M{"$regex": escaped, "$options": "i"}})
	}
	return bson.M{"$or": or}
}

// buildUpdate translates a patch into $set / $unset operators.
func buildUpdate(p store.Patch, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	unset := bson.M{}

	if p.ReceiverID != nil {
		set["receiver_id"] = *p.ReceiverID
	}
	if p.Subject != nil {
		set["subject"] = *p.Subject
	}
	if p.Body != nil {
		set["body"] = *p.Body
	}
	if p.ThreadID != nil {
		set["thread_id"] = *p.ThreadID
	}
	if p.IsRead != nil {
		set["is_read"] = *p.IsRead
	}
	if p.IsTrashed != nil {
		set["is_trashed"] = *p.IsTrashed
		if *p.IsTrashed {
			set["trashed_at"] = now
		} else {
			unset["trashed_at"] = ""
		}
	}
	if p.Send {
		set["is_draft"] = false
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

// sortSpec returns the sort document for list options, with _id as tiebreaker.
func sortSpec(opts store.ListOptions) bson.D {
	key, ok := store.MessageOrderingKey(opts.SortBy)
	if !ok {
		key = "created_at"
	}
	dir := -1
	if opts.SortOrder == store.SortAsc {
		dir = 1
	}
	return bson.D{{Key: key, Value: dir}, {Key: "_id", Value: dir}}
}
