package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/mailroom/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

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
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	doc, err := messageToDoc(m)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrDuplicateEntry
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// Update atomically applies patch to the oldest matching document using
// findOneAndUpdate.
func (s *Store) Update(ctx context.Context, filters []store.Filter, patch store.Patch) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, store.ErrEmptyPatch
	}

	filter, err := buildFilter(filters)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	opts := mongoopts.FindOneAndUpdate().
		SetReturnDocument(mongoopts.After).
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	var doc messageDoc
	err = s.collection.FindOneAndUpdate(ctx, filter, buildUpdate(patch, time.Now().UTC()), opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("update message: %w", err)
	}
	return docToMessage(&doc), nil
}

// Delete removes one document matching the filters.
func (s *Store) Delete(ctx context.Context, filters []store.Filter) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	filter, err := buildFilter(filters)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.collection.DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// DeleteExpiredTrash removes trashed messages older than cutoff with one deleteMany.
func (s *Store) DeleteExpiredTrash(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.collection.DeleteMany(ctx, bson.M{
		"is_trashed": true,
		"trashed_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired trash: %w", err)
	}
	if res.DeletedCount > 0 {
		s.logger.Info("purged expired trash", "count", res.DeletedCount, "cutoff", cutoff)
	}
	return res.DeletedCount, nil
}
