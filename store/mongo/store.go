// Package mongo provides a MongoDB implementation of store.Store.
//
// Messages live in a single collection keyed by ObjectID. Every mutation is
// a single-document findOneAndUpdate or delete whose filter carries the
// caller's ownership predicate, so no application-level locking is needed.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/mailroom/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	opts       *options
	connected  int32
	logger     *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collection and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the collection and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}
	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.collection = s.client.Database(s.opts.database).Collection(s.opts.collection)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	s.logger.Info("connected to MongoDB", "database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: 1}}},
		// Inbox and trash listing
		{Keys: bson.D{
			{Key: "receiver_id", Value: 1},
			{Key: "is_draft", Value: 1},
			{Key: "is_trashed", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		// Draft listing
		{Keys: bson.D{
			{Key: "sender_id", Value: 1},
			{Key: "is_draft", Value: 1},
			{Key: "updated_at", Value: -1},
		}},
		// Trash purge
		{Keys: bson.D{{Key: "is_trashed", Value: 1}, {Key: "trashed_at", Value: 1}}},
	}

	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// NewID allocates a new ObjectID in hex form.
func (s *Store) NewID() string {
	return bson.NewObjectID().Hex()
}
