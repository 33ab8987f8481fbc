// Package store provides interfaces and types for mailroom storage.
// Implementations are in store/memory, store/mongo, and store/postgres subpackages.
//
// # Single-Document Model
//
// Every message is stored exactly once. The sender and the receiver look at
// the same record; what each of them can see or change is expressed as
// filters (see the Filter helpers), never as per-user copies.
//
// # No Distributed Locks
//
// Every write touches a single document and relies on the database's own
// atomicity:
//
//  1. Inserts use ids allocated up front with NewID, so a thread root can be
//     written with its own id as thread id in one statement.
//
//  2. Conditional updates use an atomic find-and-modify (MongoDB
//     findOneAndUpdate, PostgreSQL UPDATE ... WHERE ... RETURNING) with the
//     ownership predicate folded into the filter. A miss is ErrNotFound,
//     whether the document does not exist or belongs to someone else.
//
//  3. Bulk maintenance (trash purge) is a single deleteMany / DELETE with a
//     cutoff, safe to run from several instances at once.
//
// Example - restore a trashed message owned by the caller:
//
//	restored := false
//	msg, err := s.Update(ctx, []store.Filter{
//	    store.IDIs(id), store.ReceiverIs(caller), store.TrashedIs(true),
//	}, store.Patch{IsTrashed: &restored})
//	if store.IsNotFound(err) {
//	    // not in caller's trash
//	}
package store

import (
	"context"
	"time"
)

// Store is the storage interface for mailroom.
//
// All operations must be safe for concurrent use. Implementations must use
// database-level atomicity rather than external locking.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	MessageStore

	// Maintenance operations - for background cleanup tasks
	MaintenanceStore
}

// MessageStoreReader provides read operations for messages.
type MessageStoreReader interface {
	// Get retrieves a message by ID.
	// Returns ErrNotFound if the message doesn't exist.
	Get(ctx context.Context, id string) (*Message, error)

	// FindOne returns the first message matching all filters.
	// Returns ErrNotFound if nothing matches.
	FindOne(ctx context.Context, filters []Filter) (*Message, error)

	// Find retrieves messages matching the filters. MessageList.Total is
	// the count of all matches regardless of Limit/Offset.
	Find(ctx context.Context, filters []Filter, opts ListOptions) (*MessageList, error)

	// Count returns the count of messages matching the filters.
	Count(ctx context.Context, filters []Filter) (int64, error)

	// Search performs a case-insensitive literal substring search.
	Search(ctx context.Context, query SearchQuery) (*MessageList, error)
}

// MessageStoreMutator provides mutation operations for messages.
type MessageStoreMutator interface {
	// Update atomically applies patch to the first message matching all
	// filters and returns the updated message.
	// Returns ErrNotFound if nothing matches.
	Update(ctx context.Context, filters []Filter, patch Patch) (*Message, error)

	// Delete permanently removes the first message matching all filters.
	// Returns false (and no error) when nothing matched.
	Delete(ctx context.Context, filters []Filter) (bool, error)
}

// MessageStoreCreator provides message creation operations.
type MessageStoreCreator interface {
	// NewID allocates an id in the store's native format.
	NewID() string

	// Create inserts msg. If msg.ID is empty a new id is allocated.
	// CreatedAt and UpdatedAt are set by the store.
	// Returns ErrDuplicateEntry if the id is taken.
	Create(ctx context.Context, msg *Message) (*Message, error)
}

// MessageStore provides all message operations.
//
// Composed of:
//   - MessageStoreReader: Get, FindOne, Find, Count, Search
//   - MessageStoreMutator: Update, Delete
//   - MessageStoreCreator: NewID, Create
type MessageStore interface {
	MessageStoreReader
	MessageStoreMutator
	MessageStoreCreator
}

// MaintenanceStore provides operations for background maintenance tasks.
// These operations are designed to be safely called concurrently from
// multiple service instances without requiring distributed coordination.
type MaintenanceStore interface {
	// DeleteExpiredTrash atomically deletes trashed messages whose
	// TrashedAt is before cutoff.
	//
	//   - MongoDB: deleteMany({ is_trashed: true, trashed_at: { $lt: cutoff } })
	//   - PostgreSQL: DELETE FROM messages WHERE is_trashed AND trashed_at < $1
	//
	// Returns the number of messages deleted.
	DeleteExpiredTrash(ctx context.Context, cutoff time.Time) (int64, error)
}
