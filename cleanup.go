package mailroom

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// CleanupTrashResult contains the result of a trash cleanup operation.
type CleanupTrashResult struct {
	// DeletedCount is the number of messages permanently deleted.
	DeletedCount int64
	// Cutoff is the trash time before which messages were deleted.
	Cutoff time.Time
}

// CleanupTrash permanently deletes messages that have been in trash longer
// than the configured retention period (default 30 days).
//
// The deletion is a single conditional bulk delete in the store, so several
// instances may run it concurrently. The library does not schedule it;
// cmd/mailroomd runs it from a cron schedule.
func (s *service) CleanupTrash(ctx context.Context) (*CleanupTrashResult, error) {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return nil, ErrNotConnected
	}

	result := &CleanupTrashResult{Cutoff: time.Now().UTC().Add(-s.opts.trashRetention)}
	deleted, err := s.store.DeleteExpiredTrash(ctx, result.Cutoff)
	if err != nil {
		return result, fmt.Errorf("delete expired trash: %w", err)
	}
	result.DeletedCount = deleted
	if deleted > 0 {
		s.logger.Info("deleted expired trash", "count", deleted, "cutoff", result.Cutoff)
	}
	return result, nil
}
