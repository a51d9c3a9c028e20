package outbox

import (
	"context"
	"time"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
)

// Store defines the durable operation log. It is the sole place status
// transitions occur; implementations must serialize transitions so that
// retry-count increments are never lost to a race.
type Store interface {
	// Enqueue inserts a new operation with status pending and retry count 0.
	Enqueue(ctx context.Context, op *domain.Operation) error

	// GetOperation returns a single operation by id.
	GetOperation(ctx context.Context, id string) (*domain.Operation, error)

	// GetPendingOperations returns every operation eligible for processing:
	// all pending operations plus failed operations whose retry gate has
	// elapsed. Results are grouped by target id, oldest first within a group,
	// and exclude operations whose target has an earlier gated failure so
	// per-entity creation order is preserved.
	GetPendingOperations(ctx context.Context, now time.Time) ([]*domain.Operation, error)

	// MarkProcessing transitions pending|failed -> processing. Calling it on
	// an operation already processing is a no-op.
	MarkProcessing(ctx context.Context, id string) error

	// MarkCompleted transitions to terminal completed and clears error fields.
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed transitions to failed, increments the retry count, and
	// records the error. Every call increments; there is no deduplication.
	// It never sets the retry gate: scheduling is a separate policy decision.
	MarkFailed(ctx context.Context, id string, kind domain.ErrorKind, message string) error

	// ScheduleRetry sets the retry gate to now + delay.
	ScheduleRetry(ctx context.Context, id string, delay time.Duration) error

	// Abandon parks a failed operation: it will never be returned by
	// GetPendingOperations again until explicitly requeued.
	Abandon(ctx context.Context, id string) error

	// RequeueFailed resets a failed operation back to pending with a fresh
	// retry budget. This backs the user-facing manual retry action.
	RequeueFailed(ctx context.Context, id string) error

	// PendingCount returns the number of operations that are not yet
	// completed (pending, processing, or failed).
	PendingCount(ctx context.Context) (int, error)

	// GetQueueStats returns operation counts by status.
	GetQueueStats(ctx context.Context) (*QueueStats, error)

	// RecoverStale demotes operations left processing by a prior run back to
	// pending and returns how many were demoted.
	RecoverStale(ctx context.Context) (int, error)

	// PruneCompleted deletes completed operations older than the cutoff and
	// returns how many were removed.
	PruneCompleted(ctx context.Context, olderThan time.Time) (int64, error)

	// ClearPending deletes all operations that have not completed.
	ClearPending(ctx context.Context) error

	// ClearAll empties the store. Test and debug hook.
	ClearAll(ctx context.Context) error
}

// QueueStats contains operation counts by status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
