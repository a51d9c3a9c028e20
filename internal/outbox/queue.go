package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
)

// Queue is the application-facing enqueue surface over the durable store.
// Every local mutation goes through Enqueue regardless of current
// connectivity, so the online and offline code paths are identical.
type Queue struct {
	store Store
}

// NewQueue creates a queue over the given store.
func NewQueue(store Store) *Queue {
	return &Queue{store: store}
}

// Enqueue records a new operation with status pending. It assigns the id and
// timestamps and must be non-blocking from the caller's perspective: it only
// writes to the local durable store, never to the network.
func (q *Queue) Enqueue(ctx context.Context, typ domain.OperationType, targetID string, payload json.RawMessage) (*domain.Operation, error) {
	if !typ.IsValid() {
		return nil, fmt.Errorf("unknown operation type %q", typ)
	}
	if targetID == "" {
		return nil, fmt.Errorf("target id is required")
	}

	now := time.Now().UTC()
	op := &domain.Operation{
		ID:        uuid.NewString(),
		Type:      typ,
		TargetID:  targetID,
		Payload:   payload,
		Status:    domain.OperationStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := q.store.Enqueue(ctx, op); err != nil {
		return nil, NewStorageError("enqueue", err)
	}

	recordEnqueued(string(typ))

	slog.Debug("operation enqueued",
		"operation_id", op.ID,
		"type", op.Type,
		"target_id", op.TargetID,
	)

	return op, nil
}

// Get returns a single operation by id.
func (q *Queue) Get(ctx context.Context, id string) (*domain.Operation, error) {
	op, err := q.store.GetOperation(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOperationNotFound) {
			return nil, err
		}
		return nil, NewStorageError("get operation", err)
	}
	return op, nil
}

// PendingCount returns the number of operations not yet completed.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	count, err := q.store.PendingCount(ctx)
	if err != nil {
		return 0, NewStorageError("pending count", err)
	}
	return count, nil
}

// RequeueFailed resets a parked or failed operation back to pending so the
// next drain picks it up with a fresh retry budget.
func (q *Queue) RequeueFailed(ctx context.Context, id string) error {
	if err := q.store.RequeueFailed(ctx, id); err != nil {
		return err
	}

	slog.Info("operation requeued", "operation_id", id)
	return nil
}

// ClearPending removes every operation that has not completed. Queued local
// mutations are lost; this backs the user-facing discard action.
func (q *Queue) ClearPending(ctx context.Context) error {
	if err := q.store.ClearPending(ctx); err != nil {
		return NewStorageError("clear pending", err)
	}

	slog.Warn("pending operations cleared")
	return nil
}

// Stats returns operation counts by status.
func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	stats, err := q.store.GetQueueStats(ctx)
	if err != nil {
		return nil, NewStorageError("queue stats", err)
	}
	return stats, nil
}
