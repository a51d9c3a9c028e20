package outbox_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
	"github.com/inkwell-notes/inkwell-sync/internal/outbox"
	"github.com/inkwell-notes/inkwell-sync/internal/outbox/memory"
)

func TestQueue_Enqueue(t *testing.T) {
	store := memory.NewStore()
	queue := outbox.NewQueue(store)
	ctx := context.Background()

	op, err := queue.Enqueue(ctx, domain.OperationCreateNote, "note-1", json.RawMessage(`{"title":"shopping"}`))
	require.NoError(t, err)

	assert.NotEmpty(t, op.ID)
	assert.Equal(t, domain.OperationStatusPending, op.Status)
	assert.Equal(t, 0, op.RetryCount)

	got, err := store.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationCreateNote, got.Type)
	assert.Equal(t, "note-1", got.TargetID)
}

func TestQueue_Enqueue_Validation(t *testing.T) {
	queue := outbox.NewQueue(memory.NewStore())
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, domain.OperationType("drop_database"), "note-1", nil)
	assert.Error(t, err)

	_, err = queue.Enqueue(ctx, domain.OperationCreateNote, "", nil)
	assert.Error(t, err)
}

func TestQueue_Enqueue_AssignsUniqueIDs(t *testing.T) {
	queue := outbox.NewQueue(memory.NewStore())
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		op, err := queue.Enqueue(ctx, domain.OperationCreateNote, "note-1", nil)
		require.NoError(t, err)
		assert.False(t, seen[op.ID], "operation ids must never repeat")
		seen[op.ID] = true
	}
}

func TestQueue_PendingCount(t *testing.T) {
	store := memory.NewStore()
	queue := outbox.NewQueue(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := queue.Enqueue(ctx, domain.OperationCreateNote, "note-1", nil)
		require.NoError(t, err)
	}

	count, err := queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestQueue_RequeueFailed(t *testing.T) {
	store := memory.NewStore()
	queue := outbox.NewQueue(store)
	ctx := context.Background()

	op, err := queue.Enqueue(ctx, domain.OperationCreateNote, "note-1", nil)
	require.NoError(t, err)

	require.NoError(t, store.MarkFailed(ctx, op.ID, domain.ErrorKindConflict, "409"))
	require.NoError(t, store.Abandon(ctx, op.ID))

	require.NoError(t, queue.RequeueFailed(ctx, op.ID))

	ops, err := store.GetPendingOperations(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, op.ID, ops[0].ID)
	assert.Equal(t, 0, ops[0].RetryCount)
}

func TestQueue_ClearPending(t *testing.T) {
	store := memory.NewStore()
	queue := outbox.NewQueue(store)
	ctx := context.Background()

	op, err := queue.Enqueue(ctx, domain.OperationCreateNote, "note-1", nil)
	require.NoError(t, err)
	done, err := queue.Enqueue(ctx, domain.OperationCreateNote, "note-2", nil)
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, done.ID))

	require.NoError(t, queue.ClearPending(ctx))

	_, err = store.GetOperation(ctx, op.ID)
	assert.ErrorIs(t, err, outbox.ErrOperationNotFound)

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.Zero(t, stats.Pending)
}
