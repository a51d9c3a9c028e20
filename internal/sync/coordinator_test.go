package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCoordinator_StartRunsRecovery(t *testing.T) {
	applier := &fakeApplier{}
	engine, store := newTestEngine(applier)
	ctx := context.Background()

	op := enqueue(t, store, domain.OperationCreateNote, "note-1", time.Now().UTC())
	require.NoError(t, store.MarkProcessing(ctx, op.ID))

	connectivity := make(chan bool)
	coord := NewCoordinator(CoordinatorConfig{DrainInterval: time.Hour}, engine, connectivity)

	require.NoError(t, coord.Start(ctx))
	defer coord.Stop()

	got, err := store.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusPending, got.Status,
		"stale processing operation is demoted before any drain")
}

func TestCoordinator_OnlineTransitionTriggersDrain(t *testing.T) {
	applier := &fakeApplier{}
	engine, store := newTestEngine(applier)
	ctx := context.Background()

	op := enqueue(t, store, domain.OperationCreateNote, "note-1", time.Now().UTC())

	connectivity := make(chan bool)
	coord := NewCoordinator(CoordinatorConfig{DrainInterval: time.Hour}, engine, connectivity)
	require.NoError(t, coord.Start(ctx))
	defer coord.Stop()

	assert.False(t, coord.Online(), "initial state is offline")

	connectivity <- true

	waitFor(t, 2*time.Second, func() bool {
		got, err := store.GetOperation(ctx, op.ID)
		return err == nil && got.Status == domain.OperationStatusCompleted
	}, "going online should drain the queue")

	assert.True(t, coord.Online())
}

func TestCoordinator_OfflineStopsScheduling(t *testing.T) {
	applier := &fakeApplier{}
	engine, store := newTestEngine(applier)
	ctx := context.Background()

	connectivity := make(chan bool)
	coord := NewCoordinator(CoordinatorConfig{DrainInterval: 20 * time.Millisecond}, engine, connectivity)
	require.NoError(t, coord.Start(ctx))
	defer coord.Stop()

	connectivity <- true
	waitFor(t, 2*time.Second, coord.Online, "online signal not observed")

	connectivity <- false
	waitFor(t, 2*time.Second, func() bool { return !coord.Online() }, "offline signal not observed")

	// New work enqueued while offline is not drained.
	op := enqueue(t, store, domain.OperationCreateNote, "note-1", time.Now().UTC())
	time.Sleep(100 * time.Millisecond)

	got, err := store.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusPending, got.Status)
	assert.Empty(t, applier.appliedIDs())
}

func TestCoordinator_PeriodicDrainWhileOnline(t *testing.T) {
	applier := &fakeApplier{}
	engine, store := newTestEngine(applier)
	ctx := context.Background()

	connectivity := make(chan bool)
	coord := NewCoordinator(CoordinatorConfig{DrainInterval: 20 * time.Millisecond}, engine, connectivity)
	require.NoError(t, coord.Start(ctx))
	defer coord.Stop()

	connectivity <- true
	waitFor(t, 2*time.Second, coord.Online, "online signal not observed")

	// Enqueued after the transition drain: only the ticker can pick it up.
	op := enqueue(t, store, domain.OperationCreateNote, "note-1", time.Now().UTC())

	waitFor(t, 2*time.Second, func() bool {
		got, err := store.GetOperation(ctx, op.ID)
		return err == nil && got.Status == domain.OperationStatusCompleted
	}, "periodic tick should drain while online")
}

func TestCoordinator_StopIsIdempotent(t *testing.T) {
	applier := &fakeApplier{}
	engine, _ := newTestEngine(applier)

	coord := NewCoordinator(DefaultCoordinatorConfig(), engine, make(chan bool))
	require.NoError(t, coord.Start(context.Background()))

	coord.Stop()
	coord.Stop()
}

func TestCoordinator_DoubleStart(t *testing.T) {
	applier := &fakeApplier{}
	engine, _ := newTestEngine(applier)

	coord := NewCoordinator(DefaultCoordinatorConfig(), engine, make(chan bool))
	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	assert.Error(t, coord.Start(context.Background()))
}
