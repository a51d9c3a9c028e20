package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
	"github.com/inkwell-notes/inkwell-sync/internal/outbox"
)

// Applier sends exactly one operation to the remote note service.
type Applier interface {
	Apply(ctx context.Context, op *domain.Operation) (*Ack, error)
}

// Engine drains the operation queue against the remote collaborator. A single
// drain cycle is active per process; overlapping calls fail with
// ErrAlreadySyncing.
type Engine struct {
	store   outbox.Store
	applier Applier
	policy  *outbox.Policy

	draining atomic.Bool
}

// NewEngine creates a sync engine.
func NewEngine(store outbox.Store, applier Applier, policy *outbox.Policy) *Engine {
	return &Engine{
		store:   store,
		applier: applier,
		policy:  policy,
	}
}

// Drain runs one reconciliation cycle: fetch every ready operation, apply
// each against the remote service in store order, and settle its status.
//
// Per-operation transport errors are absorbed by the failure policy and only
// show up in the aggregate result. Storage errors abort the rest of the cycle
// and are returned wrapped in ErrStorage; the cycle is simply retried on the
// next trigger.
func (e *Engine) Drain(ctx context.Context) (*SyncResult, error) {
	if !e.draining.CompareAndSwap(false, true) {
		return nil, ErrAlreadySyncing
	}
	defer e.draining.Store(false)

	ops, err := e.store.GetPendingOperations(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: fetch pending operations: %w", ErrStorage, err)
	}

	result := newSyncResult(len(ops))
	defer result.finish()

	if len(ops) == 0 {
		return result, nil
	}

	slog.Debug("drain cycle started", "ready", len(ops))

	// Targets that already failed this cycle. Later operations for the same
	// entity are skipped untouched so creation order is never violated; they
	// stay eligible for the next cycle.
	failedTargets := make(map[string]bool)

	for _, op := range ops {
		if ctx.Err() != nil {
			slog.Info("drain cycle interrupted", "remaining", result.Total-len(result.Notes))
			break
		}

		if failedTargets[op.TargetID] {
			result.addSkipped(op, "earlier operation for this target failed")
			outbox.RecordProcessed(string(op.Type), "skipped")
			continue
		}

		if err := e.processOperation(ctx, op, result); err != nil {
			return result, err
		}

		if result.Notes[len(result.Notes)-1].Outcome == NoteOutcomeFailed {
			failedTargets[op.TargetID] = true
		}
	}

	slog.Info("drain cycle finished",
		"total", result.Total,
		"synced", result.Synced,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)

	return result, nil
}

// processOperation applies one operation and settles its status. The returned
// error is non-nil only for storage failures, which are fatal to the cycle.
func (e *Engine) processOperation(ctx context.Context, op *domain.Operation, result *SyncResult) error {
	if err := e.store.MarkProcessing(ctx, op.ID); err != nil {
		return fmt.Errorf("%w: mark processing %s: %w", ErrStorage, op.ID, err)
	}

	start := time.Now()
	ack, applyErr := e.applier.Apply(ctx, op)
	outbox.RecordApplyDuration(string(op.Type), time.Since(start))

	if applyErr != nil {
		return e.settleFailure(ctx, op, applyErr, result)
	}

	if err := e.store.MarkCompleted(ctx, op.ID); err != nil {
		return fmt.Errorf("%w: mark completed %s: %w", ErrStorage, op.ID, err)
	}

	var syncTag string
	if ack != nil {
		tag, ok := ExtractSyncTag(ack.Body)
		if ok {
			syncTag = tag
		} else {
			slog.Warn("no sync tag in response, note left without version marker",
				"operation_id", op.ID,
				"target_id", op.TargetID,
			)
		}
	}

	outcome := NoteOutcomeUpdated
	if ack != nil && ack.Created {
		outcome = NoteOutcomeCreated
	}

	result.addSynced(op, outcome, syncTag)
	outbox.RecordProcessed(string(op.Type), string(outcome))

	slog.Debug("operation applied",
		"operation_id", op.ID,
		"type", op.Type,
		"outcome", outcome,
	)

	return nil
}

func (e *Engine) settleFailure(ctx context.Context, op *domain.Operation, applyErr error, result *SyncResult) error {
	applyErr = bridgeError(applyErr)
	decision := e.policy.Decide(applyErr, op.RetryCount)

	if err := e.store.MarkFailed(ctx, op.ID, decision.Kind, applyErr.Error()); err != nil {
		return fmt.Errorf("%w: mark failed %s: %w", ErrStorage, op.ID, err)
	}

	if decision.Retry {
		if err := e.store.ScheduleRetry(ctx, op.ID, decision.Delay); err != nil {
			return fmt.Errorf("%w: schedule retry %s: %w", ErrStorage, op.ID, err)
		}

		slog.Warn("operation failed, retry scheduled",
			"operation_id", op.ID,
			"type", op.Type,
			"kind", decision.Kind,
			"attempt", op.RetryCount+1,
			"delay", decision.Delay,
			"error", applyErr,
		)
		outbox.RecordProcessed(string(op.Type), "retry")
	} else {
		if err := e.store.Abandon(ctx, op.ID); err != nil {
			return fmt.Errorf("%w: abandon %s: %w", ErrStorage, op.ID, err)
		}

		slog.Error("operation abandoned, manual action required",
			"operation_id", op.ID,
			"type", op.Type,
			"kind", decision.Kind,
			"reason", decision.Reason,
			"error", applyErr,
		)
		outbox.RecordProcessed(string(op.Type), "abandoned")
	}

	message := decision.Reason
	if message == "" {
		message = applyErr.Error()
	}
	result.addFailed(op, message)
	return nil
}

// Recover demotes operations left processing by a prior run back to pending.
// Runs once per process start, before any drain, so a crash mid-request never
// silently loses or parks an operation.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	recovered, err := e.store.RecoverStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: recover stale operations: %w", ErrStorage, err)
	}

	if recovered > 0 {
		slog.Info("recovered stale operations from prior run", "count", recovered)
	}

	return recovered, nil
}

// ForceFullReconcile runs startup-style recovery followed by a drain cycle.
// Backs the user-facing "sync now" action.
func (e *Engine) ForceFullReconcile(ctx context.Context) (*SyncResult, error) {
	if _, err := e.Recover(ctx); err != nil {
		return nil, err
	}
	return e.Drain(ctx)
}
