// Package memory provides an in-memory implementation of the outbox store.
// It backs tests and ephemeral runs; durable deployments use the sqlite store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
	"github.com/inkwell-notes/inkwell-sync/internal/outbox"
)

// Store implements outbox.Store in memory. All methods are safe for
// concurrent use; a single mutex serializes every transition.
type Store struct {
	mu  sync.Mutex
	ops map[string]*domain.Operation
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{ops: make(map[string]*domain.Operation)}
}

// Enqueue implements outbox.Store.
func (s *Store) Enqueue(_ context.Context, op *domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *op
	s.ops[op.ID] = &clone
	return nil
}

// GetOperation implements outbox.Store.
func (s *Store) GetOperation(_ context.Context, id string) (*domain.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return nil, outbox.ErrOperationNotFound
	}
	clone := *op
	return &clone, nil
}

// GetPendingOperations implements outbox.Store.
func (s *Store) GetPendingOperations(_ context.Context, now time.Time) ([]*domain.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// An earlier failed operation whose retry gate has not elapsed blocks
	// every later operation for the same target, so creation order per
	// entity is never violated by a retry gate.
	blocked := make(map[string]time.Time)
	for _, op := range s.ops {
		if op.Status == domain.OperationStatusFailed && !op.Abandoned &&
			op.NextRetryAt != nil && op.NextRetryAt.After(now) {
			if at, ok := blocked[op.TargetID]; !ok || op.CreatedAt.Before(at) {
				blocked[op.TargetID] = op.CreatedAt
			}
		}
	}

	var ready []*domain.Operation
	for _, op := range s.ops {
		eligible := op.Status == domain.OperationStatusPending || op.IsReadyForRetry(now)
		if !eligible {
			continue
		}
		if at, ok := blocked[op.TargetID]; ok && op.CreatedAt.After(at) {
			continue
		}
		clone := *op
		ready = append(ready, &clone)
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].TargetID != ready[j].TargetID {
			return ready[i].TargetID < ready[j].TargetID
		}
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})

	return ready, nil
}

// MarkProcessing implements outbox.Store.
func (s *Store) MarkProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return outbox.ErrOperationNotFound
	}
	if op.Status == domain.OperationStatusProcessing {
		return nil
	}
	if !op.CanProcess() {
		return outbox.ErrInvalidTransition
	}

	op.Status = domain.OperationStatusProcessing
	op.NextRetryAt = nil
	op.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCompleted implements outbox.Store.
func (s *Store) MarkCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return outbox.ErrOperationNotFound
	}

	op.Status = domain.OperationStatusCompleted
	op.NextRetryAt = nil
	op.ErrorKind = nil
	op.ErrorMessage = nil
	op.Abandoned = false
	op.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed implements outbox.Store.
func (s *Store) MarkFailed(_ context.Context, id string, kind domain.ErrorKind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return outbox.ErrOperationNotFound
	}

	op.Status = domain.OperationStatusFailed
	op.RetryCount++
	op.NextRetryAt = nil
	op.ErrorKind = &kind
	op.ErrorMessage = &message
	op.UpdatedAt = time.Now().UTC()
	return nil
}

// ScheduleRetry implements outbox.Store.
func (s *Store) ScheduleRetry(_ context.Context, id string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return outbox.ErrOperationNotFound
	}

	at := time.Now().UTC().Add(delay)
	op.NextRetryAt = &at
	op.UpdatedAt = time.Now().UTC()
	return nil
}

// Abandon implements outbox.Store.
func (s *Store) Abandon(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return outbox.ErrOperationNotFound
	}

	op.Abandoned = true
	op.NextRetryAt = nil
	op.UpdatedAt = time.Now().UTC()
	return nil
}

// RequeueFailed implements outbox.Store.
func (s *Store) RequeueFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return outbox.ErrOperationNotFound
	}
	if op.Status != domain.OperationStatusFailed {
		return outbox.ErrInvalidTransition
	}

	op.Status = domain.OperationStatusPending
	op.RetryCount = 0
	op.NextRetryAt = nil
	op.ErrorKind = nil
	op.ErrorMessage = nil
	op.Abandoned = false
	op.UpdatedAt = time.Now().UTC()
	return nil
}

// PendingCount implements outbox.Store.
func (s *Store) PendingCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, op := range s.ops {
		if op.Status != domain.OperationStatusCompleted {
			count++
		}
	}
	return count, nil
}

// GetQueueStats implements outbox.Store.
func (s *Store) GetQueueStats(_ context.Context) (*outbox.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &outbox.QueueStats{}
	for _, op := range s.ops {
		switch op.Status {
		case domain.OperationStatusPending:
			stats.Pending++
		case domain.OperationStatusProcessing:
			stats.Processing++
		case domain.OperationStatusCompleted:
			stats.Completed++
		case domain.OperationStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// RecoverStale implements outbox.Store.
func (s *Store) RecoverStale(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recovered := 0
	for _, op := range s.ops {
		if op.Status == domain.OperationStatusProcessing {
			op.Status = domain.OperationStatusPending
			op.UpdatedAt = time.Now().UTC()
			recovered++
		}
	}
	return recovered, nil
}

// PruneCompleted implements outbox.Store.
func (s *Store) PruneCompleted(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for id, op := range s.ops {
		if op.Status == domain.OperationStatusCompleted && op.UpdatedAt.Before(olderThan) {
			delete(s.ops, id)
			pruned++
		}
	}
	return pruned, nil
}

// ClearPending implements outbox.Store.
func (s *Store) ClearPending(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, op := range s.ops {
		if op.Status != domain.OperationStatusCompleted {
			delete(s.ops, id)
		}
	}
	return nil
}

// ClearAll implements outbox.Store.
func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = make(map[string]*domain.Operation)
	return nil
}
