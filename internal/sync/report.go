package sync

import (
	"time"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
)

// NoteOutcome is the per-note verdict of one drain cycle.
type NoteOutcome string

// Note outcomes.
const (
	NoteOutcomeCreated NoteOutcome = "created"
	NoteOutcomeUpdated NoteOutcome = "updated"
	NoteOutcomeSkipped NoteOutcome = "skipped"
	NoteOutcomeFailed  NoteOutcome = "failed"
)

// NoteResult records what happened to a single operation during a drain.
type NoteResult struct {
	OperationID string               `json:"operation_id"`
	TargetID    string               `json:"target_id"`
	Type        domain.OperationType `json:"type"`
	Outcome     NoteOutcome          `json:"outcome"`
	SyncTag     string               `json:"sync_tag,omitempty"`
	Message     string               `json:"message,omitempty"`
}

// SyncResult aggregates one drain cycle.
type SyncResult struct {
	Total      int          `json:"total"`
	Synced     int          `json:"synced"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Notes      []NoteResult `json:"notes"`
}

func newSyncResult(total int) *SyncResult {
	return &SyncResult{
		Total:     total,
		StartedAt: time.Now().UTC(),
		Notes:     make([]NoteResult, 0, total),
	}
}

func (r *SyncResult) addSynced(op *domain.Operation, outcome NoteOutcome, syncTag string) {
	r.Synced++
	r.Notes = append(r.Notes, NoteResult{
		OperationID: op.ID,
		TargetID:    op.TargetID,
		Type:        op.Type,
		Outcome:     outcome,
		SyncTag:     syncTag,
	})
}

func (r *SyncResult) addSkipped(op *domain.Operation, message string) {
	r.Skipped++
	r.Notes = append(r.Notes, NoteResult{
		OperationID: op.ID,
		TargetID:    op.TargetID,
		Type:        op.Type,
		Outcome:     NoteOutcomeSkipped,
		Message:     message,
	})
}

func (r *SyncResult) addFailed(op *domain.Operation, message string) {
	r.Failed++
	r.Notes = append(r.Notes, NoteResult{
		OperationID: op.ID,
		TargetID:    op.TargetID,
		Type:        op.Type,
		Outcome:     NoteOutcomeFailed,
		Message:     message,
	})
}

func (r *SyncResult) finish() {
	r.FinishedAt = time.Now().UTC()
}
