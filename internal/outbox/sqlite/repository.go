// Package sqlite provides the SQLite implementation of the outbox store.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
	"github.com/inkwell-notes/inkwell-sync/internal/outbox"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Repository implements outbox.Store using SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a SQLite repository and applies pending migrations.
func NewRepository(db *sql.DB) (*Repository, error) {
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Repository{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

const operationColumns = `id, type, target_id, payload, status, retry_count, next_retry_at, abandoned, error_kind, error_message, created_at, updated_at`

// Enqueue inserts a new operation row.
func (r *Repository) Enqueue(ctx context.Context, op *domain.Operation) error {
	query := `
		INSERT INTO operations (` + operationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		op.ID,
		string(op.Type),
		op.TargetID,
		[]byte(op.Payload),
		string(op.Status),
		op.RetryCount,
		nullUnixMicro(op.NextRetryAt),
		op.Abandoned,
		nullString((*string)(op.ErrorKind)),
		nullString(op.ErrorMessage),
		op.CreatedAt.UnixMicro(),
		op.UpdatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// GetOperation retrieves a single operation by id.
func (r *Repository) GetOperation(ctx context.Context, id string) (*domain.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE id = ?`
	op, err := scanOperation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, outbox.ErrOperationNotFound
		}
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

// GetPendingOperations returns operations eligible for processing, grouped by
// target and oldest first within a group. An earlier failed operation whose
// retry gate has not elapsed blocks later operations for the same target, so
// per-entity creation order survives retry gating.
func (r *Repository) GetPendingOperations(ctx context.Context, now time.Time) ([]*domain.Operation, error) {
	nowMicro := now.UnixMicro()
	query := `
		SELECT ` + columnsOf("o") + `
		FROM operations o
		WHERE (
			o.status = 'pending'
			OR (o.status = 'failed' AND o.abandoned = 0
				AND (o.next_retry_at IS NULL OR o.next_retry_at <= ?))
		)
		AND NOT EXISTS (
			SELECT 1 FROM operations b
			WHERE b.target_id = o.target_id
			  AND b.status = 'failed'
			  AND b.abandoned = 0
			  AND b.next_retry_at IS NOT NULL
			  AND b.next_retry_at > ?
			  AND (b.created_at < o.created_at
			       OR (b.created_at = o.created_at AND b.id < o.id))
		)
		ORDER BY o.target_id, o.created_at, o.id
	`
	rows, err := r.db.QueryContext(ctx, query, nowMicro, nowMicro)
	if err != nil {
		return nil, fmt.Errorf("query pending operations: %w", err)
	}
	defer rows.Close()

	ops := make([]*domain.Operation, 0)
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending operations: %w", err)
	}

	return ops, nil
}

// MarkProcessing transitions pending|failed -> processing. A no-op if the
// operation is already processing.
func (r *Repository) MarkProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE operations
		SET status = 'processing', next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'failed')
	`
	result, err := r.db.ExecContext(ctx, query, time.Now().UnixMicro(), id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark processing rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing updated: distinguish missing, already processing, and terminal.
	op, err := r.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if op.Status == domain.OperationStatusProcessing {
		return nil
	}
	return outbox.ErrInvalidTransition
}

// MarkCompleted transitions to terminal completed and clears error fields.
func (r *Repository) MarkCompleted(ctx context.Context, id string) error {
	query := `
		UPDATE operations
		SET status = 'completed', next_retry_at = NULL, abandoned = 0,
		    error_kind = NULL, error_message = NULL, updated_at = ?
		WHERE id = ?
	`
	return r.execOnExisting(ctx, query, time.Now().UnixMicro(), id)
}

// MarkFailed transitions to failed and increments the retry count. Every call
// increments: two sequential failures record two attempts.
func (r *Repository) MarkFailed(ctx context.Context, id string, kind domain.ErrorKind, message string) error {
	query := `
		UPDATE operations
		SET status = 'failed', retry_count = retry_count + 1, next_retry_at = NULL,
		    error_kind = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`
	return r.execOnExisting(ctx, query, string(kind), message, time.Now().UnixMicro(), id)
}

// ScheduleRetry sets the retry gate to now + delay.
func (r *Repository) ScheduleRetry(ctx context.Context, id string, delay time.Duration) error {
	at := time.Now().Add(delay)
	query := `UPDATE operations SET next_retry_at = ?, updated_at = ? WHERE id = ?`
	return r.execOnExisting(ctx, query, at.UnixMicro(), time.Now().UnixMicro(), id)
}

// Abandon parks a failed operation until explicit user action.
func (r *Repository) Abandon(ctx context.Context, id string) error {
	query := `UPDATE operations SET abandoned = 1, next_retry_at = NULL, updated_at = ? WHERE id = ?`
	return r.execOnExisting(ctx, query, time.Now().UnixMicro(), id)
}

// RequeueFailed resets a failed operation back to pending with a fresh retry
// budget.
func (r *Repository) RequeueFailed(ctx context.Context, id string) error {
	query := `
		UPDATE operations
		SET status = 'pending', retry_count = 0, next_retry_at = NULL, abandoned = 0,
		    error_kind = NULL, error_message = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed'
	`
	result, err := r.db.ExecContext(ctx, query, time.Now().UnixMicro(), id)
	if err != nil {
		return fmt.Errorf("requeue failed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetOperation(ctx, id); err != nil {
			return err
		}
		return outbox.ErrInvalidTransition
	}
	return nil
}

// PendingCount returns the number of operations not yet completed.
func (r *Repository) PendingCount(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM operations WHERE status != 'completed'`
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

// GetQueueStats returns operation counts by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*outbox.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM operations GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query queue stats: %w", err)
	}
	defer rows.Close()

	stats := &outbox.QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch domain.OperationStatus(status) {
		case domain.OperationStatusPending:
			stats.Pending = count
		case domain.OperationStatusProcessing:
			stats.Processing = count
		case domain.OperationStatusCompleted:
			stats.Completed = count
		case domain.OperationStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue stats: %w", err)
	}

	return stats, nil
}

// RecoverStale demotes operations left processing by a prior run back to
// pending. Called once at startup before any drain.
func (r *Repository) RecoverStale(ctx context.Context) (int, error) {
	query := `UPDATE operations SET status = 'pending', updated_at = ? WHERE status = 'processing'`
	result, err := r.db.ExecContext(ctx, query, time.Now().UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("recover stale operations: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover stale rows affected: %w", err)
	}
	return int(affected), nil
}

// PruneCompleted deletes completed operations last touched before the cutoff.
func (r *Repository) PruneCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM operations WHERE status = 'completed' AND updated_at < ?`
	result, err := r.db.ExecContext(ctx, query, olderThan.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("prune completed: %w", err)
	}
	return result.RowsAffected()
}

// ClearPending deletes all operations that have not completed.
func (r *Repository) ClearPending(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM operations WHERE status != 'completed'`); err != nil {
		return fmt.Errorf("clear pending: %w", err)
	}
	return nil
}

// ClearAll empties the store.
func (r *Repository) ClearAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM operations`); err != nil {
		return fmt.Errorf("clear all: %w", err)
	}
	return nil
}

func (r *Repository) execOnExisting(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update operation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rows affected: %w", err)
	}
	if affected == 0 {
		return outbox.ErrOperationNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*domain.Operation, error) {
	var (
		op           domain.Operation
		typ          string
		status       string
		payload      []byte
		nextRetryAt  sql.NullInt64
		errorKind    sql.NullString
		errorMessage sql.NullString
		createdAt    int64
		updatedAt    int64
	)

	err := row.Scan(
		&op.ID,
		&typ,
		&op.TargetID,
		&payload,
		&status,
		&op.RetryCount,
		&nextRetryAt,
		&op.Abandoned,
		&errorKind,
		&errorMessage,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	op.Type = domain.OperationType(typ)
	op.Status = domain.OperationStatus(status)
	op.Payload = payload
	op.CreatedAt = time.UnixMicro(createdAt).UTC()
	op.UpdatedAt = time.UnixMicro(updatedAt).UTC()

	if nextRetryAt.Valid {
		at := time.UnixMicro(nextRetryAt.Int64).UTC()
		op.NextRetryAt = &at
	}
	if errorKind.Valid {
		kind := domain.ErrorKind(errorKind.String)
		op.ErrorKind = &kind
	}
	if errorMessage.Valid {
		msg := errorMessage.String
		op.ErrorMessage = &msg
	}

	return &op, nil
}

func columnsOf(alias string) string {
	return alias + ".id, " + alias + ".type, " + alias + ".target_id, " + alias + ".payload, " +
		alias + ".status, " + alias + ".retry_count, " + alias + ".next_retry_at, " +
		alias + ".abandoned, " + alias + ".error_kind, " + alias + ".error_message, " +
		alias + ".created_at, " + alias + ".updated_at"
}

func nullUnixMicro(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
