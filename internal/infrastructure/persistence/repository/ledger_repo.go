package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
)

// LedgerRepository implements port.LedgerRepository
type LedgerRepository struct {
	base
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sql.DB, logger *zap.Logger) port.LedgerRepository {
	return &LedgerRepository{base{db: db, logger: logger}}
}

// outcomeSelect reads outcomes together with the workflow and operation of their ledger
const outcomeSelect = `
	SELECT o.id, o.tenant_id, o.ledger_id, l.workflow_instance_id, l.operation_type,
		o.batch_id, o.previous_operation_batch_id,
		o.initial_pieces_count, o.pieces_available_for_next,
		o.started_at, o.updated_at, o.deleted, o.deleted_at
	FROM batch_outcomes o
	JOIN step_ledgers l ON l.id = o.ledger_id`

func scanOutcome(s rowScanner) (*entity.BatchOutcome, error) {
	var o entity.BatchOutcome
	var previous sql.NullInt64
	var deletedAt sql.NullTime
	err := s.Scan(
		&o.ID,
		&o.TenantID,
		&o.LedgerID,
		&o.WorkflowInstanceID,
		&o.OperationType,
		&o.BatchID,
		&previous,
		&o.InitialPiecesCount,
		&o.PiecesAvailableForNext,
		&o.StartedAt,
		&o.UpdatedAt,
		&o.Deleted,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	o.PreviousOperationBatchID = idPtr(previous)
	o.DeletedAt = timePtr(deletedAt)
	return &o, nil
}

// GetLedger retrieves the step ledger for an operation of a workflow instance
func (r *LedgerRepository) GetLedger(ctx context.Context, workflowInstanceID int64, op workflow.OperationType) (*entity.StepLedger, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	var l entity.StepLedger
	err = r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT id, tenant_id, workflow_instance_id, operation_type, position, created_at
		FROM step_ledgers
		WHERE tenant_id = ? AND workflow_instance_id = ? AND operation_type = ?
	`, tenantID, workflowInstanceID, string(op)).Scan(
		&l.ID, &l.TenantID, &l.WorkflowInstanceID, &l.OperationType, &l.Position, &l.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get ledger",
			zap.Int64("workflow_instance_id", workflowInstanceID),
			zap.String("operation", string(op)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return &l, nil
}

// CreateLedger inserts a step ledger
func (r *LedgerRepository) CreateLedger(ctx context.Context, l *entity.StepLedger) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO step_ledgers (tenant_id, workflow_instance_id, operation_type, position, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, tenantID, l.WorkflowInstanceID, string(l.OperationType), l.Position, now)
	if err != nil {
		r.logger.Error("Failed to create ledger", zap.Int64("workflow_instance_id", l.WorkflowInstanceID), zap.Error(err))
		return fmt.Errorf("failed to create ledger: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	l.ID = id
	l.TenantID = tenantID
	l.CreatedAt = now
	return nil
}

// GetEntryByBatch retrieves the outcome of a batch
func (r *LedgerRepository) GetEntryByBatch(ctx context.Context, batchID int64) (*entity.BatchOutcome, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	o, err := scanOutcome(r.getExecutor(ctx).QueryRowContext(ctx,
		outcomeSelect+` WHERE o.tenant_id = ? AND o.batch_id = ?`,
		tenantID, batchID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get ledger entry", zap.Int64("batch_id", batchID), zap.Error(err))
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return o, nil
}

// CreateEntry inserts a batch outcome
func (r *LedgerRepository) CreateEntry(ctx context.Context, o *entity.BatchOutcome) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO batch_outcomes (
			tenant_id, ledger_id, batch_id, previous_operation_batch_id,
			initial_pieces_count, pieces_available_for_next,
			started_at, updated_at, deleted, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tenantID,
		o.LedgerID,
		o.BatchID,
		nullableID(o.PreviousOperationBatchID),
		o.InitialPiecesCount,
		o.PiecesAvailableForNext,
		o.StartedAt.UTC(),
		o.UpdatedAt.UTC(),
		o.Deleted,
		nullableTime(o.DeletedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create ledger entry", zap.Int64("batch_id", o.BatchID), zap.Error(err))
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	o.ID = id
	o.TenantID = tenantID
	return nil
}

// UpdateEntry writes both counters and the deletion state of an outcome
func (r *LedgerRepository) UpdateEntry(ctx context.Context, o *entity.BatchOutcome) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE batch_outcomes
		SET initial_pieces_count = ?, pieces_available_for_next = ?,
			updated_at = ?, deleted = ?, deleted_at = ?
		WHERE id = ? AND tenant_id = ?
	`,
		o.InitialPiecesCount,
		o.PiecesAvailableForNext,
		o.UpdatedAt.UTC(),
		o.Deleted,
		nullableTime(o.DeletedAt),
		o.ID,
		tenantID,
	)
	if err != nil {
		r.logger.Error("Failed to update ledger entry", zap.Int64("batch_id", o.BatchID), zap.Error(err))
		return fmt.Errorf("failed to update ledger entry: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger entry %d not updated", o.ID)
	}
	return nil
}

// DebitEntry conditionally subtracts amount from the available pool of a live outcome
func (r *LedgerRepository) DebitEntry(ctx context.Context, batchID, amount int64, at time.Time) (bool, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return false, err
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE batch_outcomes
		SET pieces_available_for_next = pieces_available_for_next - ?, updated_at = ?
		WHERE tenant_id = ? AND batch_id = ? AND deleted = 0 AND pieces_available_for_next >= ?
	`, amount, at.UTC(), tenantID, batchID, amount)
	if err != nil {
		r.logger.Error("Failed to debit ledger entry",
			zap.Int64("batch_id", batchID),
			zap.Int64("amount", amount),
			zap.Error(err))
		return false, fmt.Errorf("failed to debit ledger entry: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// ListEntries returns every outcome of a ledger, including deleted ones, oldest first
func (r *LedgerRepository) ListEntries(ctx context.Context, ledgerID int64) ([]*entity.BatchOutcome, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	return r.queryOutcomes(ctx,
		outcomeSelect+`
		WHERE o.tenant_id = ? AND o.ledger_id = ?
		ORDER BY o.started_at, o.id`,
		tenantID, ledgerID)
}

// ListLiveSuccessors returns live outcomes that consumed from parentBatchID
func (r *LedgerRepository) ListLiveSuccessors(ctx context.Context, parentBatchID int64) ([]*entity.BatchOutcome, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	return r.queryOutcomes(ctx,
		outcomeSelect+`
		WHERE o.tenant_id = ? AND o.previous_operation_batch_id = ? AND o.deleted = 0
		ORDER BY o.id`,
		tenantID, parentBatchID)
}

func (r *LedgerRepository) queryOutcomes(ctx context.Context, query string, args ...interface{}) ([]*entity.BatchOutcome, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list ledger entries", zap.Error(err))
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var outcomes []*entity.BatchOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
