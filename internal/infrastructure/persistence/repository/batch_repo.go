package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/ledger"
)

// BatchRepository implements port.BatchRepository
type BatchRepository struct {
	base
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *sql.DB, logger *zap.Logger) port.BatchRepository {
	return &BatchRepository{base{db: db, logger: logger}}
}

const batchColumns = `
	id, tenant_id, workflow_instance_id, operation_type, kind, batch_number,
	parent_batch_id, vendor_ref, pieces_count, quantity,
	received_pieces, fully_received, created_at, deleted_at`

func scanBatch(s rowScanner) (*entity.OperationBatch, error) {
	var b entity.OperationBatch
	var parent sql.NullInt64
	var deletedAt sql.NullTime
	err := s.Scan(
		&b.ID,
		&b.TenantID,
		&b.WorkflowInstanceID,
		&b.OperationType,
		&b.Kind,
		&b.BatchNumber,
		&parent,
		&b.VendorRef,
		&b.PiecesCount,
		&b.Quantity,
		&b.ReceivedPieces,
		&b.FullyReceived,
		&b.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	b.ParentBatchID = idPtr(parent)
	b.DeletedAt = timePtr(deletedAt)
	return &b, nil
}

// Create inserts an operation batch
func (r *BatchRepository) Create(ctx context.Context, b *entity.OperationBatch) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO operation_batches (
			tenant_id, workflow_instance_id, operation_type, kind, batch_number,
			parent_batch_id, vendor_ref, pieces_count, quantity,
			received_pieces, fully_received, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tenantID,
		b.WorkflowInstanceID,
		string(b.OperationType),
		b.Kind,
		b.BatchNumber,
		nullableID(b.ParentBatchID),
		b.VendorRef,
		b.PiecesCount,
		b.Quantity,
		b.ReceivedPieces,
		b.FullyReceived,
		b.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ledger.Invalid("batch_number", "%s is already used", b.BatchNumber)
	}
	if err != nil {
		r.logger.Error("Failed to create batch", zap.String("batch_number", b.BatchNumber), zap.Error(err))
		return fmt.Errorf("failed to create batch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	b.TenantID = tenantID
	return nil
}

// GetByID retrieves a batch, deleted or not
func (r *BatchRepository) GetByID(ctx context.Context, id int64) (*entity.OperationBatch, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	b, err := scanBatch(r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM operation_batches WHERE id = ? AND tenant_id = ?`,
		id, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get batch", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// ListByWorkflow returns every batch of a workflow instance, oldest first
func (r *BatchRepository) ListByWorkflow(ctx context.Context, workflowInstanceID int64) ([]*entity.OperationBatch, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.getExecutor(ctx).QueryContext(ctx,
		`SELECT `+batchColumns+` FROM operation_batches
		WHERE tenant_id = ? AND workflow_instance_id = ?
		ORDER BY id`,
		tenantID, workflowInstanceID)
	if err != nil {
		r.logger.Error("Failed to list batches", zap.Int64("workflow_instance_id", workflowInstanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*entity.OperationBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// UpdateReceived stores the vendor return progress of a batch
func (r *BatchRepository) UpdateReceived(ctx context.Context, id, receivedPieces int64, fullyReceived bool) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE operation_batches SET received_pieces = ?, fully_received = ?
		WHERE id = ? AND tenant_id = ?
	`, receivedPieces, fullyReceived, id, tenantID)
	if err != nil {
		r.logger.Error("Failed to update received pieces", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update received pieces: %w", err)
	}
	return nil
}

// SoftDelete stamps deleted_at on a live batch
func (r *BatchRepository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE operation_batches SET deleted_at = ?
		WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL
	`, at.UTC(), id, tenantID)
	if err != nil {
		r.logger.Error("Failed to delete batch", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	return nil
}

const consumptionColumns = `
	id, tenant_id, workflow_instance_id, parent_batch_id, child_batch_id,
	pieces, created_at, deleted_at`

func scanConsumption(s rowScanner) (*entity.ConsumptionRecord, error) {
	var c entity.ConsumptionRecord
	var deletedAt sql.NullTime
	err := s.Scan(
		&c.ID,
		&c.TenantID,
		&c.WorkflowInstanceID,
		&c.ParentBatchID,
		&c.ChildBatchID,
		&c.Pieces,
		&c.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	c.DeletedAt = timePtr(deletedAt)
	return &c, nil
}

// CreateConsumption inserts a consumption record
func (r *BatchRepository) CreateConsumption(ctx context.Context, c *entity.ConsumptionRecord) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO consumption_records (
			tenant_id, workflow_instance_id, parent_batch_id, child_batch_id, pieces, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`, tenantID, c.WorkflowInstanceID, c.ParentBatchID, c.ChildBatchID, c.Pieces, c.CreatedAt.UTC())
	if err != nil {
		r.logger.Error("Failed to create consumption record",
			zap.Int64("parent_batch_id", c.ParentBatchID),
			zap.Int64("child_batch_id", c.ChildBatchID),
			zap.Error(err))
		return fmt.Errorf("failed to create consumption record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	c.ID = id
	c.TenantID = tenantID
	return nil
}

// GetLiveConsumptionByChild returns the open consumption record a child batch was created from
func (r *BatchRepository) GetLiveConsumptionByChild(ctx context.Context, childBatchID int64) (*entity.ConsumptionRecord, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	c, err := scanConsumption(r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+consumptionColumns+` FROM consumption_records
		WHERE tenant_id = ? AND child_batch_id = ? AND deleted_at IS NULL`,
		tenantID, childBatchID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consumption record: %w", err)
	}
	return c, nil
}

// ListLiveConsumptionsByParent returns open consumption records drawing from a parent batch
func (r *BatchRepository) ListLiveConsumptionsByParent(ctx context.Context, parentBatchID int64) ([]*entity.ConsumptionRecord, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.getExecutor(ctx).QueryContext(ctx,
		`SELECT `+consumptionColumns+` FROM consumption_records
		WHERE tenant_id = ? AND parent_batch_id = ? AND deleted_at IS NULL
		ORDER BY id`,
		tenantID, parentBatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consumption records: %w", err)
	}
	defer rows.Close()

	var records []*entity.ConsumptionRecord
	for rows.Next() {
		c, err := scanConsumption(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consumption record: %w", err)
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// CloseConsumption soft-deletes a consumption record
func (r *BatchRepository) CloseConsumption(ctx context.Context, id int64, at time.Time) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE consumption_records SET deleted_at = ?
		WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL
	`, at.UTC(), id, tenantID)
	if err != nil {
		r.logger.Error("Failed to close consumption record", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to close consumption record: %w", err)
	}
	return nil
}

const receiptColumns = `id, tenant_id, batch_id, pieces_eligible_for_next, received_at, created_at, deleted_at`

func scanReceipt(s rowScanner) (*entity.DeliveryReceipt, error) {
	var d entity.DeliveryReceipt
	var deletedAt sql.NullTime
	err := s.Scan(
		&d.ID,
		&d.TenantID,
		&d.BatchID,
		&d.PiecesEligibleForNext,
		&d.ReceivedAt,
		&d.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	d.DeletedAt = timePtr(deletedAt)
	return &d, nil
}

// CreateReceipt inserts a delivery receipt
func (r *BatchRepository) CreateReceipt(ctx context.Context, d *entity.DeliveryReceipt) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	d.CreatedAt = time.Now().UTC()
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO delivery_receipts (tenant_id, batch_id, pieces_eligible_for_next, received_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, tenantID, d.BatchID, d.PiecesEligibleForNext, d.ReceivedAt.UTC(), d.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create receipt", zap.Int64("batch_id", d.BatchID), zap.Error(err))
		return fmt.Errorf("failed to create receipt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	d.ID = id
	d.TenantID = tenantID
	return nil
}

// GetReceipt retrieves a receipt, deleted or not
func (r *BatchRepository) GetReceipt(ctx context.Context, id int64) (*entity.DeliveryReceipt, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	d, err := scanReceipt(r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM delivery_receipts WHERE id = ? AND tenant_id = ?`,
		id, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get receipt", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return d, nil
}

// ListLiveReceipts returns the live receipts of a batch, newest first.
// Receipts sharing a timestamp are ordered by insertion.
func (r *BatchRepository) ListLiveReceipts(ctx context.Context, batchID int64) ([]*entity.DeliveryReceipt, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.getExecutor(ctx).QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM delivery_receipts
		WHERE tenant_id = ? AND batch_id = ? AND deleted_at IS NULL
		ORDER BY received_at DESC, id DESC`,
		tenantID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*entity.DeliveryReceipt
	for rows.Next() {
		d, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, d)
	}
	return receipts, rows.Err()
}

// SoftDeleteReceipt stamps deleted_at on a live receipt
func (r *BatchRepository) SoftDeleteReceipt(ctx context.Context, id int64, at time.Time) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE delivery_receipts SET deleted_at = ?
		WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL
	`, at.UTC(), id, tenantID)
	if err != nil {
		r.logger.Error("Failed to delete receipt", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete receipt: %w", err)
	}
	return nil
}
