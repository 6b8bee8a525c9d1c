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

// MaterialRepository implements port.MaterialRepository
type MaterialRepository struct {
	base
}

// NewMaterialRepository creates a new material repository
func NewMaterialRepository(db *sql.DB, logger *zap.Logger) port.MaterialRepository {
	return &MaterialRepository{base{db: db, logger: logger}}
}

const lotColumns = `
	id, tenant_id, heat_number, material, unit_type,
	total_quantity, available_quantity, total_pieces, available_pieces,
	created_at, updated_at`

func scanLot(s rowScanner) (*entity.RawMaterialLot, error) {
	var l entity.RawMaterialLot
	err := s.Scan(
		&l.ID,
		&l.TenantID,
		&l.HeatNumber,
		&l.Material,
		&l.UnitType,
		&l.TotalQuantity,
		&l.AvailableQuantity,
		&l.TotalPieces,
		&l.AvailablePieces,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLot inserts a raw material lot
func (r *MaterialRepository) CreateLot(ctx context.Context, l *entity.RawMaterialLot) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO raw_material_lots (
			tenant_id, heat_number, material, unit_type,
			total_quantity, available_quantity, total_pieces, available_pieces,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tenantID,
		l.HeatNumber,
		l.Material,
		l.UnitType,
		l.TotalQuantity,
		l.AvailableQuantity,
		l.TotalPieces,
		l.AvailablePieces,
		now,
		now,
	)
	if isUniqueViolation(err) {
		return ledger.Invalid("heat_number", "%s is already registered", l.HeatNumber)
	}
	if err != nil {
		r.logger.Error("Failed to create lot", zap.String("heat_number", l.HeatNumber), zap.Error(err))
		return fmt.Errorf("failed to create lot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	l.ID = id
	l.TenantID = tenantID
	l.CreatedAt = now
	l.UpdatedAt = now
	return nil
}

// GetLot retrieves a lot by ID
func (r *MaterialRepository) GetLot(ctx context.Context, id int64) (*entity.RawMaterialLot, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	l, err := scanLot(r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+lotColumns+` FROM raw_material_lots WHERE id = ? AND tenant_id = ?`,
		id, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get lot", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get lot: %w", err)
	}
	return l, nil
}

// UpdateLotAvailability stores the available amounts of a lot
func (r *MaterialRepository) UpdateLotAvailability(ctx context.Context, l *entity.RawMaterialLot) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	l.UpdatedAt = time.Now().UTC()
	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE raw_material_lots
		SET available_quantity = ?, available_pieces = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?
	`, l.AvailableQuantity, l.AvailablePieces, l.UpdatedAt, l.ID, tenantID)
	if err != nil {
		r.logger.Error("Failed to update lot", zap.Int64("id", l.ID), zap.Error(err))
		return fmt.Errorf("failed to update lot: %w", err)
	}
	return nil
}

const vendorAccountColumns = `
	id, tenant_id, vendor_ref, lot_id, unit_type,
	available_quantity, available_pieces, created_at, updated_at`

func scanVendorAccount(s rowScanner) (*entity.VendorInventoryAccount, error) {
	var a entity.VendorInventoryAccount
	err := s.Scan(
		&a.ID,
		&a.TenantID,
		&a.VendorRef,
		&a.LotID,
		&a.UnitType,
		&a.AvailableQuantity,
		&a.AvailablePieces,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateVendorAccount inserts a vendor inventory account
func (r *MaterialRepository) CreateVendorAccount(ctx context.Context, a *entity.VendorInventoryAccount) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO vendor_inventory_accounts (
			tenant_id, vendor_ref, lot_id, unit_type,
			available_quantity, available_pieces, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, tenantID, a.VendorRef, a.LotID, a.UnitType, a.AvailableQuantity, a.AvailablePieces, now, now)
	if err != nil {
		r.logger.Error("Failed to create vendor account",
			zap.String("vendor_ref", a.VendorRef),
			zap.Int64("lot_id", a.LotID),
			zap.Error(err))
		return fmt.Errorf("failed to create vendor account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	a.TenantID = tenantID
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// GetVendorAccount retrieves a vendor account by ID
func (r *MaterialRepository) GetVendorAccount(ctx context.Context, id int64) (*entity.VendorInventoryAccount, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	a, err := scanVendorAccount(r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+vendorAccountColumns+` FROM vendor_inventory_accounts WHERE id = ? AND tenant_id = ?`,
		id, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get vendor account", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get vendor account: %w", err)
	}
	return a, nil
}

// FindVendorAccount retrieves the account holding a lot at a vendor
func (r *MaterialRepository) FindVendorAccount(ctx context.Context, vendorRef string, lotID int64) (*entity.VendorInventoryAccount, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	a, err := scanVendorAccount(r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+vendorAccountColumns+` FROM vendor_inventory_accounts
		WHERE tenant_id = ? AND vendor_ref = ? AND lot_id = ?`,
		tenantID, vendorRef, lotID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find vendor account: %w", err)
	}
	return a, nil
}

// UpdateVendorAccountAvailability stores the available amounts of a vendor account
func (r *MaterialRepository) UpdateVendorAccountAvailability(ctx context.Context, a *entity.VendorInventoryAccount) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	a.UpdatedAt = time.Now().UTC()
	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE vendor_inventory_accounts
		SET available_quantity = ?, available_pieces = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?
	`, a.AvailableQuantity, a.AvailablePieces, a.UpdatedAt, a.ID, tenantID)
	if err != nil {
		r.logger.Error("Failed to update vendor account", zap.Int64("id", a.ID), zap.Error(err))
		return fmt.Errorf("failed to update vendor account: %w", err)
	}
	return nil
}

// CreateConsumption inserts a material consumption line
func (r *MaterialRepository) CreateConsumption(ctx context.Context, c *entity.MaterialConsumption) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	c.CreatedAt = time.Now().UTC()
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO material_consumptions (
			tenant_id, batch_id, source_type, lot_id, vendor_account_id,
			unit_type, quantity, pieces, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tenantID,
		c.BatchID,
		c.SourceType,
		c.LotID,
		nullableID(c.VendorAccountID),
		c.UnitType,
		c.Quantity,
		c.Pieces,
		c.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create material consumption", zap.Int64("batch_id", c.BatchID), zap.Error(err))
		return fmt.Errorf("failed to create material consumption: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	c.ID = id
	c.TenantID = tenantID
	return nil
}

// ListLiveConsumptionsByBatch returns the live consumption lines of a batch
func (r *MaterialRepository) ListLiveConsumptionsByBatch(ctx context.Context, batchID int64) ([]*entity.MaterialConsumption, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, batch_id, source_type, lot_id, vendor_account_id,
			unit_type, quantity, pieces, created_at, deleted_at
		FROM material_consumptions
		WHERE tenant_id = ? AND batch_id = ? AND deleted_at IS NULL
		ORDER BY id
	`, tenantID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list material consumptions: %w", err)
	}
	defer rows.Close()

	var lines []*entity.MaterialConsumption
	for rows.Next() {
		var c entity.MaterialConsumption
		var vendorAccount sql.NullInt64
		var deletedAt sql.NullTime
		if err := rows.Scan(
			&c.ID,
			&c.TenantID,
			&c.BatchID,
			&c.SourceType,
			&c.LotID,
			&vendorAccount,
			&c.UnitType,
			&c.Quantity,
			&c.Pieces,
			&c.CreatedAt,
			&deletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan material consumption: %w", err)
		}
		c.VendorAccountID = idPtr(vendorAccount)
		c.DeletedAt = timePtr(deletedAt)
		lines = append(lines, &c)
	}
	return lines, rows.Err()
}

// SoftDeleteConsumptionsByBatch stamps deleted_at on every live line of a batch
func (r *MaterialRepository) SoftDeleteConsumptionsByBatch(ctx context.Context, batchID int64, at time.Time) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE material_consumptions SET deleted_at = ?
		WHERE tenant_id = ? AND batch_id = ? AND deleted_at IS NULL
	`, at.UTC(), tenantID, batchID)
	if err != nil {
		r.logger.Error("Failed to delete material consumptions", zap.Int64("batch_id", batchID), zap.Error(err))
		return fmt.Errorf("failed to delete material consumptions: %w", err)
	}
	return nil
}
