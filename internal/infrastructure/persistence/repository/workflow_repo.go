package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/entity"
)

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	base
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{base{db: db, logger: logger}}
}

// CreateTemplate inserts the template and its steps
func (r *WorkflowRepository) CreateTemplate(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO workflow_templates (tenant_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, tenantID, tpl.Name, now, now)
	if err != nil {
		r.logger.Error("Failed to create template", zap.String("name", tpl.Name), zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	tpl.ID = id
	tpl.TenantID = tenantID
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	return r.insertSteps(ctx, tenantID, id, tpl.Steps)
}

func (r *WorkflowRepository) insertSteps(ctx context.Context, tenantID string, templateID int64, steps []entity.WorkflowStepDef) error {
	for _, s := range steps {
		_, err := r.getExecutor(ctx).ExecContext(ctx, `
			INSERT INTO workflow_template_steps (tenant_id, template_id, operation_type, position)
			VALUES (?, ?, ?, ?)
		`, tenantID, templateID, string(s.OperationType), s.Position)
		if err != nil {
			r.logger.Error("Failed to insert template step",
				zap.Int64("template_id", templateID),
				zap.String("operation", string(s.OperationType)),
				zap.Error(err))
			return fmt.Errorf("failed to insert template step: %w", err)
		}
	}
	return nil
}

// GetTemplate retrieves a template with its steps ordered by position
func (r *WorkflowRepository) GetTemplate(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	var tpl entity.WorkflowTemplate
	err = r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT id, tenant_id, name, created_at, updated_at
		FROM workflow_templates
		WHERE id = ? AND tenant_id = ?
	`, id, tenantID).Scan(&tpl.ID, &tpl.TenantID, &tpl.Name, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get template", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT operation_type, position
		FROM workflow_template_steps
		WHERE template_id = ? AND tenant_id = ?
		ORDER BY position
	`, id, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list template steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step entity.WorkflowStepDef
		if err := rows.Scan(&step.OperationType, &step.Position); err != nil {
			return nil, fmt.Errorf("failed to scan template step: %w", err)
		}
		tpl.Steps = append(tpl.Steps, step)
	}

	return &tpl, rows.Err()
}

// ReplaceTemplateSteps swaps the full step list of a template
func (r *WorkflowRepository) ReplaceTemplateSteps(ctx context.Context, templateID int64, steps []entity.WorkflowStepDef) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	if _, err := r.getExecutor(ctx).ExecContext(ctx,
		`DELETE FROM workflow_template_steps WHERE template_id = ? AND tenant_id = ?`,
		templateID, tenantID); err != nil {
		r.logger.Error("Failed to clear template steps", zap.Int64("template_id", templateID), zap.Error(err))
		return fmt.Errorf("failed to clear template steps: %w", err)
	}

	if _, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE workflow_templates SET updated_at = ? WHERE id = ? AND tenant_id = ?`,
		time.Now().UTC(), templateID, tenantID); err != nil {
		return fmt.Errorf("failed to touch template: %w", err)
	}

	return r.insertSteps(ctx, tenantID, templateID, steps)
}

// CountInstancesByTemplate returns how many workflow instances reference a template
func (r *WorkflowRepository) CountInstancesByTemplate(ctx context.Context, templateID int64) (int, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	err = r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_instances WHERE template_id = ? AND tenant_id = ?`,
		templateID, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return count, nil
}

// CreateInstance inserts a workflow instance
func (r *WorkflowRepository) CreateInstance(ctx context.Context, instance *entity.WorkflowInstance) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	var unitWeight decimal.NullDecimal
	if instance.UnitWeight != nil {
		unitWeight = decimal.NewNullDecimal(*instance.UnitWeight)
	}

	now := time.Now().UTC()
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO workflow_instances (tenant_id, template_id, item_ref, unit_weight, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, tenantID, instance.TemplateID, instance.ItemRef, unitWeight, now)
	if err != nil {
		r.logger.Error("Failed to create workflow instance", zap.Int64("template_id", instance.TemplateID), zap.Error(err))
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	instance.ID = id
	instance.TenantID = tenantID
	instance.CreatedAt = now
	return nil
}

// GetInstance retrieves a workflow instance by ID
func (r *WorkflowRepository) GetInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	var instance entity.WorkflowInstance
	var unitWeight decimal.NullDecimal
	err = r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT id, tenant_id, template_id, item_ref, unit_weight, created_at
		FROM workflow_instances
		WHERE id = ? AND tenant_id = ?
	`, id, tenantID).Scan(
		&instance.ID,
		&instance.TenantID,
		&instance.TemplateID,
		&instance.ItemRef,
		&unitWeight,
		&instance.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow instance", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow instance: %w", err)
	}

	if unitWeight.Valid {
		w := unitWeight.Decimal
		instance.UnitWeight = &w
	}
	return &instance, nil
}
