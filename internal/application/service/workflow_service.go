package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/ledger"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
	"github.com/garyjia/pieceflow/pkg/utils"
)

// CreateTemplateRequest names a template and lists its operations in order
type CreateTemplateRequest struct {
	Name       string                   `json:"name" validate:"required,max=128"`
	Operations []workflow.OperationType `json:"operations" validate:"required,min=1"`
}

// CreateInstanceRequest starts a production run of an item on a template
type CreateInstanceRequest struct {
	TemplateID int64            `json:"template_id" validate:"required"`
	ItemRef    string           `json:"item_ref" validate:"required,max=64,ref"`
	UnitWeight *decimal.Decimal `json:"unit_weight,omitempty"`
}

// WorkflowService manages workflow templates and the instances that run on them
type WorkflowService interface {
	CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*entity.WorkflowTemplate, error)
	GetTemplate(ctx context.Context, id int64) (*entity.WorkflowTemplate, error)

	// ReplaceTemplateSteps rewrites the step list of a template that no instance uses yet
	ReplaceTemplateSteps(ctx context.Context, id int64, ops []workflow.OperationType) (*entity.WorkflowTemplate, error)

	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*entity.WorkflowInstance, error)
	GetInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
}

type workflowServiceImpl struct {
	workflowRepo port.WorkflowRepository
	txManager    port.TransactionManager
	logger       Logger
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(
	workflowRepo port.WorkflowRepository,
	txManager port.TransactionManager,
	logger Logger,
) WorkflowService {
	return &workflowServiceImpl{
		workflowRepo: workflowRepo,
		txManager:    txManager,
		logger:       logger,
	}
}

func stepDefs(ops []workflow.OperationType) ([]entity.WorkflowStepDef, error) {
	topology, err := workflow.FromOperations(ops)
	if err != nil {
		return nil, ledger.Invalid("operations", "%v", err)
	}
	steps := make([]entity.WorkflowStepDef, 0, topology.Len())
	for _, s := range topology.Steps() {
		steps = append(steps, entity.WorkflowStepDef{OperationType: s.OperationType, Position: s.Position})
	}
	return steps, nil
}

func (s *workflowServiceImpl) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*entity.WorkflowTemplate, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	steps, err := stepDefs(req.Operations)
	if err != nil {
		return nil, err
	}

	tpl := &entity.WorkflowTemplate{
		Name:  utils.SanitizeString(req.Name),
		Steps: steps,
	}
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.workflowRepo.CreateTemplate(txCtx, tpl)
	})
	if err != nil {
		s.logger.Error("Failed to create template", "error", err, "name", req.Name)
		return nil, err
	}

	s.logger.Info("Template created", "template_id", tpl.ID, "steps", len(steps))
	return tpl, nil
}

func (s *workflowServiceImpl) GetTemplate(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	tpl, err := s.workflowRepo.GetTemplate(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get template", "error", err, "template_id", id)
		return nil, err
	}
	if tpl == nil {
		return nil, ledger.NotFound("workflow template", id)
	}
	return tpl, nil
}

func (s *workflowServiceImpl) ReplaceTemplateSteps(ctx context.Context, id int64, ops []workflow.OperationType) (*entity.WorkflowTemplate, error) {
	steps, err := stepDefs(ops)
	if err != nil {
		return nil, err
	}

	var tpl *entity.WorkflowTemplate
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tpl, err = s.workflowRepo.GetTemplate(txCtx, id)
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		if tpl == nil {
			return ledger.NotFound("workflow template", id)
		}

		inUse, err := s.workflowRepo.CountInstancesByTemplate(txCtx, id)
		if err != nil {
			return fmt.Errorf("count instances: %w", err)
		}
		if inUse > 0 {
			return fmt.Errorf("template %d has %d instances: %w", id, inUse, workflow.ErrTemplateInUse)
		}

		if err := s.workflowRepo.ReplaceTemplateSteps(txCtx, id, steps); err != nil {
			return err
		}
		tpl.Steps = steps
		tpl.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to replace template steps", "error", err, "template_id", id)
		return nil, err
	}

	s.logger.Info("Template steps replaced", "template_id", id, "steps", len(steps))
	return tpl, nil
}

func (s *workflowServiceImpl) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*entity.WorkflowInstance, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.UnitWeight != nil && !req.UnitWeight.IsPositive() {
		return nil, ledger.Invalid("unit_weight", "must be positive, got %s", req.UnitWeight.String())
	}

	instance := &entity.WorkflowInstance{
		TemplateID: req.TemplateID,
		ItemRef:    utils.SanitizeString(req.ItemRef),
		UnitWeight: req.UnitWeight,
	}
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tpl, err := s.workflowRepo.GetTemplate(txCtx, req.TemplateID)
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		if tpl == nil {
			return ledger.NotFound("workflow template", req.TemplateID)
		}
		if _, err := tpl.Topology(); err != nil {
			return fmt.Errorf("template %d: %w", tpl.ID, err)
		}
		return s.workflowRepo.CreateInstance(txCtx, instance)
	})
	if err != nil {
		s.logger.Error("Failed to create workflow instance", "error", err, "template_id", req.TemplateID)
		return nil, err
	}

	s.logger.Info("Workflow instance created", "workflow_id", instance.ID, "template_id", req.TemplateID)
	return instance, nil
}

func (s *workflowServiceImpl) GetInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	instance, err := s.workflowRepo.GetInstance(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get workflow instance", "error", err, "workflow_id", id)
		return nil, err
	}
	if instance == nil {
		return nil, ledger.NotFound("workflow instance", id)
	}
	return instance, nil
}
