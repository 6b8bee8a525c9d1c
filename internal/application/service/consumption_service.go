package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/ledger"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
)

// ConsumeRequest moves pieces from a parent batch into a child batch at the next operation
type ConsumeRequest struct {
	WorkflowID      int64
	OperationType   workflow.OperationType
	ParentBatchID   int64
	ChildBatchID    int64
	PiecesRequested int64

	// CreditChild makes the pieces immediately available to the operation after the child.
	// Vendor dispatches leave it false; their pieces arrive through delivery receipts.
	CreditChild bool
	At          time.Time
}

// ConsumptionResult is the outcome of a successful consumption
type ConsumptionResult struct {
	Record       *entity.ConsumptionRecord
	ChildOutcome *entity.BatchOutcome
}

// ConsumptionService moves pieces between adjacent operations of a workflow
type ConsumptionService interface {
	ConsumeFromParent(ctx context.Context, req ConsumeRequest) (*ConsumptionResult, error)
}

type consumptionServiceImpl struct {
	workflowRepo  port.WorkflowRepository
	batchRepo     port.BatchRepository
	ledgerService LedgerService
	txManager     port.TransactionManager
	logger        Logger
}

// NewConsumptionService creates a new ConsumptionService
func NewConsumptionService(
	workflowRepo port.WorkflowRepository,
	batchRepo port.BatchRepository,
	ledgerService LedgerService,
	txManager port.TransactionManager,
	logger Logger,
) ConsumptionService {
	return &consumptionServiceImpl{
		workflowRepo:  workflowRepo,
		batchRepo:     batchRepo,
		ledgerService: ledgerService,
		txManager:     txManager,
		logger:        logger,
	}
}

// ConsumeFromParent debits the parent batch, credits the child and records the link.
// The parent must be a live batch of the operation immediately before the child's.
func (s *consumptionServiceImpl) ConsumeFromParent(ctx context.Context, req ConsumeRequest) (*ConsumptionResult, error) {
	if req.PiecesRequested <= 0 {
		return nil, ledger.Invalid("pieces_requested", "must be positive, got %d", req.PiecesRequested)
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}
	req.At = req.At.UTC()

	var result *ConsumptionResult
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		_, topology, err := loadWorkflow(txCtx, s.workflowRepo, req.WorkflowID)
		if err != nil {
			return err
		}

		ref, err := ledgerRef(req.WorkflowID, topology, req.OperationType)
		if err != nil {
			return err
		}
		parentOp, ok, err := topology.StepBefore(req.OperationType)
		if err != nil {
			return err
		}
		if !ok {
			return ledger.Invalid("operation_type",
				"%s is the first step and draws from raw material, not a parent batch", req.OperationType)
		}

		parent, err := s.batchRepo.GetByID(txCtx, req.ParentBatchID)
		if err != nil {
			return fmt.Errorf("get parent batch: %w", err)
		}
		if parent == nil || parent.IsDeleted() {
			return ledger.NotFound("parent batch", req.ParentBatchID)
		}
		if parent.WorkflowInstanceID != req.WorkflowID {
			return ledger.Invalid("parent_batch_id",
				"batch %d belongs to workflow %d, not %d", parent.ID, parent.WorkflowInstanceID, req.WorkflowID)
		}
		if parent.OperationType != parentOp {
			return ledger.Invalid("parent_batch_id",
				"batch %d is a %s batch, %s consumes from %s", parent.ID, parent.OperationType, req.OperationType, parentOp)
		}

		if err := s.ledgerService.Debit(txCtx, parent.ID, req.PiecesRequested); err != nil {
			return err
		}

		delta := int64(0)
		if req.CreditChild {
			delta = req.PiecesRequested
		}
		parentID := parent.ID
		outcome, err := s.ledgerService.AppendOrIncrement(txCtx, ref, req.ChildBatchID, &parentID, delta, req.At)
		if err != nil {
			return err
		}

		record := &entity.ConsumptionRecord{
			WorkflowInstanceID: req.WorkflowID,
			ParentBatchID:      parent.ID,
			ChildBatchID:       req.ChildBatchID,
			Pieces:             req.PiecesRequested,
			CreatedAt:          req.At,
		}
		if err := s.batchRepo.CreateConsumption(txCtx, record); err != nil {
			return fmt.Errorf("create consumption record: %w", err)
		}

		result = &ConsumptionResult{Record: record, ChildOutcome: outcome}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to consume from parent",
			"error", err,
			"workflow_id", req.WorkflowID,
			"parent_batch_id", req.ParentBatchID,
			"pieces", req.PiecesRequested)
		return nil, err
	}

	s.logger.Info("Consumed from parent",
		"workflow_id", req.WorkflowID,
		"parent_batch_id", req.ParentBatchID,
		"child_batch_id", req.ChildBatchID,
		"pieces", req.PiecesRequested)
	return result, nil
}
