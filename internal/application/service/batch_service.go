package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/event"
	"github.com/garyjia/pieceflow/internal/domain/ledger"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
	"github.com/garyjia/pieceflow/pkg/utils"
)

// FirstBatchRequest starts pieces at the first operation of a workflow from raw material
type FirstBatchRequest struct {
	WorkflowID    int64                  `json:"workflow_id" validate:"required"`
	OperationType workflow.OperationType `json:"operation_type" validate:"required"`
	BatchNumber   string                 `json:"batch_number" validate:"omitempty,max=64,ref"`
	VendorRef     string                 `json:"vendor_ref" validate:"omitempty,max=64,ref"`
	Pieces        int64                  `json:"pieces" validate:"gt=0"`
	Materials     []ConsumptionLine      `json:"materials" validate:"required,min=1,dive"`
	StartedAt     time.Time              `json:"started_at"`
}

// SuccessorBatchRequest moves pieces from a named parent batch into the next operation
type SuccessorBatchRequest struct {
	WorkflowID      int64                  `json:"workflow_id" validate:"required"`
	OperationType   workflow.OperationType `json:"operation_type" validate:"required"`
	ParentBatchID   int64                  `json:"parent_batch_id" validate:"required"`
	PiecesRequested int64                  `json:"pieces_requested" validate:"gt=0"`
	BatchNumber     string                 `json:"batch_number" validate:"omitempty,max=64,ref"`
	VendorRef       string                 `json:"vendor_ref" validate:"omitempty,max=64,ref"`
	StartedAt       time.Time              `json:"started_at"`
}

// DeliveryRequest records pieces returned by a vendor
type DeliveryRequest struct {
	BatchID               int64     `json:"batch_id" validate:"required"`
	PiecesEligibleForNext int64     `json:"pieces_eligible_for_next" validate:"gt=0"`
	ReceivedAt            time.Time `json:"received_at"`
}

// BatchResult is the batch created by a call together with its ledger entry
type BatchResult struct {
	Batch       *entity.OperationBatch        `json:"batch"`
	Outcome     *entity.BatchOutcome          `json:"outcome"`
	Consumption *entity.ConsumptionRecord     `json:"consumption,omitempty"`
	Materials   []*entity.MaterialConsumption `json:"materials,omitempty"`
}

// DeliveryResult is a recorded receipt together with the updated batch and ledger entry
type DeliveryResult struct {
	Receipt *entity.DeliveryReceipt `json:"receipt"`
	Batch   *entity.OperationBatch  `json:"batch"`
	Outcome *entity.BatchOutcome    `json:"outcome"`
}

// BatchService is the entry point for recording and reversing piece flow.
// Every mutating call runs in exactly one transaction.
type BatchService interface {
	CreateFirstOperationBatch(ctx context.Context, req FirstBatchRequest) (*BatchResult, error)
	CreateSuccessorOperationBatch(ctx context.Context, req SuccessorBatchRequest) (*BatchResult, error)
	CreditPartialDelivery(ctx context.Context, req DeliveryRequest) (*DeliveryResult, error)
	DeleteOperationBatch(ctx context.Context, batchID int64) error
	DeleteDeliveryReceipt(ctx context.Context, receiptID int64) error
	GetBatch(ctx context.Context, batchID int64) (*entity.OperationBatch, error)
	GetLedgerSnapshot(ctx context.Context, workflowID int64, op workflow.OperationType) (*entity.StepLedger, error)
	ListEvents(ctx context.Context, workflowID int64) ([]*event.Event, error)
}

type batchServiceImpl struct {
	workflowRepo        port.WorkflowRepository
	batchRepo           port.BatchRepository
	eventRepo           port.EventRepository
	ledgerService       LedgerService
	consumptionService  ConsumptionService
	compensationService CompensationService
	inventoryService    InventoryService
	txManager           port.TransactionManager
	logger              Logger
}

// BatchServiceDeps groups the collaborators of the batch service
type BatchServiceDeps struct {
	WorkflowRepo        port.WorkflowRepository
	BatchRepo           port.BatchRepository
	EventRepo           port.EventRepository
	LedgerService       LedgerService
	ConsumptionService  ConsumptionService
	CompensationService CompensationService
	InventoryService    InventoryService
	TxManager           port.TransactionManager
	Logger              Logger
}

// NewBatchService creates a new BatchService
func NewBatchService(deps BatchServiceDeps) BatchService {
	return &batchServiceImpl{
		workflowRepo:        deps.WorkflowRepo,
		batchRepo:           deps.BatchRepo,
		eventRepo:           deps.EventRepo,
		ledgerService:       deps.LedgerService,
		consumptionService:  deps.ConsumptionService,
		compensationService: deps.CompensationService,
		inventoryService:    deps.InventoryService,
		txManager:           deps.TxManager,
		logger:              deps.Logger,
	}
}

func batchKind(op workflow.OperationType) string {
	if op.IsVendor() {
		return entity.BatchKindVendorDispatch
	}
	return entity.BatchKindInHouse
}

func normalizeBatchFields(op workflow.OperationType, batchNumber, vendorRef string) (string, string, error) {
	batchNumber = utils.SanitizeString(batchNumber)
	vendorRef = utils.SanitizeString(vendorRef)
	if batchNumber == "" {
		batchNumber = uuid.NewString()
	}
	if op.IsVendor() && vendorRef == "" {
		return "", "", ledger.Invalid("vendor_ref", "is required for vendor operation %s", op)
	}
	if !op.IsVendor() && vendorRef != "" {
		return "", "", ledger.Invalid("vendor_ref", "must be empty for in-house operation %s", op)
	}
	return batchNumber, vendorRef, nil
}

// checkMaterialLines enforces the unit policy of the first operation and returns the total drawn
func checkMaterialLines(op workflow.OperationType, pieces int64, unitWeight *decimal.Decimal, lines []ConsumptionLine) (decimal.Decimal, error) {
	unit := RequiredUnitType(op)
	total := decimal.Zero

	for i, line := range lines {
		got := line.Amount.UnitType()
		if got == "" {
			return decimal.Zero, ledger.Invalid(fmt.Sprintf("materials[%d].amount", i),
				"exactly one of quantity and pieces must be positive")
		}
		if got != unit {
			return decimal.Zero, ledger.Invalid(fmt.Sprintf("materials[%d].amount", i),
				"%s consumes material by %s, got %s", op, unit, got)
		}
		total = total.Add(line.Amount.Value())
	}

	if unit == entity.UnitTypePieces {
		if !total.Equal(decimal.NewFromInt(pieces)) {
			return decimal.Zero, ledger.Invalid("materials",
				"%s pieces consumed but the batch has %d pieces", total.String(), pieces)
		}
		return total, nil
	}

	if unitWeight != nil {
		needed := unitWeight.Mul(decimal.NewFromInt(pieces))
		if needed.GreaterThan(total) {
			return decimal.Zero, ledger.Invalid("pieces",
				"%d pieces of %s each need %s, only %s consumed",
				pieces, unitWeight.String(), needed.String(), total.String())
		}
	}
	return total, nil
}

func (s *batchServiceImpl) CreateFirstOperationBatch(ctx context.Context, req FirstBatchRequest) (*BatchResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.StartedAt.IsZero() {
		req.StartedAt = time.Now()
	}
	startedAt := req.StartedAt.UTC()

	batchNumber, vendorRef, err := normalizeBatchFields(req.OperationType, req.BatchNumber, req.VendorRef)
	if err != nil {
		return nil, err
	}

	var result *BatchResult
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		instance, topology, err := loadWorkflow(txCtx, s.workflowRepo, req.WorkflowID)
		if err != nil {
			return err
		}
		ref, err := ledgerRef(req.WorkflowID, topology, req.OperationType)
		if err != nil {
			return err
		}
		if !topology.IsFirst(req.OperationType) {
			return ledger.Invalid("operation_type",
				"%s is not the first step of workflow %d and must consume from a parent batch",
				req.OperationType, req.WorkflowID)
		}

		quantity, err := checkMaterialLines(req.OperationType, req.Pieces, instance.UnitWeight, req.Materials)
		if err != nil {
			return err
		}

		batch := &entity.OperationBatch{
			WorkflowInstanceID: req.WorkflowID,
			OperationType:      req.OperationType,
			Kind:               batchKind(req.OperationType),
			BatchNumber:        batchNumber,
			VendorRef:          vendorRef,
			PiecesCount:        req.Pieces,
			Quantity:           quantity,
			CreatedAt:          startedAt,
		}
		if err := s.batchRepo.Create(txCtx, batch); err != nil {
			return err
		}

		materials := make([]*entity.MaterialConsumption, 0, len(req.Materials))
		for _, line := range req.Materials {
			consumption, err := s.inventoryService.Consume(txCtx, batch.ID, line)
			if err != nil {
				return err
			}
			materials = append(materials, consumption)
		}

		delta := req.Pieces
		if batch.IsVendorDispatch() {
			delta = 0
		}
		outcome, err := s.ledgerService.AppendOrIncrement(txCtx, ref, batch.ID, nil, delta, startedAt)
		if err != nil {
			return err
		}

		if err := appendEvent(txCtx, s.eventRepo, event.NewEvent(event.TypeBatchCreated, req.WorkflowID, batch.ID,
			map[string]interface{}{
				"operation":    req.OperationType.String(),
				"batch_number": batch.BatchNumber,
				"pieces":       batch.PiecesCount,
				"quantity":     quantity.String(),
			})); err != nil {
			return err
		}

		result = &BatchResult{Batch: batch, Outcome: outcome, Materials: materials}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create first operation batch",
			"error", err,
			"workflow_id", req.WorkflowID,
			"operation", req.OperationType.String())
		return nil, err
	}

	s.logger.Info("First operation batch created",
		"batch_id", result.Batch.ID,
		"batch_number", result.Batch.BatchNumber,
		"workflow_id", req.WorkflowID,
		"pieces", req.Pieces)
	return result, nil
}

func (s *batchServiceImpl) CreateSuccessorOperationBatch(ctx context.Context, req SuccessorBatchRequest) (*BatchResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.StartedAt.IsZero() {
		req.StartedAt = time.Now()
	}
	startedAt := req.StartedAt.UTC()

	batchNumber, vendorRef, err := normalizeBatchFields(req.OperationType, req.BatchNumber, req.VendorRef)
	if err != nil {
		return nil, err
	}

	if !req.OperationType.IsValid() {
		return nil, ledger.Invalid("operation_type", "unknown operation %q", req.OperationType)
	}

	var result *BatchResult
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		parent, err := s.batchRepo.GetByID(txCtx, req.ParentBatchID)
		if err != nil {
			return fmt.Errorf("get parent batch: %w", err)
		}
		if parent == nil || parent.IsDeleted() {
			return ledger.NotFound("parent batch", req.ParentBatchID)
		}

		parentID := parent.ID
		batch := &entity.OperationBatch{
			WorkflowInstanceID: req.WorkflowID,
			OperationType:      req.OperationType,
			Kind:               batchKind(req.OperationType),
			BatchNumber:        batchNumber,
			ParentBatchID:      &parentID,
			VendorRef:          vendorRef,
			PiecesCount:        req.PiecesRequested,
			Quantity:           decimal.Zero,
			CreatedAt:          startedAt,
		}
		if err := s.batchRepo.Create(txCtx, batch); err != nil {
			return err
		}

		consumed, err := s.consumptionService.ConsumeFromParent(txCtx, ConsumeRequest{
			WorkflowID:      req.WorkflowID,
			OperationType:   req.OperationType,
			ParentBatchID:   parent.ID,
			ChildBatchID:    batch.ID,
			PiecesRequested: req.PiecesRequested,
			CreditChild:     !batch.IsVendorDispatch(),
			At:              startedAt,
		})
		if err != nil {
			return err
		}

		if err := appendEvent(txCtx, s.eventRepo, event.NewEvent(event.TypeBatchConsumed, req.WorkflowID, batch.ID,
			map[string]interface{}{
				"operation":       req.OperationType.String(),
				"batch_number":    batch.BatchNumber,
				"parent_batch_id": parent.ID,
				"pieces":          req.PiecesRequested,
			})); err != nil {
			return err
		}

		result = &BatchResult{Batch: batch, Outcome: consumed.ChildOutcome, Consumption: consumed.Record}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create successor batch",
			"error", err,
			"workflow_id", req.WorkflowID,
			"parent_batch_id", req.ParentBatchID,
			"operation", req.OperationType.String())
		return nil, err
	}

	s.logger.Info("Successor batch created",
		"batch_id", result.Batch.ID,
		"parent_batch_id", req.ParentBatchID,
		"pieces", req.PiecesRequested)
	return result, nil
}

func (s *batchServiceImpl) CreditPartialDelivery(ctx context.Context, req DeliveryRequest) (*DeliveryResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now()
	}
	receivedAt := req.ReceivedAt.UTC()

	var result *DeliveryResult
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		batch, err := s.batchRepo.GetByID(txCtx, req.BatchID)
		if err != nil {
			return fmt.Errorf("get batch: %w", err)
		}
		if batch == nil || batch.IsDeleted() {
			return ledger.NotFound("batch", req.BatchID)
		}
		if !batch.IsVendorDispatch() {
			return ledger.Invalid("batch_id", "batch %d is an in-house batch and takes no deliveries", batch.ID)
		}
		if req.PiecesEligibleForNext > batch.OutstandingPieces() {
			return ledger.Invalid("pieces_eligible_for_next",
				"%d pieces exceed the %d still outstanding at the vendor", req.PiecesEligibleForNext, batch.OutstandingPieces())
		}

		_, topology, err := loadWorkflow(txCtx, s.workflowRepo, batch.WorkflowInstanceID)
		if err != nil {
			return err
		}
		ref, err := ledgerRef(batch.WorkflowInstanceID, topology, batch.OperationType)
		if err != nil {
			return err
		}

		outcome, err := s.ledgerService.AppendOrIncrement(txCtx, ref, batch.ID, batch.ParentBatchID, req.PiecesEligibleForNext, receivedAt)
		if err != nil {
			return err
		}

		receipt := &entity.DeliveryReceipt{
			BatchID:               batch.ID,
			PiecesEligibleForNext: req.PiecesEligibleForNext,
			ReceivedAt:            receivedAt,
		}
		if err := s.batchRepo.CreateReceipt(txCtx, receipt); err != nil {
			return err
		}

		batch.ReceivedPieces += req.PiecesEligibleForNext
		batch.FullyReceived = batch.ReceivedPieces == batch.PiecesCount
		if err := s.batchRepo.UpdateReceived(txCtx, batch.ID, batch.ReceivedPieces, batch.FullyReceived); err != nil {
			return err
		}

		if err := appendEvent(txCtx, s.eventRepo, event.NewEvent(event.TypeReceiptCredited, batch.WorkflowInstanceID, batch.ID,
			map[string]interface{}{
				"receipt_id":     receipt.ID,
				"pieces":         req.PiecesEligibleForNext,
				"fully_received": batch.FullyReceived,
			})); err != nil {
			return err
		}

		result = &DeliveryResult{Receipt: receipt, Batch: batch, Outcome: outcome}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to credit delivery", "error", err, "batch_id", req.BatchID, "pieces", req.PiecesEligibleForNext)
		return nil, err
	}

	s.logger.Info("Delivery credited",
		"batch_id", req.BatchID,
		"receipt_id", result.Receipt.ID,
		"received", result.Batch.ReceivedPieces,
		"fully_received", result.Batch.FullyReceived)
	return result, nil
}

func (s *batchServiceImpl) DeleteOperationBatch(ctx context.Context, batchID int64) error {
	return s.compensationService.DeleteOperationBatch(ctx, batchID)
}

func (s *batchServiceImpl) DeleteDeliveryReceipt(ctx context.Context, receiptID int64) error {
	return s.compensationService.DeleteDeliveryReceipt(ctx, receiptID)
}

func (s *batchServiceImpl) GetBatch(ctx context.Context, batchID int64) (*entity.OperationBatch, error) {
	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		s.logger.Error("Failed to get batch", "error", err, "batch_id", batchID)
		return nil, err
	}
	if batch == nil {
		return nil, ledger.NotFound("batch", batchID)
	}
	return batch, nil
}

func (s *batchServiceImpl) GetLedgerSnapshot(ctx context.Context, workflowID int64, op workflow.OperationType) (*entity.StepLedger, error) {
	_, topology, err := loadWorkflow(ctx, s.workflowRepo, workflowID)
	if err != nil {
		return nil, err
	}
	ref, err := ledgerRef(workflowID, topology, op)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.ledgerService.Snapshot(ctx, workflowID, op)
	if err != nil {
		return nil, err
	}
	snapshot.Position = ref.Position
	return snapshot, nil
}

func (s *batchServiceImpl) ListEvents(ctx context.Context, workflowID int64) ([]*event.Event, error) {
	if _, _, err := loadWorkflow(ctx, s.workflowRepo, workflowID); err != nil {
		return nil, err
	}
	events, err := s.eventRepo.ListByWorkflow(ctx, workflowID)
	if err != nil {
		s.logger.Error("Failed to list events", "error", err, "workflow_id", workflowID)
		return nil, err
	}
	if events == nil {
		events = []*event.Event{}
	}
	return events, nil
}
