package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/event"
	"github.com/garyjia/pieceflow/internal/domain/ledger"
)

// CompensationService reverses batches and delivery receipts while keeping the ledger balanced
type CompensationService interface {
	DeleteOperationBatch(ctx context.Context, batchID int64) error
	DeleteDeliveryReceipt(ctx context.Context, receiptID int64) error
}

type compensationServiceImpl struct {
	workflowRepo     port.WorkflowRepository
	batchRepo        port.BatchRepository
	ledgerRepo       port.LedgerRepository
	materialRepo     port.MaterialRepository
	eventRepo        port.EventRepository
	ledgerService    LedgerService
	inventoryService InventoryService
	txManager        port.TransactionManager
	logger           Logger
}

// NewCompensationService creates a new CompensationService
func NewCompensationService(
	workflowRepo port.WorkflowRepository,
	batchRepo port.BatchRepository,
	ledgerRepo port.LedgerRepository,
	materialRepo port.MaterialRepository,
	eventRepo port.EventRepository,
	ledgerService LedgerService,
	inventoryService InventoryService,
	txManager port.TransactionManager,
	logger Logger,
) CompensationService {
	return &compensationServiceImpl{
		workflowRepo:     workflowRepo,
		batchRepo:        batchRepo,
		ledgerRepo:       ledgerRepo,
		materialRepo:     materialRepo,
		eventRepo:        eventRepo,
		ledgerService:    ledgerService,
		inventoryService: inventoryService,
		txManager:        txManager,
		logger:           logger,
	}
}

// DeleteOperationBatch soft-deletes a batch that nothing downstream depends on.
// Pieces it drew from its parent are credited back; material it drew is restored.
func (s *compensationServiceImpl) DeleteOperationBatch(ctx context.Context, batchID int64) error {
	deletedAt := time.Now().UTC()

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		batch, err := s.batchRepo.GetByID(txCtx, batchID)
		if err != nil {
			return fmt.Errorf("get batch: %w", err)
		}
		if batch == nil || batch.IsDeleted() {
			return ledger.NotFound("batch", batchID)
		}

		if err := s.checkNoDependents(txCtx, batch); err != nil {
			return err
		}

		_, topology, err := loadWorkflow(txCtx, s.workflowRepo, batch.WorkflowInstanceID)
		if err != nil {
			return err
		}
		isFirst := topology.IsFirst(batch.OperationType)

		if !isFirst {
			if err := s.releaseParent(txCtx, batch, deletedAt); err != nil {
				return err
			}
		}

		entry, err := s.liveEntry(txCtx, batch.ID)
		if err != nil {
			return err
		}
		if err := s.ledgerService.MarkDeleted(txCtx, batch.ID, entry.InitialPiecesCount, false); err != nil {
			return err
		}

		if isFirst {
			if err := s.restoreMaterial(txCtx, batch.ID, deletedAt); err != nil {
				return err
			}
		}

		if err := s.batchRepo.SoftDelete(txCtx, batch.ID, deletedAt); err != nil {
			return fmt.Errorf("delete batch: %w", err)
		}

		return appendEvent(txCtx, s.eventRepo, event.NewEvent(event.TypeBatchDeleted, batch.WorkflowInstanceID, batch.ID,
			map[string]interface{}{
				"operation":    batch.OperationType.String(),
				"batch_number": batch.BatchNumber,
				"pieces":       entry.InitialPiecesCount,
			}))
	})
	if err != nil {
		s.logger.Error("Failed to delete batch", "error", err, "batch_id", batchID)
		return err
	}

	s.logger.Info("Batch deleted", "batch_id", batchID)
	return nil
}

// checkNoDependents rejects deletion while receipts or downstream batches still reference the batch
func (s *compensationServiceImpl) checkNoDependents(ctx context.Context, batch *entity.OperationBatch) error {
	receipts, err := s.batchRepo.ListLiveReceipts(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("list receipts: %w", err)
	}
	if len(receipts) > 0 {
		ids := make([]int64, len(receipts))
		for i, r := range receipts {
			ids[i] = r.ID
		}
		return &ledger.HasDependentsError{BatchID: batch.ID, ReceiptIDs: ids}
	}

	records, err := s.batchRepo.ListLiveConsumptionsByParent(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("list consumption records: %w", err)
	}
	successors, err := s.ledgerRepo.ListLiveSuccessors(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("list successor entries: %w", err)
	}

	seen := make(map[int64]bool)
	var dependents []int64
	for _, r := range records {
		if !seen[r.ChildBatchID] {
			seen[r.ChildBatchID] = true
			dependents = append(dependents, r.ChildBatchID)
		}
	}
	for _, o := range successors {
		if !seen[o.BatchID] {
			seen[o.BatchID] = true
			dependents = append(dependents, o.BatchID)
		}
	}
	if len(dependents) > 0 {
		return &ledger.HasDependentsError{BatchID: batch.ID, DependentBatchIDs: dependents}
	}
	return nil
}

// releaseParent credits the parent batch back with the pieces this batch drew and closes the link
func (s *compensationServiceImpl) releaseParent(ctx context.Context, batch *entity.OperationBatch, at time.Time) error {
	record, err := s.batchRepo.GetLiveConsumptionByChild(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("get consumption record: %w", err)
	}
	if record == nil {
		return ledger.Inconsistent(batch.ID, "delete batch", "no live consumption record links it to a parent")
	}

	if err := s.ledgerService.CreditBack(ctx, record.ParentBatchID, record.Pieces); err != nil {
		return err
	}
	if err := s.batchRepo.CloseConsumption(ctx, record.ID, at); err != nil {
		return fmt.Errorf("close consumption record: %w", err)
	}
	return nil
}

func (s *compensationServiceImpl) liveEntry(ctx context.Context, batchID int64) (*entity.BatchOutcome, error) {
	entry, err := s.ledgerRepo.GetEntryByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	if entry == nil || entry.Deleted {
		return nil, ledger.Inconsistent(batchID, "delete batch", "batch has no live ledger entry")
	}
	return entry, nil
}

// restoreMaterial returns every consumption line of a first-operation batch to its source
func (s *compensationServiceImpl) restoreMaterial(ctx context.Context, batchID int64, at time.Time) error {
	lines, err := s.materialRepo.ListLiveConsumptionsByBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("list material consumptions: %w", err)
	}
	for _, line := range lines {
		if err := s.inventoryService.Restore(ctx, line); err != nil {
			return err
		}
	}
	if err := s.materialRepo.SoftDeleteConsumptionsByBatch(ctx, batchID, at); err != nil {
		return fmt.Errorf("delete material consumptions: %w", err)
	}
	return nil
}

// DeleteDeliveryReceipt reverses the newest live receipt of a vendor batch
func (s *compensationServiceImpl) DeleteDeliveryReceipt(ctx context.Context, receiptID int64) error {
	deletedAt := time.Now().UTC()

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		receipt, err := s.batchRepo.GetReceipt(txCtx, receiptID)
		if err != nil {
			return fmt.Errorf("get receipt: %w", err)
		}
		if receipt == nil || receipt.DeletedAt != nil {
			return ledger.NotFound("receipt", receiptID)
		}

		live, err := s.batchRepo.ListLiveReceipts(txCtx, receipt.BatchID)
		if err != nil {
			return fmt.Errorf("list receipts: %w", err)
		}
		if len(live) > 0 && live[0].ID != receipt.ID {
			return &ledger.OutOfOrderDeletionError{ReceiptID: receipt.ID, NewerReceiptID: live[0].ID}
		}

		batch, err := s.batchRepo.GetByID(txCtx, receipt.BatchID)
		if err != nil {
			return fmt.Errorf("get batch: %w", err)
		}
		if batch == nil || batch.IsDeleted() {
			return ledger.Inconsistent(receipt.BatchID, "delete receipt", "receipt %d belongs to a missing batch", receipt.ID)
		}

		if err := s.ledgerService.MarkDeleted(txCtx, batch.ID, receipt.PiecesEligibleForNext, true); err != nil {
			return err
		}

		received := batch.ReceivedPieces - receipt.PiecesEligibleForNext
		if received < 0 {
			return ledger.Inconsistent(batch.ID, "delete receipt",
				"received pieces %d cannot drop by %d", batch.ReceivedPieces, receipt.PiecesEligibleForNext)
		}
		if err := s.batchRepo.UpdateReceived(txCtx, batch.ID, received, received == batch.PiecesCount); err != nil {
			return fmt.Errorf("update received pieces: %w", err)
		}

		if err := s.batchRepo.SoftDeleteReceipt(txCtx, receipt.ID, deletedAt); err != nil {
			return fmt.Errorf("delete receipt: %w", err)
		}

		return appendEvent(txCtx, s.eventRepo, event.NewEvent(event.TypeReceiptDeleted, batch.WorkflowInstanceID, batch.ID,
			map[string]interface{}{
				"receipt_id": receipt.ID,
				"pieces":     receipt.PiecesEligibleForNext,
			}))
	})
	if err != nil {
		s.logger.Error("Failed to delete receipt", "error", err, "receipt_id", receiptID)
		return err
	}

	s.logger.Info("Receipt deleted", "receipt_id", receiptID)
	return nil
}
