package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/event"
	"github.com/garyjia/pieceflow/internal/domain/ledger"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
)

// LedgerService maintains the per-step piece counters of batch outcomes.
// Each operation runs in its own transaction, or joins the one carried by ctx.
type LedgerService interface {
	// AppendOrIncrement credits delta pieces to the entry of batchID, creating the
	// step ledger and the entry on first use
	AppendOrIncrement(ctx context.Context, ref entity.LedgerRef, batchID int64, previousBatchID *int64, delta int64, at time.Time) (*entity.BatchOutcome, error)

	// Debit takes amount pieces from the available pool of batchID
	Debit(ctx context.Context, batchID, amount int64) error

	// CreditBack returns previously debited pieces to the available pool of batchID
	CreditBack(ctx context.Context, batchID, amount int64) error

	// MarkDeleted reverses amount pieces of production from the entry of batchID
	MarkDeleted(ctx context.Context, batchID, amount int64, historyRemains bool) error

	// Snapshot returns the ledger of an operation with all its entries
	Snapshot(ctx context.Context, workflowID int64, op workflow.OperationType) (*entity.StepLedger, error)
}

type ledgerServiceImpl struct {
	ledgerRepo port.LedgerRepository
	eventRepo  port.EventRepository
	txManager  port.TransactionManager
	logger     Logger
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(
	ledgerRepo port.LedgerRepository,
	eventRepo port.EventRepository,
	txManager port.TransactionManager,
	logger Logger,
) LedgerService {
	return &ledgerServiceImpl{
		ledgerRepo: ledgerRepo,
		eventRepo:  eventRepo,
		txManager:  txManager,
		logger:     logger,
	}
}

// record writes an audit event describing a mutation of entry
func (s *ledgerServiceImpl) record(ctx context.Context, eventType event.Type, entry *entity.BatchOutcome, amount int64) error {
	return appendEvent(ctx, s.eventRepo, event.NewEvent(eventType, entry.WorkflowInstanceID, entry.BatchID,
		map[string]interface{}{
			"operation": entry.OperationType.String(),
			"amount":    amount,
			"initial":   entry.InitialPiecesCount,
			"available": entry.PiecesAvailableForNext,
		}))
}

func (s *ledgerServiceImpl) AppendOrIncrement(ctx context.Context, ref entity.LedgerRef, batchID int64, previousBatchID *int64, delta int64, at time.Time) (*entity.BatchOutcome, error) {
	if delta < 0 {
		return nil, ledger.Invalid("delta_pieces", "must not be negative, got %d", delta)
	}
	at = at.UTC()

	var outcome *entity.BatchOutcome
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		stepLedger, err := s.ledgerRepo.GetLedger(txCtx, ref.WorkflowInstanceID, ref.OperationType)
		if err != nil {
			return fmt.Errorf("get ledger: %w", err)
		}
		if stepLedger == nil {
			stepLedger = &entity.StepLedger{
				WorkflowInstanceID: ref.WorkflowInstanceID,
				OperationType:      ref.OperationType,
				Position:           ref.Position,
			}
			if err := s.ledgerRepo.CreateLedger(txCtx, stepLedger); err != nil {
				return fmt.Errorf("create ledger: %w", err)
			}
		}

		entry, err := s.ledgerRepo.GetEntryByBatch(txCtx, batchID)
		if err != nil {
			return fmt.Errorf("get ledger entry: %w", err)
		}

		if entry == nil {
			entry, err = ledger.Open(batchID, previousBatchID, delta, at)
			if err != nil {
				return err
			}
			entry.LedgerID = stepLedger.ID
			entry.WorkflowInstanceID = stepLedger.WorkflowInstanceID
			entry.OperationType = stepLedger.OperationType
			if err := s.ledgerRepo.CreateEntry(txCtx, entry); err != nil {
				return fmt.Errorf("create ledger entry: %w", err)
			}
			outcome = entry
			return s.record(txCtx, event.TypeLedgerCredited, entry, delta)
		}

		if entry.LedgerID != stepLedger.ID {
			return ledger.Inconsistent(batchID, "credit",
				"entry belongs to ledger %d, not %s ledger %d", entry.LedgerID, ref.OperationType, stepLedger.ID)
		}
		if err := ledger.Increment(entry, delta, at); err != nil {
			return err
		}
		if err := s.ledgerRepo.UpdateEntry(txCtx, entry); err != nil {
			return fmt.Errorf("update ledger entry: %w", err)
		}
		outcome = entry
		return s.record(txCtx, event.TypeLedgerCredited, entry, delta)
	})
	if err != nil {
		s.logger.Error("Failed to credit ledger", "error", err, "batch_id", batchID, "delta", delta)
		return nil, err
	}

	s.logger.Info("Ledger credited",
		"batch_id", batchID,
		"operation", ref.OperationType.String(),
		"delta", delta,
		"available", outcome.PiecesAvailableForNext)
	return outcome, nil
}

func (s *ledgerServiceImpl) Debit(ctx context.Context, batchID, amount int64) error {
	if amount <= 0 {
		return ledger.Invalid("pieces_requested", "must be positive, got %d", amount)
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := s.ledgerRepo.DebitEntry(txCtx, batchID, amount, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("debit ledger entry: %w", err)
		}

		entry, err := s.ledgerRepo.GetEntryByBatch(txCtx, batchID)
		if err != nil {
			return fmt.Errorf("get ledger entry: %w", err)
		}
		if ok {
			return s.record(txCtx, event.TypeLedgerDebited, entry, amount)
		}

		// The conditional update matched nothing; report why.
		if entry == nil || entry.Deleted {
			return ledger.NotFound("ledger entry for batch", batchID)
		}
		return &ledger.InsufficientPiecesError{
			BatchID:   batchID,
			Available: entry.PiecesAvailableForNext,
			Requested: amount,
		}
	})
	if err != nil {
		if !errors.Is(err, ledger.ErrInsufficientPieces) {
			s.logger.Error("Failed to debit ledger", "error", err, "batch_id", batchID, "amount", amount)
		}
		return err
	}

	s.logger.Info("Ledger debited", "batch_id", batchID, "amount", amount)
	return nil
}

func (s *ledgerServiceImpl) CreditBack(ctx context.Context, batchID, amount int64) error {
	err := s.mutate(ctx, batchID, event.TypeLedgerCreditedBack, amount, func(entry *entity.BatchOutcome, at time.Time) error {
		return ledger.CreditBack(entry, amount, at)
	})
	if err != nil {
		s.logger.Error("Failed to credit back ledger", "error", err, "batch_id", batchID, "amount", amount)
		return err
	}
	s.logger.Info("Ledger credited back", "batch_id", batchID, "amount", amount)
	return nil
}

func (s *ledgerServiceImpl) MarkDeleted(ctx context.Context, batchID, amount int64, historyRemains bool) error {
	err := s.mutate(ctx, batchID, event.TypeLedgerReverted, amount, func(entry *entity.BatchOutcome, at time.Time) error {
		return ledger.Revert(entry, amount, historyRemains, at)
	})
	if err != nil {
		s.logger.Error("Failed to revert ledger entry", "error", err, "batch_id", batchID, "amount", amount)
		return err
	}
	s.logger.Info("Ledger entry reverted", "batch_id", batchID, "amount", amount, "history_remains", historyRemains)
	return nil
}

// mutate loads the entry of batchID, applies fn, persists the result and records it as eventType
func (s *ledgerServiceImpl) mutate(ctx context.Context, batchID int64, eventType event.Type, amount int64, fn func(*entity.BatchOutcome, time.Time) error) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entry, err := s.ledgerRepo.GetEntryByBatch(txCtx, batchID)
		if err != nil {
			return fmt.Errorf("get ledger entry: %w", err)
		}
		if entry == nil {
			return ledger.NotFound("ledger entry for batch", batchID)
		}
		if err := fn(entry, time.Now().UTC()); err != nil {
			return err
		}
		if err := ledger.CheckConservation(entry); err != nil {
			return err
		}
		if err := s.ledgerRepo.UpdateEntry(txCtx, entry); err != nil {
			return fmt.Errorf("update ledger entry: %w", err)
		}
		return s.record(txCtx, eventType, entry, amount)
	})
}

func (s *ledgerServiceImpl) Snapshot(ctx context.Context, workflowID int64, op workflow.OperationType) (*entity.StepLedger, error) {
	stepLedger, err := s.ledgerRepo.GetLedger(ctx, workflowID, op)
	if err != nil {
		s.logger.Error("Failed to get ledger", "error", err, "workflow_id", workflowID, "operation", op.String())
		return nil, err
	}
	if stepLedger == nil {
		return &entity.StepLedger{
			WorkflowInstanceID: workflowID,
			OperationType:      op,
			Entries:            []*entity.BatchOutcome{},
		}, nil
	}

	entries, err := s.ledgerRepo.ListEntries(ctx, stepLedger.ID)
	if err != nil {
		s.logger.Error("Failed to list ledger entries", "error", err, "ledger_id", stepLedger.ID)
		return nil, err
	}
	if entries == nil {
		entries = []*entity.BatchOutcome{}
	}
	stepLedger.Entries = entries
	return stepLedger, nil
}
