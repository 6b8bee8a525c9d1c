package service

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/entity"
)

const timeLayout = "2006-01-02 15:04:05"

var ledgerColumns = []string{
	"Batch ID",
	"Batch Number",
	"Previous Batch ID",
	"Initial Pieces",
	"Available For Next",
	"Consumed",
	"Started At",
	"Updated At",
	"Deleted",
}

// ReportService renders read-only views of the ledgers of a workflow
type ReportService interface {
	// ExportLedgerWorkbook returns an xlsx workbook with one sheet per template step
	ExportLedgerWorkbook(ctx context.Context, workflowID int64) ([]byte, error)
}

type reportServiceImpl struct {
	workflowRepo  port.WorkflowRepository
	batchRepo     port.BatchRepository
	ledgerService LedgerService
	logger        Logger
}

// NewReportService creates a new ReportService
func NewReportService(
	workflowRepo port.WorkflowRepository,
	batchRepo port.BatchRepository,
	ledgerService LedgerService,
	logger Logger,
) ReportService {
	return &reportServiceImpl{
		workflowRepo:  workflowRepo,
		batchRepo:     batchRepo,
		ledgerService: ledgerService,
		logger:        logger,
	}
}

func (s *reportServiceImpl) ExportLedgerWorkbook(ctx context.Context, workflowID int64) ([]byte, error) {
	_, topology, err := loadWorkflow(ctx, s.workflowRepo, workflowID)
	if err != nil {
		return nil, err
	}

	batches, err := s.batchRepo.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	batchNumbers := make(map[int64]string, len(batches))
	for _, b := range batches {
		batchNumbers[b.ID] = b.BatchNumber
	}

	f := excelize.NewFile()
	defer f.Close()

	for _, step := range topology.Steps() {
		snapshot, err := s.ledgerService.Snapshot(ctx, workflowID, step.OperationType)
		if err != nil {
			return nil, err
		}

		sheet := fmt.Sprintf("%d-%s", step.Position+1, step.OperationType)
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
		if err := writeLedgerSheet(f, sheet, snapshot.Entries, batchNumbers); err != nil {
			return nil, err
		}
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		s.logger.Error("Failed to write ledger workbook", "error", err, "workflow_id", workflowID)
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	s.logger.Info("Ledger workbook exported", "workflow_id", workflowID, "steps", topology.Len(), "bytes", buf.Len())
	return buf.Bytes(), nil
}

func writeLedgerSheet(f *excelize.File, sheet string, entries []*entity.BatchOutcome, batchNumbers map[int64]string) error {
	for col, title := range ledgerColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return fmt.Errorf("failed to set header %s: %w", title, err)
		}
	}

	for i, e := range entries {
		row := i + 2

		var previous interface{}
		if e.PreviousOperationBatchID != nil {
			previous = *e.PreviousOperationBatchID
		}
		updatedAt := ""
		if !e.UpdatedAt.IsZero() {
			updatedAt = e.UpdatedAt.Format(timeLayout)
		}

		values := []interface{}{
			e.BatchID,
			batchNumbers[e.BatchID],
			previous,
			e.InitialPiecesCount,
			e.PiecesAvailableForNext,
			e.Consumed(),
			e.StartedAt.Format(timeLayout),
			updatedAt,
			e.Deleted,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("failed to set %s at row %d: %w", ledgerColumns[col], row, err)
			}
		}
	}
	return nil
}
