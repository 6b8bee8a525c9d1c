package port

import (
	"context"
	"time"

	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/event"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
)

// Every repository scopes its reads and writes to the tenant carried by ctx.
// Lookups return (nil, nil) when the row does not exist.

// WorkflowRepository defines persistence operations for templates and instances
type WorkflowRepository interface {
	CreateTemplate(ctx context.Context, tpl *entity.WorkflowTemplate) error
	GetTemplate(ctx context.Context, id int64) (*entity.WorkflowTemplate, error)
	ReplaceTemplateSteps(ctx context.Context, templateID int64, steps []entity.WorkflowStepDef) error
	CountInstancesByTemplate(ctx context.Context, templateID int64) (int, error)
	CreateInstance(ctx context.Context, instance *entity.WorkflowInstance) error
	GetInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
}

// LedgerRepository defines persistence operations for step ledgers and batch outcomes
type LedgerRepository interface {
	GetLedger(ctx context.Context, workflowInstanceID int64, op workflow.OperationType) (*entity.StepLedger, error)
	CreateLedger(ctx context.Context, ledger *entity.StepLedger) error

	// GetEntryByBatch returns the outcome recorded for a batch, deleted or not
	GetEntryByBatch(ctx context.Context, batchID int64) (*entity.BatchOutcome, error)
	CreateEntry(ctx context.Context, entry *entity.BatchOutcome) error
	UpdateEntry(ctx context.Context, entry *entity.BatchOutcome) error

	// DebitEntry atomically subtracts amount from the available pool.
	// It returns false without changing anything when fewer than amount pieces are available.
	DebitEntry(ctx context.Context, batchID, amount int64, at time.Time) (bool, error)

	ListEntries(ctx context.Context, ledgerID int64) ([]*entity.BatchOutcome, error)

	// ListLiveSuccessors returns live outcomes whose previous operation batch is parentBatchID
	ListLiveSuccessors(ctx context.Context, parentBatchID int64) ([]*entity.BatchOutcome, error)
}

// BatchRepository defines persistence operations for operation batches,
// their consumption records and their delivery receipts
type BatchRepository interface {
	Create(ctx context.Context, batch *entity.OperationBatch) error
	GetByID(ctx context.Context, id int64) (*entity.OperationBatch, error)
	ListByWorkflow(ctx context.Context, workflowInstanceID int64) ([]*entity.OperationBatch, error)
	UpdateReceived(ctx context.Context, id, receivedPieces int64, fullyReceived bool) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error

	CreateConsumption(ctx context.Context, record *entity.ConsumptionRecord) error
	GetLiveConsumptionByChild(ctx context.Context, childBatchID int64) (*entity.ConsumptionRecord, error)
	ListLiveConsumptionsByParent(ctx context.Context, parentBatchID int64) ([]*entity.ConsumptionRecord, error)
	CloseConsumption(ctx context.Context, id int64, at time.Time) error

	CreateReceipt(ctx context.Context, receipt *entity.DeliveryReceipt) error
	GetReceipt(ctx context.Context, id int64) (*entity.DeliveryReceipt, error)

	// ListLiveReceipts returns live receipts of a batch, newest first
	ListLiveReceipts(ctx context.Context, batchID int64) ([]*entity.DeliveryReceipt, error)
	SoftDeleteReceipt(ctx context.Context, id int64, at time.Time) error
}

// MaterialRepository defines persistence operations for raw material lots,
// vendor inventory accounts and material consumption lines
type MaterialRepository interface {
	CreateLot(ctx context.Context, lot *entity.RawMaterialLot) error
	GetLot(ctx context.Context, id int64) (*entity.RawMaterialLot, error)
	UpdateLotAvailability(ctx context.Context, lot *entity.RawMaterialLot) error

	CreateVendorAccount(ctx context.Context, account *entity.VendorInventoryAccount) error
	GetVendorAccount(ctx context.Context, id int64) (*entity.VendorInventoryAccount, error)
	FindVendorAccount(ctx context.Context, vendorRef string, lotID int64) (*entity.VendorInventoryAccount, error)
	UpdateVendorAccountAvailability(ctx context.Context, account *entity.VendorInventoryAccount) error

	CreateConsumption(ctx context.Context, line *entity.MaterialConsumption) error
	ListLiveConsumptionsByBatch(ctx context.Context, batchID int64) ([]*entity.MaterialConsumption, error)
	SoftDeleteConsumptionsByBatch(ctx context.Context, batchID int64, at time.Time) error
}

// EventRepository defines persistence operations for the ledger audit trail
type EventRepository interface {
	Append(ctx context.Context, evt *event.Event) error
	ListByWorkflow(ctx context.Context, workflowInstanceID int64) ([]*event.Event, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
