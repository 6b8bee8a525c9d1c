package entity

import (
	"time"

	"github.com/garyjia/pieceflow/internal/domain/workflow"
)

// LedgerRef addresses the step ledger of one operation inside a workflow instance
type LedgerRef struct {
	WorkflowInstanceID int64                  `json:"workflow_instance_id"`
	OperationType      workflow.OperationType `json:"operation_type"`
	Position           int                    `json:"position"`
}

// StepLedger holds the batch outcomes recorded for one operation of a workflow instance
type StepLedger struct {
	ID                 int64                  `json:"id"`
	TenantID           string                 `json:"tenant_id"`
	WorkflowInstanceID int64                  `json:"workflow_instance_id"`
	OperationType      workflow.OperationType `json:"operation_type"`
	Position           int                    `json:"position"`
	CreatedAt          time.Time              `json:"created_at"`
	Entries            []*BatchOutcome        `json:"entries"`
}

// Ref returns the address of the ledger
func (l *StepLedger) Ref() LedgerRef {
	return LedgerRef{
		WorkflowInstanceID: l.WorkflowInstanceID,
		OperationType:      l.OperationType,
		Position:           l.Position,
	}
}

// BatchOutcome tracks how many pieces a batch produced and how many are
// still free for the next operation.
// 0 <= PiecesAvailableForNext <= InitialPiecesCount always holds.
type BatchOutcome struct {
	ID                       int64                  `json:"id"`
	TenantID                 string                 `json:"tenant_id"`
	LedgerID                 int64                  `json:"ledger_id"`
	WorkflowInstanceID       int64                  `json:"workflow_instance_id"`
	OperationType            workflow.OperationType `json:"operation_type"`
	BatchID                  int64                  `json:"batch_id"`
	PreviousOperationBatchID *int64                 `json:"previous_operation_batch_id,omitempty"`
	InitialPiecesCount       int64                  `json:"initial_pieces_count"`
	PiecesAvailableForNext   int64                  `json:"pieces_available_for_next"`
	StartedAt                time.Time              `json:"started_at"`
	UpdatedAt                time.Time              `json:"updated_at"`
	Deleted                  bool                   `json:"deleted"`
	DeletedAt                *time.Time             `json:"deleted_at,omitempty"`
}

// Consumed returns the number of pieces already taken by downstream operations
func (o *BatchOutcome) Consumed() int64 {
	return o.InitialPiecesCount - o.PiecesAvailableForNext
}
