package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/pieceflow/internal/domain/workflow"
)

// OperationBatch is a group of pieces processed together at one operation
type OperationBatch struct {
	ID                 int64                  `json:"id"`
	TenantID           string                 `json:"tenant_id"`
	WorkflowInstanceID int64                  `json:"workflow_instance_id"`
	OperationType      workflow.OperationType `json:"operation_type"`
	Kind               string                 `json:"kind"`
	BatchNumber        string                 `json:"batch_number"`
	ParentBatchID      *int64                 `json:"parent_batch_id,omitempty"`
	VendorRef          string                 `json:"vendor_ref,omitempty"`
	PiecesCount        int64                  `json:"pieces_count"`
	Quantity           decimal.Decimal        `json:"quantity"`
	ReceivedPieces     int64                  `json:"received_pieces"`
	FullyReceived      bool                   `json:"fully_received"`
	CreatedAt          time.Time              `json:"created_at"`
	DeletedAt          *time.Time             `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the batch has been soft-deleted
func (b *OperationBatch) IsDeleted() bool {
	return b.DeletedAt != nil
}

// IsVendorDispatch reports whether the batch was sent to an outside vendor
func (b *OperationBatch) IsVendorDispatch() bool {
	return b.Kind == BatchKindVendorDispatch
}

// OutstandingPieces returns how many dispatched pieces the vendor has not yet returned
func (b *OperationBatch) OutstandingPieces() int64 {
	return b.PiecesCount - b.ReceivedPieces
}

// ConsumptionRecord links a child batch to the parent batch it drew pieces from
type ConsumptionRecord struct {
	ID                 int64      `json:"id"`
	TenantID           string     `json:"tenant_id"`
	WorkflowInstanceID int64      `json:"workflow_instance_id"`
	ParentBatchID      int64      `json:"parent_batch_id"`
	ChildBatchID       int64      `json:"child_batch_id"`
	Pieces             int64      `json:"pieces"`
	CreatedAt          time.Time  `json:"created_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

// DeliveryReceipt records a partial return of pieces from a vendor
type DeliveryReceipt struct {
	ID                    int64      `json:"id"`
	TenantID              string     `json:"tenant_id"`
	BatchID               int64      `json:"batch_id"`
	PiecesEligibleForNext int64      `json:"pieces_eligible_for_next"`
	ReceivedAt            time.Time  `json:"received_at"`
	CreatedAt             time.Time  `json:"created_at"`
	DeletedAt             *time.Time `json:"deleted_at,omitempty"`
}
