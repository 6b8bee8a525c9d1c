package event

// Type identifies the type of ledger event
type Type string

const (
	TypeLedgerCredited     Type = "ledger.credited"
	TypeLedgerDebited      Type = "ledger.debited"
	TypeLedgerCreditedBack Type = "ledger.credited_back"
	TypeLedgerReverted     Type = "ledger.reverted"

	TypeBatchCreated     Type = "batch.created"
	TypeBatchConsumed    Type = "batch.consumed"
	TypeBatchDeleted     Type = "batch.deleted"
	TypeReceiptCredited  Type = "receipt.credited"
	TypeReceiptDeleted   Type = "receipt.deleted"
	TypeMaterialConsumed Type = "material.consumed"
	TypeMaterialRestored Type = "material.restored"
	TypeMaterialTransfer Type = "material.transferred"
	TypeMaterialReturned Type = "material.returned"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeLedgerCredited,
		TypeLedgerDebited,
		TypeLedgerCreditedBack,
		TypeLedgerReverted,
		TypeBatchCreated,
		TypeBatchConsumed,
		TypeBatchDeleted,
		TypeReceiptCredited,
		TypeReceiptDeleted,
		TypeMaterialConsumed,
		TypeMaterialRestored,
		TypeMaterialTransfer,
		TypeMaterialReturned:
		return true
	default:
		return false
	}
}
