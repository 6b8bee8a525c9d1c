package ledger

import (
	"time"

	"github.com/garyjia/pieceflow/internal/domain/entity"
)

// Open creates a new outcome for batchID credited with delta pieces.
// A zero delta opens the entry for a vendor dispatch that has not returned anything yet.
func Open(batchID int64, previousBatchID *int64, delta int64, at time.Time) (*entity.BatchOutcome, error) {
	if delta < 0 {
		return nil, Invalid("delta_pieces", "must not be negative, got %d", delta)
	}
	return &entity.BatchOutcome{
		BatchID:                  batchID,
		PreviousOperationBatchID: previousBatchID,
		InitialPiecesCount:       delta,
		PiecesAvailableForNext:   delta,
		StartedAt:                at,
		UpdatedAt:                at,
	}, nil
}

// Increment credits delta more pieces to both counters of an existing outcome
func Increment(o *entity.BatchOutcome, delta int64, at time.Time) error {
	if delta < 0 {
		return Invalid("delta_pieces", "must not be negative, got %d", delta)
	}
	if o.Deleted {
		return Invalid("batch_id", "ledger entry for batch %d is deleted", o.BatchID)
	}
	o.InitialPiecesCount += delta
	o.PiecesAvailableForNext += delta
	o.UpdatedAt = at
	return nil
}

// Debit takes amount pieces from the available pool
func Debit(o *entity.BatchOutcome, amount int64, at time.Time) error {
	if amount <= 0 {
		return Invalid("pieces_requested", "must be positive, got %d", amount)
	}
	if o.Deleted {
		return NotFound("ledger entry for batch", o.BatchID)
	}
	if o.PiecesAvailableForNext < amount {
		return &InsufficientPiecesError{
			BatchID:   o.BatchID,
			Available: o.PiecesAvailableForNext,
			Requested: amount,
		}
	}
	o.PiecesAvailableForNext -= amount
	o.UpdatedAt = at
	return nil
}

// CreditBack returns amount previously debited pieces to the available pool
func CreditBack(o *entity.BatchOutcome, amount int64, at time.Time) error {
	if amount < 0 {
		return Invalid("amount", "must not be negative, got %d", amount)
	}
	if o.Deleted {
		return Inconsistent(o.BatchID, "credit back", "ledger entry is deleted")
	}
	if o.PiecesAvailableForNext+amount > o.InitialPiecesCount {
		return Inconsistent(o.BatchID, "credit back",
			"available %d + %d would exceed initial %d", o.PiecesAvailableForNext, amount, o.InitialPiecesCount)
	}
	o.PiecesAvailableForNext += amount
	o.UpdatedAt = at
	return nil
}

// Revert removes amount pieces from both counters of an outcome.
// The entry is marked deleted once both counters are zero, unless
// historyRemains says other live records still credit it.
func Revert(o *entity.BatchOutcome, amount int64, historyRemains bool, at time.Time) error {
	if amount < 0 {
		return Invalid("amount", "must not be negative, got %d", amount)
	}
	if o.Deleted {
		return Inconsistent(o.BatchID, "revert", "ledger entry is already deleted")
	}
	if o.InitialPiecesCount < amount {
		return Inconsistent(o.BatchID, "revert",
			"initial %d cannot drop by %d", o.InitialPiecesCount, amount)
	}
	if o.PiecesAvailableForNext < amount {
		return Inconsistent(o.BatchID, "revert",
			"only %d of %d pieces are still available, downstream batches hold the rest",
			o.PiecesAvailableForNext, amount)
	}
	o.InitialPiecesCount -= amount
	o.PiecesAvailableForNext -= amount
	o.UpdatedAt = at
	if o.InitialPiecesCount == 0 && o.PiecesAvailableForNext == 0 && !historyRemains {
		o.Deleted = true
		deletedAt := at
		o.DeletedAt = &deletedAt
	}
	return nil
}

// CheckConservation verifies the counter bounds of an outcome
func CheckConservation(o *entity.BatchOutcome) error {
	if o.PiecesAvailableForNext < 0 {
		return Inconsistent(o.BatchID, "check", "available %d is negative", o.PiecesAvailableForNext)
	}
	if o.PiecesAvailableForNext > o.InitialPiecesCount {
		return Inconsistent(o.BatchID, "check",
			"available %d exceeds initial %d", o.PiecesAvailableForNext, o.InitialPiecesCount)
	}
	return nil
}
