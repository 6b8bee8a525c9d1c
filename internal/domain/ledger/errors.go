package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation is returned when input is malformed or references the wrong step
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entity does not exist or is deleted
	ErrNotFound = errors.New("not found")

	// ErrInsufficientPieces is returned when a debit exceeds the available pieces
	ErrInsufficientPieces = errors.New("insufficient pieces")

	// ErrInsufficientMaterial is returned when a lot or vendor account cannot cover a consumption
	ErrInsufficientMaterial = errors.New("insufficient material")

	// ErrHasDependents is returned when a batch still has live downstream records
	ErrHasDependents = errors.New("batch has dependents")

	// ErrOutOfOrderDeletion is returned when a receipt is deleted before a newer one
	ErrOutOfOrderDeletion = errors.New("out of order deletion")

	// ErrConsistencyViolation is returned when a mutation would break ledger invariants
	ErrConsistencyViolation = errors.New("ledger consistency violation")
)

// ValidationError describes an invalid input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError for field
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError identifies a missing entity
type NotFoundError struct {
	Resource string
	ID       interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v %s", e.Resource, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError
func NotFound(resource string, id interface{}) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// InsufficientPiecesError reports a debit that the ledger entry cannot cover
type InsufficientPiecesError struct {
	BatchID   int64
	Available int64
	Requested int64
}

func (e *InsufficientPiecesError) Error() string {
	return fmt.Sprintf("%s: batch %d has %d available, %d requested",
		ErrInsufficientPieces, e.BatchID, e.Available, e.Requested)
}

func (e *InsufficientPiecesError) Unwrap() error { return ErrInsufficientPieces }

// InsufficientMaterialError reports a consumption that a material source cannot cover
type InsufficientMaterialError struct {
	SourceType string
	SourceID   int64
	UnitType   string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientMaterialError) Error() string {
	return fmt.Sprintf("%s: %s %d has %s %s available, %s requested",
		ErrInsufficientMaterial, strings.ToLower(e.SourceType), e.SourceID,
		e.Available.String(), strings.ToLower(e.UnitType), e.Requested.String())
}

func (e *InsufficientMaterialError) Unwrap() error { return ErrInsufficientMaterial }

// HasDependentsError lists the live records that block deleting a batch
type HasDependentsError struct {
	BatchID           int64
	DependentBatchIDs []int64
	ReceiptIDs        []int64
}

func (e *HasDependentsError) Error() string {
	if len(e.ReceiptIDs) > 0 {
		return fmt.Sprintf("%s: batch %d has live receipts %v", ErrHasDependents, e.BatchID, e.ReceiptIDs)
	}
	return fmt.Sprintf("%s: batch %d is consumed by batches %v", ErrHasDependents, e.BatchID, e.DependentBatchIDs)
}

func (e *HasDependentsError) Unwrap() error { return ErrHasDependents }

// OutOfOrderDeletionError names the newer receipt that must be deleted first
type OutOfOrderDeletionError struct {
	ReceiptID      int64
	NewerReceiptID int64
}

func (e *OutOfOrderDeletionError) Error() string {
	return fmt.Sprintf("%s: receipt %d must be deleted before receipt %d",
		ErrOutOfOrderDeletion, e.NewerReceiptID, e.ReceiptID)
}

func (e *OutOfOrderDeletionError) Unwrap() error { return ErrOutOfOrderDeletion }

// ConsistencyViolationError reports a mutation that would break a ledger invariant
type ConsistencyViolationError struct {
	BatchID int64
	Op      string
	Detail  string
}

func (e *ConsistencyViolationError) Error() string {
	return fmt.Sprintf("%s: %s on batch %d: %s", ErrConsistencyViolation, e.Op, e.BatchID, e.Detail)
}

func (e *ConsistencyViolationError) Unwrap() error { return ErrConsistencyViolation }

// Inconsistent builds a ConsistencyViolationError
func Inconsistent(batchID int64, op, format string, args ...interface{}) error {
	return &ConsistencyViolationError{BatchID: batchID, Op: op, Detail: fmt.Sprintf(format, args...)}
}
