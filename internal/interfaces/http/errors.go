package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/pieceflow/internal/domain/ledger"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
)

// Error codes returned in the code field of failed responses
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeInsufficientPieces   = "INSUFFICIENT_PIECES"
	CodeInsufficientMaterial = "INSUFFICIENT_MATERIAL"
	CodeHasDependents        = "HAS_DEPENDENTS"
	CodeOutOfOrderDeletion   = "OUT_OF_ORDER_DELETION"
	CodeTemplateInUse        = "TEMPLATE_IN_USE"
	CodeConsistencyViolation = "CONSISTENCY_VIOLATION"
	CodeInternal             = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// classify maps an application error to its HTTP status, code and structured details
func classify(err error) (int, string, interface{}) {
	var (
		validation   *ledger.ValidationError
		notFound     *ledger.NotFoundError
		pieces       *ledger.InsufficientPiecesError
		material     *ledger.InsufficientMaterialError
		dependents   *ledger.HasDependentsError
		outOfOrder   *ledger.OutOfOrderDeletionError
		inconsistent *ledger.ConsistencyViolationError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, CodeValidation, gin.H{"field": validation.Field, "reason": validation.Reason}
	case errors.As(err, &notFound):
		return http.StatusNotFound, CodeNotFound, gin.H{"resource": notFound.Resource, "id": notFound.ID}
	case errors.As(err, &pieces):
		return http.StatusUnprocessableEntity, CodeInsufficientPieces, gin.H{
			"batch_id":  pieces.BatchID,
			"available": pieces.Available,
			"requested": pieces.Requested,
		}
	case errors.As(err, &material):
		return http.StatusUnprocessableEntity, CodeInsufficientMaterial, gin.H{
			"source_type": material.SourceType,
			"source_id":   material.SourceID,
			"unit_type":   material.UnitType,
			"available":   material.Available.String(),
			"requested":   material.Requested.String(),
		}
	case errors.As(err, &dependents):
		return http.StatusConflict, CodeHasDependents, gin.H{
			"batch_id":            dependents.BatchID,
			"dependent_batch_ids": dependents.DependentBatchIDs,
			"receipt_ids":         dependents.ReceiptIDs,
		}
	case errors.As(err, &outOfOrder):
		return http.StatusConflict, CodeOutOfOrderDeletion, gin.H{
			"receipt_id":       outOfOrder.ReceiptID,
			"newer_receipt_id": outOfOrder.NewerReceiptID,
		}
	case errors.Is(err, workflow.ErrTemplateInUse):
		return http.StatusConflict, CodeTemplateInUse, nil
	case errors.As(err, &inconsistent):
		return http.StatusInternalServerError, CodeConsistencyViolation, gin.H{
			"batch_id":  inconsistent.BatchID,
			"operation": inconsistent.Op,
		}
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest, CodeValidation, nil
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, nil
	default:
		return http.StatusInternalServerError, CodeInternal, nil
	}
}

func respondError(c *gin.Context, err error) {
	status, code, details := classify(err)
	msg := err.Error()
	if code == CodeInternal {
		msg = "internal server error"
	}
	c.JSON(status, ErrorResponse{
		Success: false,
		Error:   msg,
		Code:    code,
		Details: details,
	})
}
