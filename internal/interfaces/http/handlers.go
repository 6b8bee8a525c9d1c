package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/pieceflow/internal/application/service"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/ledger"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ReplaceStepsRequest is the body of PUT /templates/:id/steps
type ReplaceStepsRequest struct {
	Operations []workflow.OperationType `json:"operations"`
}

// DeliveryBody is the body of POST /batches/:id/receipts
type DeliveryBody struct {
	PiecesEligibleForNext int64     `json:"pieces_eligible_for_next"`
	ReceivedAt            time.Time `json:"received_at"`
}

// TransferBody is the body of POST /lots/:id/transfers
type TransferBody struct {
	VendorRef string                `json:"vendor_ref"`
	Amount    entity.MaterialAmount `json:"amount"`
}

// ReturnBody is the body of POST /vendor-accounts/:id/returns
type ReturnBody struct {
	Amount entity.MaterialAmount `json:"amount"`
}

func (h *Handlers) ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func (h *Handlers) fail(c *gin.Context, action string, err error) {
	h.logger.Error("Request failed", "action", action, "path", c.Request.URL.Path, "error", err)
	respondError(c, err)
}

// pathID parses a positive integer path parameter
func pathID(c *gin.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ledger.Invalid(name, "%q is not a valid id", raw)
	}
	return id, nil
}

func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return ledger.Invalid("body", "%v", err)
	}
	return nil
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	h.ok(c, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	})
}

// CreateTemplate handles POST /api/v1/templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req service.CreateTemplateRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, "create template", err)
		return
	}
	tpl, err := h.services.Workflow.CreateTemplate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "create template", err)
		return
	}
	h.ok(c, http.StatusCreated, tpl)
}

// GetTemplate handles GET /api/v1/templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "get template", err)
		return
	}
	tpl, err := h.services.Workflow.GetTemplate(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get template", err)
		return
	}
	h.ok(c, http.StatusOK, tpl)
}

// ReplaceTemplateSteps handles PUT /api/v1/templates/:id/steps
func (h *Handlers) ReplaceTemplateSteps(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "replace template steps", err)
		return
	}
	var req ReplaceStepsRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, "replace template steps", err)
		return
	}
	tpl, err := h.services.Workflow.ReplaceTemplateSteps(c.Request.Context(), id, req.Operations)
	if err != nil {
		h.fail(c, "replace template steps", err)
		return
	}
	h.ok(c, http.StatusOK, tpl)
}

// CreateWorkflow handles POST /api/v1/workflows
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var req service.CreateInstanceRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, "create workflow", err)
		return
	}
	instance, err := h.services.Workflow.CreateInstance(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "create workflow", err)
		return
	}
	h.ok(c, http.StatusCreated, instance)
}

// GetWorkflow handles GET /api/v1/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "get workflow", err)
		return
	}
	instance, err := h.services.Workflow.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get workflow", err)
		return
	}
	h.ok(c, http.StatusOK, instance)
}

// CreateFirstBatch handles POST /api/v1/workflows/:id/batches/first
func (h *Handlers) CreateFirstBatch(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "create first batch", err)
		return
	}
	var req service.FirstBatchRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, "create first batch", err)
		return
	}
	req.WorkflowID = id

	result, err := h.services.Batch.CreateFirstOperationBatch(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "create first batch", err)
		return
	}
	h.ok(c, http.StatusCreated, result)
}

// CreateSuccessorBatch handles POST /api/v1/workflows/:id/batches/successor
func (h *Handlers) CreateSuccessorBatch(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "create successor batch", err)
		return
	}
	var req service.SuccessorBatchRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, "create successor batch", err)
		return
	}
	req.WorkflowID = id

	result, err := h.services.Batch.CreateSuccessorOperationBatch(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "create successor batch", err)
		return
	}
	h.ok(c, http.StatusCreated, result)
}

// GetLedgerSnapshot handles GET /api/v1/workflows/:id/steps/:operation/ledger
func (h *Handlers) GetLedgerSnapshot(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "get ledger", err)
		return
	}
	op, err := workflow.ParseOperationType(strings.ToUpper(c.Param("operation")))
	if err != nil {
		h.fail(c, "get ledger", ledger.Invalid("operation", "unknown operation %q", c.Param("operation")))
		return
	}

	snapshot, err := h.services.Batch.GetLedgerSnapshot(c.Request.Context(), id, op)
	if err != nil {
		h.fail(c, "get ledger", err)
		return
	}
	h.ok(c, http.StatusOK, snapshot)
}

// ListEvents handles GET /api/v1/workflows/:id/events
func (h *Handlers) ListEvents(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "list events", err)
		return
	}
	events, err := h.services.Batch.ListEvents(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "list events", err)
		return
	}
	h.ok(c, http.StatusOK, events)
}

// ExportLedgerWorkbook handles GET /api/v1/workflows/:id/ledger.xlsx
func (h *Handlers) ExportLedgerWorkbook(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "export ledger", err)
		return
	}
	data, err := h.services.Report.ExportLedgerWorkbook(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "export ledger", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="workflow-%d-ledger.xlsx"`, id))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// GetBatch handles GET /api/v1/batches/:id
func (h *Handlers) GetBatch(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "get batch", err)
		return
	}
	batch, err := h.services.Batch.GetBatch(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get batch", err)
		return
	}
	h.ok(c, http.StatusOK, batch)
}

// CreditDelivery handles POST /api/v1/batches/:id/receipts
func (h *Handlers) CreditDelivery(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "credit delivery", err)
		return
	}
	var body DeliveryBody
	if err := bindJSON(c, &body); err != nil {
		h.fail(c, "credit delivery", err)
		return
	}

	result, err := h.services.Batch.CreditPartialDelivery(c.Request.Context(), service.DeliveryRequest{
		BatchID:               id,
		PiecesEligibleForNext: body.PiecesEligibleForNext,
		ReceivedAt:            body.ReceivedAt,
	})
	if err != nil {
		h.fail(c, "credit delivery", err)
		return
	}
	h.ok(c, http.StatusCreated, result)
}

// DeleteBatch handles DELETE /api/v1/batches/:id
func (h *Handlers) DeleteBatch(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "delete batch", err)
		return
	}
	if err := h.services.Batch.DeleteOperationBatch(c.Request.Context(), id); err != nil {
		h.fail(c, "delete batch", err)
		return
	}
	h.ok(c, http.StatusOK, gin.H{"batch_id": id, "deleted": true})
}

// DeleteReceipt handles DELETE /api/v1/receipts/:id
func (h *Handlers) DeleteReceipt(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "delete receipt", err)
		return
	}
	if err := h.services.Batch.DeleteDeliveryReceipt(c.Request.Context(), id); err != nil {
		h.fail(c, "delete receipt", err)
		return
	}
	h.ok(c, http.StatusOK, gin.H{"receipt_id": id, "deleted": true})
}

// RegisterLot handles POST /api/v1/lots
func (h *Handlers) RegisterLot(c *gin.Context) {
	var req service.RegisterLotRequest
	if err := bindJSON(c, &req); err != nil {
		h.fail(c, "register lot", err)
		return
	}
	lot, err := h.services.Inventory.RegisterLot(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "register lot", err)
		return
	}
	h.ok(c, http.StatusCreated, lot)
}

// GetLot handles GET /api/v1/lots/:id
func (h *Handlers) GetLot(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "get lot", err)
		return
	}
	lot, err := h.services.Inventory.GetLot(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get lot", err)
		return
	}
	h.ok(c, http.StatusOK, lot)
}

// TransferToVendor handles POST /api/v1/lots/:id/transfers
func (h *Handlers) TransferToVendor(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "transfer material", err)
		return
	}
	var body TransferBody
	if err := bindJSON(c, &body); err != nil {
		h.fail(c, "transfer material", err)
		return
	}

	account, err := h.services.Inventory.Transfer(c.Request.Context(), service.TransferRequest{
		LotID:     id,
		VendorRef: body.VendorRef,
		Amount:    body.Amount,
	})
	if err != nil {
		h.fail(c, "transfer material", err)
		return
	}
	h.ok(c, http.StatusCreated, account)
}

// GetVendorAccount handles GET /api/v1/vendor-accounts/:id
func (h *Handlers) GetVendorAccount(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "get vendor account", err)
		return
	}
	account, err := h.services.Inventory.GetVendorAccount(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get vendor account", err)
		return
	}
	h.ok(c, http.StatusOK, account)
}

// ReturnFromVendor handles POST /api/v1/vendor-accounts/:id/returns
func (h *Handlers) ReturnFromVendor(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.fail(c, "return material", err)
		return
	}
	var body ReturnBody
	if err := bindJSON(c, &body); err != nil {
		h.fail(c, "return material", err)
		return
	}

	lot, err := h.services.Inventory.Return(c.Request.Context(), id, body.Amount)
	if err != nil {
		h.fail(c, "return material", err)
		return
	}
	h.ok(c, http.StatusOK, lot)
}
