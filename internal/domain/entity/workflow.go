package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/pieceflow/internal/domain/workflow"
)

// WorkflowTemplate is a named, ordered list of operation types
type WorkflowTemplate struct {
	ID        int64             `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Name      string            `json:"name"`
	Steps     []WorkflowStepDef `json:"steps"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// WorkflowStepDef places an operation type at a position in a template
type WorkflowStepDef struct {
	OperationType workflow.OperationType `json:"operation_type"`
	Position      int                    `json:"position"`
}

// Topology validates the template steps and returns the navigable template
func (t *WorkflowTemplate) Topology() (*workflow.Template, error) {
	steps := make([]workflow.Step, len(t.Steps))
	for i, s := range t.Steps {
		steps[i] = workflow.Step{OperationType: s.OperationType, Position: s.Position}
	}
	return workflow.NewTemplate(steps)
}

// WorkflowInstance is one production run of an item following a template
type WorkflowInstance struct {
	ID         int64            `json:"id"`
	TenantID   string           `json:"tenant_id"`
	TemplateID int64            `json:"template_id"`
	ItemRef    string           `json:"item_ref"`
	UnitWeight *decimal.Decimal `json:"unit_weight,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
