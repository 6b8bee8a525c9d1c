package service

import (
	"context"
	"fmt"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/event"
	"github.com/garyjia/pieceflow/internal/domain/ledger"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
	"github.com/garyjia/pieceflow/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// validateRequest runs struct tag validation and reports the first failure as a ValidationError
func validateRequest(req interface{}) error {
	if fe := utils.ValidateStruct(req); fe != nil {
		return ledger.Invalid(fe.Field, "%s", fe.Error())
	}
	return nil
}

// loadWorkflow resolves a workflow instance and the topology of its template
func loadWorkflow(ctx context.Context, repo port.WorkflowRepository, workflowID int64) (*entity.WorkflowInstance, *workflow.Template, error) {
	instance, err := repo.GetInstance(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("get workflow instance: %w", err)
	}
	if instance == nil {
		return nil, nil, ledger.NotFound("workflow instance", workflowID)
	}

	tpl, err := repo.GetTemplate(ctx, instance.TemplateID)
	if err != nil {
		return nil, nil, fmt.Errorf("get workflow template: %w", err)
	}
	if tpl == nil {
		return nil, nil, ledger.NotFound("workflow template", instance.TemplateID)
	}

	topology, err := tpl.Topology()
	if err != nil {
		return nil, nil, fmt.Errorf("template %d: %w", tpl.ID, err)
	}
	return instance, topology, nil
}

// ledgerRef addresses the ledger of op within a workflow, rejecting operations outside the template
func ledgerRef(workflowID int64, topology *workflow.Template, op workflow.OperationType) (entity.LedgerRef, error) {
	pos, err := topology.Position(op)
	if err != nil {
		return entity.LedgerRef{}, ledger.Invalid("operation_type", "%s is not a step of workflow %d", op, workflowID)
	}
	return entity.LedgerRef{WorkflowInstanceID: workflowID, OperationType: op, Position: pos}, nil
}

// appendEvent writes an audit event; callers run it inside their transaction
func appendEvent(ctx context.Context, repo port.EventRepository, evt *event.Event) error {
	if repo == nil {
		return nil
	}
	if err := repo.Append(ctx, evt); err != nil {
		return fmt.Errorf("append %s event: %w", evt.Type, err)
	}
	return nil
}
