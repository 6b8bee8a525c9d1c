package dispatcher

import (
	"context"

	"github.com/garyjia/pieceflow/internal/domain/event"
)

// Handler processes a committed ledger event
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}

// LogHandler returns a handler that writes each event to logger
func LogHandler(logger Logger) Handler {
	return func(ctx context.Context, evt *event.Event) error {
		logger.Info("Ledger event committed",
			"event_type", evt.Type,
			"event_id", evt.ID,
			"tenant_id", evt.TenantID,
			"workflow_instance_id", evt.WorkflowInstanceID,
			"batch_id", evt.BatchID)
		return nil
	}
}
