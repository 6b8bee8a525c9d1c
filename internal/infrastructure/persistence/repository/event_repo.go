package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/event"
)

// EventRepository implements port.EventRepository
type EventRepository struct {
	base
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB, logger *zap.Logger) port.EventRepository {
	return &EventRepository{base{db: db, logger: logger}}
}

// Append stores an event under the tenant carried by ctx
func (r *EventRepository) Append(ctx context.Context, evt *event.Event) error {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return err
	}

	payload := []byte("{}")
	if len(evt.Payload) > 0 {
		payload, err = json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO ledger_events (
			id, tenant_id, type, workflow_instance_id, batch_id, payload, correlation_id, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		evt.ID,
		tenantID,
		string(evt.Type),
		evt.WorkflowInstanceID,
		evt.BatchID,
		string(payload),
		evt.CorrelationID,
		evt.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append event", zap.String("type", string(evt.Type)), zap.Error(err))
		return fmt.Errorf("failed to append event: %w", err)
	}

	evt.TenantID = tenantID
	return nil
}

// ListByWorkflow returns the events of a workflow instance in the order they occurred
func (r *EventRepository) ListByWorkflow(ctx context.Context, workflowInstanceID int64) ([]*event.Event, error) {
	tenantID, err := r.scope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, type, workflow_instance_id, batch_id, payload, correlation_id, occurred_at
		FROM ledger_events
		WHERE tenant_id = ? AND workflow_instance_id = ?
		ORDER BY occurred_at, rowid
	`, tenantID, workflowInstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		var evt event.Event
		var payload string
		if err := rows.Scan(
			&evt.ID,
			&evt.TenantID,
			&evt.Type,
			&evt.WorkflowInstanceID,
			&evt.BatchID,
			&payload,
			&evt.CorrelationID,
			&evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &evt.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		events = append(events, &evt)
	}
	return events, rows.Err()
}
