package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is an audit record of a ledger mutation. Events are written in the
// same transaction as the mutation they describe.
type Event struct {
	ID                 string                 `json:"id"`
	Type               Type                   `json:"type"`
	TenantID           string                 `json:"tenant_id"`
	WorkflowInstanceID int64                  `json:"workflow_instance_id"`
	BatchID            int64                  `json:"batch_id"`
	Payload            map[string]interface{} `json:"payload"`
	Timestamp          time.Time              `json:"timestamp"`
	CorrelationID      string                 `json:"correlation_id"`
}

// NewEvent creates a new event with a generated ID and the current time
func NewEvent(eventType Type, workflowInstanceID, batchID int64, payload map[string]interface{}) *Event {
	id := uuid.NewString()
	return &Event{
		ID:                 id,
		Type:               eventType,
		WorkflowInstanceID: workflowInstanceID,
		BatchID:            batchID,
		Payload:            payload,
		Timestamp:          time.Now().UTC(),
		CorrelationID:      id,
	}
}

// WithPayload returns a copy of the event with an added payload entry
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// WithCorrelation returns a copy of the event linked to an existing correlation chain
func (e *Event) WithCorrelation(correlationID string) *Event {
	cp := *e
	cp.CorrelationID = correlationID
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload.
// Values decoded from JSON arrive as float64 and are truncated.
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
