package dispatcher

import (
	"context"
	"sync"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/event"
)

type pendingKey struct{}

// pending collects the events appended inside one outermost transaction
type pending struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *pending) add(evt *event.Event) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
}

// Outbox holds events back until the transaction that wrote them commits.
// It wraps both the transaction manager and the event repository.
type Outbox struct {
	tx         port.TransactionManager
	events     port.EventRepository
	dispatcher Dispatcher
}

// NewOutbox wires tx and events to d
func NewOutbox(tx port.TransactionManager, events port.EventRepository, d Dispatcher) *Outbox {
	return &Outbox{tx: tx, events: events, dispatcher: d}
}

// WithTransaction implements port.TransactionManager.
// Nested calls join the outer buffer; events are published once, after the outermost commit.
func (o *Outbox) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pendingKey{}).(*pending); ok {
		return o.tx.WithTransaction(ctx, fn)
	}

	buf := &pending{}
	if err := o.tx.WithTransaction(context.WithValue(ctx, pendingKey{}, buf), fn); err != nil {
		return err
	}

	for _, evt := range buf.events {
		o.dispatcher.DispatchAsync(ctx, evt)
	}
	return nil
}

// Events returns the event repository that feeds this outbox
func (o *Outbox) Events() port.EventRepository {
	return &outboxEvents{outbox: o}
}

type outboxEvents struct {
	outbox *Outbox
}

// Append stores evt and queues it for publication.
// Outside a transaction the event is published immediately.
func (r *outboxEvents) Append(ctx context.Context, evt *event.Event) error {
	if err := r.outbox.events.Append(ctx, evt); err != nil {
		return err
	}
	if buf, ok := ctx.Value(pendingKey{}).(*pending); ok {
		buf.add(evt)
		return nil
	}
	r.outbox.dispatcher.DispatchAsync(ctx, evt)
	return nil
}

func (r *outboxEvents) ListByWorkflow(ctx context.Context, workflowInstanceID int64) ([]*event.Event, error) {
	return r.outbox.events.ListByWorkflow(ctx, workflowInstanceID)
}

var (
	_ port.TransactionManager = (*Outbox)(nil)
	_ port.EventRepository    = (*outboxEvents)(nil)
)
