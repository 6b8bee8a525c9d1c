package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/pieceflow/internal/domain/event"
)

type txCtxKey struct{}

// mockTxManager mimics a nesting transaction manager
type mockTxManager struct {
	commits int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txCtxKey{}) != nil {
		return fn(ctx)
	}
	if err := fn(context.WithValue(ctx, txCtxKey{}, true)); err != nil {
		return err
	}
	m.commits++
	return nil
}

type mockEventRepo struct {
	AppendFunc func(ctx context.Context, evt *event.Event) error
	appended   []*event.Event
}

func (m *mockEventRepo) Append(ctx context.Context, evt *event.Event) error {
	if m.AppendFunc != nil {
		if err := m.AppendFunc(ctx, evt); err != nil {
			return err
		}
	}
	m.appended = append(m.appended, evt)
	return nil
}

func (m *mockEventRepo) ListByWorkflow(ctx context.Context, workflowInstanceID int64) ([]*event.Event, error) {
	return m.appended, nil
}

// recorder collects the events a dispatcher delivered
type recorder struct {
	mu     sync.Mutex
	events []event.Type
}

func (r *recorder) handle(ctx context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt.Type)
	return nil
}

func newTestOutbox() (*Outbox, *mockEventRepo, *recorder, Dispatcher) {
	d := NewDispatcher()
	rec := &recorder{}
	d.SubscribeAll("recorder", rec.handle)
	repo := &mockEventRepo{}
	return NewOutbox(&mockTxManager{}, repo, d), repo, rec, d
}

func TestOutbox_PublishesAfterCommit(t *testing.T) {
	outbox, repo, rec, d := newTestOutbox()
	events := outbox.Events()

	err := outbox.WithTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, events.Append(ctx, newTestEvent(event.TypeLedgerCredited)))
		return outbox.WithTransaction(ctx, func(inner context.Context) error {
			return events.Append(inner, newTestEvent(event.TypeBatchCreated))
		})
	})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.Len(t, repo.appended, 2)
	assert.ElementsMatch(t, []event.Type{event.TypeLedgerCredited, event.TypeBatchCreated}, rec.events)
}

func TestOutbox_DiscardsOnRollback(t *testing.T) {
	outbox, _, rec, d := newTestOutbox()
	events := outbox.Events()
	boom := errors.New("insufficient pieces")

	err := outbox.WithTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, events.Append(ctx, newTestEvent(event.TypeLedgerDebited)))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, d.Close())

	assert.Empty(t, rec.events)
}

func TestOutbox_AppendOutsideTransaction(t *testing.T) {
	outbox, _, rec, d := newTestOutbox()

	require.NoError(t, outbox.Events().Append(context.Background(), newTestEvent(event.TypeMaterialTransfer)))
	require.NoError(t, d.Close())

	assert.Equal(t, []event.Type{event.TypeMaterialTransfer}, rec.events)
}

func TestOutbox_FailedAppendIsNotPublished(t *testing.T) {
	outbox, repo, rec, d := newTestOutbox()
	repo.AppendFunc = func(ctx context.Context, evt *event.Event) error {
		return errors.New("disk full")
	}

	err := outbox.WithTransaction(context.Background(), func(ctx context.Context) error {
		return outbox.Events().Append(ctx, newTestEvent(event.TypeReceiptCredited))
	})
	require.Error(t, err)
	require.NoError(t, d.Close())

	assert.Empty(t, rec.events)
}
