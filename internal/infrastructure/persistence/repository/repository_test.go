package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/pieceflow/internal/application/tenant"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/event"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
	"github.com/garyjia/pieceflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/pieceflow/pkg/database"
)

type fixture struct {
	db        *database.DB
	tx        *sqlite.DB
	workflows *WorkflowRepository
	ledgers   *LedgerRepository
	batches   *BatchRepository
	materials *MaterialRepository
	events    *EventRepository
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "repo.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, logger).Up()
	require.NoError(t, err)

	return &fixture{
		db:        db,
		tx:        sqlite.NewDB(db.DB, logger),
		workflows: NewWorkflowRepository(db.DB, logger).(*WorkflowRepository),
		ledgers:   NewLedgerRepository(db.DB, logger).(*LedgerRepository),
		batches:   NewBatchRepository(db.DB, logger).(*BatchRepository),
		materials: NewMaterialRepository(db.DB, logger).(*MaterialRepository),
		events:    NewEventRepository(db.DB, logger).(*EventRepository),
	}
}

func (f *fixture) seedWorkflow(t *testing.T, ctx context.Context) *entity.WorkflowInstance {
	t.Helper()
	tpl := &entity.WorkflowTemplate{
		Name: "flange",
		Steps: []entity.WorkflowStepDef{
			{OperationType: workflow.OperationForging, Position: 0},
			{OperationType: workflow.OperationMachining, Position: 1},
		},
	}
	require.NoError(t, f.workflows.CreateTemplate(ctx, tpl))

	weight := decimal.RequireFromString("2.5")
	inst := &entity.WorkflowInstance{TemplateID: tpl.ID, ItemRef: "FL-100", UnitWeight: &weight}
	require.NoError(t, f.workflows.CreateInstance(ctx, inst))
	return inst
}

func (f *fixture) seedBatch(t *testing.T, ctx context.Context, wf int64, number string, pieces int64) *entity.OperationBatch {
	t.Helper()
	b := &entity.OperationBatch{
		WorkflowInstanceID: wf,
		OperationType:      workflow.OperationForging,
		Kind:               entity.BatchKindInHouse,
		BatchNumber:        number,
		PiecesCount:        pieces,
		Quantity:           decimal.RequireFromString("250.75"),
	}
	require.NoError(t, f.batches.Create(ctx, b))
	return b
}

func TestRepositories_RequireTenant(t *testing.T) {
	f := setupFixture(t)

	_, err := f.workflows.GetTemplate(context.Background(), 1)
	assert.Error(t, err)

	_, err = f.batches.GetByID(context.Background(), 1)
	assert.Error(t, err)
}

func TestWorkflowRepository_RoundTrip(t *testing.T) {
	f := setupFixture(t)
	ctx := tenant.WithID(context.Background(), "acme")

	inst := f.seedWorkflow(t, ctx)

	got, err := f.workflows.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.UnitWeight)
	assert.True(t, got.UnitWeight.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "acme", got.TenantID)

	tpl, err := f.workflows.GetTemplate(ctx, inst.TemplateID)
	require.NoError(t, err)
	require.Len(t, tpl.Steps, 2)
	assert.Equal(t, workflow.OperationMachining, tpl.Steps[1].OperationType)

	count, err := f.workflows.CountInstancesByTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, f.workflows.ReplaceTemplateSteps(ctx, tpl.ID, []entity.WorkflowStepDef{
		{OperationType: workflow.OperationForging, Position: 0},
	}))
	tpl, err = f.workflows.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Len(t, tpl.Steps, 1)
}

func TestWorkflowRepository_TenantIsolation(t *testing.T) {
	f := setupFixture(t)
	acme := tenant.WithID(context.Background(), "acme")
	globex := tenant.WithID(context.Background(), "globex")

	inst := f.seedWorkflow(t, acme)

	got, err := f.workflows.GetInstance(globex, inst.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLedgerRepository_DebitEntryIsConditional(t *testing.T) {
	f := setupFixture(t)
	ctx := tenant.WithID(context.Background(), "acme")
	inst := f.seedWorkflow(t, ctx)
	batch := f.seedBatch(t, ctx, inst.ID, "F-1", 100)

	l := &entity.StepLedger{WorkflowInstanceID: inst.ID, OperationType: workflow.OperationForging}
	require.NoError(t, f.ledgers.CreateLedger(ctx, l))

	now := time.Now().UTC()
	entry := &entity.BatchOutcome{
		LedgerID:               l.ID,
		BatchID:                batch.ID,
		InitialPiecesCount:     100,
		PiecesAvailableForNext: 100,
		StartedAt:              now,
		UpdatedAt:              now,
	}
	require.NoError(t, f.ledgers.CreateEntry(ctx, entry))

	ok, err := f.ledgers.DebitEntry(ctx, batch.ID, 60, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.ledgers.DebitEntry(ctx, batch.ID, 41, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.ledgers.GetEntryByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.PiecesAvailableForNext)
	assert.Equal(t, int64(100), got.InitialPiecesCount)

	entries, err := f.ledgers.ListEntries(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedgerRepository_CheckConstraintGuardsCounters(t *testing.T) {
	f := setupFixture(t)
	ctx := tenant.WithID(context.Background(), "acme")
	inst := f.seedWorkflow(t, ctx)
	batch := f.seedBatch(t, ctx, inst.ID, "F-1", 10)

	l := &entity.StepLedger{WorkflowInstanceID: inst.ID, OperationType: workflow.OperationForging}
	require.NoError(t, f.ledgers.CreateLedger(ctx, l))

	now := time.Now().UTC()
	err := f.ledgers.CreateEntry(ctx, &entity.BatchOutcome{
		LedgerID:               l.ID,
		BatchID:                batch.ID,
		InitialPiecesCount:     10,
		PiecesAvailableForNext: 11,
		StartedAt:              now,
		UpdatedAt:              now,
	})
	assert.Error(t, err)
}

func TestBatchRepository_ReceiptsNewestFirst(t *testing.T) {
	f := setupFixture(t)
	ctx := tenant.WithID(context.Background(), "acme")
	inst := f.seedWorkflow(t, ctx)
	batch := f.seedBatch(t, ctx, inst.ID, "F-1", 100)

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	first := &entity.DeliveryReceipt{BatchID: batch.ID, PiecesEligibleForNext: 10, ReceivedAt: base}
	second := &entity.DeliveryReceipt{BatchID: batch.ID, PiecesEligibleForNext: 20, ReceivedAt: base.Add(time.Hour)}
	require.NoError(t, f.batches.CreateReceipt(ctx, first))
	require.NoError(t, f.batches.CreateReceipt(ctx, second))

	receipts, err := f.batches.ListLiveReceipts(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, second.ID, receipts[0].ID)

	require.NoError(t, f.batches.SoftDeleteReceipt(ctx, second.ID, base.Add(2*time.Hour)))
	receipts, err = f.batches.ListLiveReceipts(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, first.ID, receipts[0].ID)

	deleted, err := f.batches.GetReceipt(ctx, second.ID)
	require.NoError(t, err)
	assert.NotNil(t, deleted.DeletedAt)
}

func TestBatchRepository_DecimalQuantityRoundTrip(t *testing.T) {
	f := setupFixture(t)
	ctx := tenant.WithID(context.Background(), "acme")
	inst := f.seedWorkflow(t, ctx)
	batch := f.seedBatch(t, ctx, inst.ID, "F-1", 100)

	got, err := f.batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(decimal.RequireFromString("250.75")))
	assert.Nil(t, got.ParentBatchID)
	assert.False(t, got.IsDeleted())
}

func TestMaterialRepository_VendorAccountLookup(t *testing.T) {
	f := setupFixture(t)
	ctx := tenant.WithID(context.Background(), "acme")

	lot := &entity.RawMaterialLot{
		HeatNumber:        "H-1",
		Material:          "EN8",
		UnitType:          entity.UnitTypeQuantity,
		TotalQuantity:     decimal.NewFromInt(1000),
		AvailableQuantity: decimal.NewFromInt(1000),
	}
	require.NoError(t, f.materials.CreateLot(ctx, lot))

	found, err := f.materials.FindVendorAccount(ctx, "vendor-a", lot.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	acct := &entity.VendorInventoryAccount{
		VendorRef:         "vendor-a",
		LotID:             lot.ID,
		UnitType:          entity.UnitTypeQuantity,
		AvailableQuantity: decimal.RequireFromString("12.5"),
	}
	require.NoError(t, f.materials.CreateVendorAccount(ctx, acct))

	found, err = f.materials.FindVendorAccount(ctx, "vendor-a", lot.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, acct.ID, found.ID)
	assert.True(t, found.AvailableQuantity.Equal(decimal.RequireFromString("12.5")))

	dup := &entity.VendorInventoryAccount{VendorRef: "vendor-a", LotID: lot.ID, UnitType: entity.UnitTypeQuantity}
	assert.Error(t, f.materials.CreateVendorAccount(ctx, dup))
}

func TestEventRepository_AppendWithinTransaction(t *testing.T) {
	f := setupFixture(t)
	ctx := tenant.WithID(context.Background(), "acme")
	inst := f.seedWorkflow(t, ctx)

	err := f.tx.WithTransaction(ctx, func(ctx context.Context) error {
		require.True(t, sqlite.InTransaction(ctx))
		return f.events.Append(ctx, event.NewEvent(event.TypeBatchCreated, inst.ID, 1,
			map[string]interface{}{"pieces": 10}))
	})
	require.NoError(t, err)

	events, err := f.events.ListByWorkflow(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeBatchCreated, events[0].Type)
	assert.Equal(t, int64(10), events[0].GetPayloadInt("pieces"))
}

func TestTransaction_RollbackDiscardsWrites(t *testing.T) {
	f := setupFixture(t)
	ctx := tenant.WithID(context.Background(), "acme")
	inst := f.seedWorkflow(t, ctx)

	sentinel := assert.AnError
	err := f.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := f.events.Append(ctx, event.NewEvent(event.TypeBatchCreated, inst.ID, 1, nil)); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	events, err := f.events.ListByWorkflow(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}
