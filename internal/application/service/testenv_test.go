package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/application/tenant"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
	"github.com/garyjia/pieceflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/pieceflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/pieceflow/pkg/database"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockTxManager struct {
	withTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.withTransactionFunc != nil {
		return m.withTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// testEnv wires every service against a throwaway SQLite database
type testEnv struct {
	workflowRepo port.WorkflowRepository
	ledgerRepo   port.LedgerRepository
	batchRepo    port.BatchRepository
	materialRepo port.MaterialRepository
	eventRepo    port.EventRepository

	ledgers     LedgerService
	inventory   InventoryService
	consumption ConsumptionService
	workflows   WorkflowService
	batches     BatchService
	reports     ReportService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	zl := zap.NewNop()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "pieceflow.db")}, zl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, zl).Up()
	require.NoError(t, err)

	txManager := sqlite.NewDB(db.DB, zl)
	logger := &mockLogger{}

	env := &testEnv{
		workflowRepo: repository.NewWorkflowRepository(db.DB, zl),
		ledgerRepo:   repository.NewLedgerRepository(db.DB, zl),
		batchRepo:    repository.NewBatchRepository(db.DB, zl),
		materialRepo: repository.NewMaterialRepository(db.DB, zl),
		eventRepo:    repository.NewEventRepository(db.DB, zl),
	}

	env.ledgers = NewLedgerService(env.ledgerRepo, env.eventRepo, txManager, logger)
	env.inventory = NewInventoryService(env.materialRepo, env.eventRepo, txManager, logger)
	env.consumption = NewConsumptionService(env.workflowRepo, env.batchRepo, env.ledgers, txManager, logger)
	compensation := NewCompensationService(env.workflowRepo, env.batchRepo, env.ledgerRepo, env.materialRepo,
		env.eventRepo, env.ledgers, env.inventory, txManager, logger)
	env.workflows = NewWorkflowService(env.workflowRepo, txManager, logger)
	env.batches = NewBatchService(BatchServiceDeps{
		WorkflowRepo:        env.workflowRepo,
		BatchRepo:           env.batchRepo,
		EventRepo:           env.eventRepo,
		LedgerService:       env.ledgers,
		ConsumptionService:  env.consumption,
		CompensationService: compensation,
		InventoryService:    env.inventory,
		TxManager:           txManager,
		Logger:              logger,
	})
	env.reports = NewReportService(env.workflowRepo, env.batchRepo, env.ledgers, logger)
	return env
}

func tenantCtx(id string) context.Context {
	return tenant.WithID(context.Background(), id)
}

// newWorkflow creates a template of ops and one instance of it with a 2.5 unit weight
func (e *testEnv) newWorkflow(t *testing.T, ctx context.Context, ops ...workflow.OperationType) *entity.WorkflowInstance {
	t.Helper()
	tpl, err := e.workflows.CreateTemplate(ctx, CreateTemplateRequest{Name: "flange", Operations: ops})
	require.NoError(t, err)

	weight := decimal.RequireFromString("2.5")
	inst, err := e.workflows.CreateInstance(ctx, CreateInstanceRequest{TemplateID: tpl.ID, ItemRef: "FL-100", UnitWeight: &weight})
	require.NoError(t, err)
	return inst
}

func (e *testEnv) newLot(t *testing.T, ctx context.Context, heat, quantity string) *entity.RawMaterialLot {
	t.Helper()
	lot, err := e.inventory.RegisterLot(ctx, RegisterLotRequest{
		HeatNumber: heat,
		Material:   "EN8 bar",
		Quantity:   decimal.RequireFromString(quantity),
	})
	require.NoError(t, err)
	return lot
}

// forge starts pieces at FORGING drawing weight kilograms from lot
func (e *testEnv) forge(t *testing.T, ctx context.Context, wf, lot int64, pieces int64, weight string) *BatchResult {
	t.Helper()
	res, err := e.batches.CreateFirstOperationBatch(ctx, FirstBatchRequest{
		WorkflowID:    wf,
		OperationType: workflow.OperationForging,
		Pieces:        pieces,
		Materials: []ConsumptionLine{{
			SourceType: entity.SourceTypeLot,
			LotID:      lot,
			Amount:     entity.MaterialAmount{Quantity: decimal.RequireFromString(weight)},
		}},
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) next(t *testing.T, ctx context.Context, wf int64, op workflow.OperationType, parent, pieces int64, vendor string) *BatchResult {
	t.Helper()
	res, err := e.batches.CreateSuccessorOperationBatch(ctx, SuccessorBatchRequest{
		WorkflowID:      wf,
		OperationType:   op,
		ParentBatchID:   parent,
		PiecesRequested: pieces,
		VendorRef:       vendor,
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) entry(t *testing.T, ctx context.Context, batchID int64) *entity.BatchOutcome {
	t.Helper()
	o, err := e.ledgerRepo.GetEntryByBatch(ctx, batchID)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}
