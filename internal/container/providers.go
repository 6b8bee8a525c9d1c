// Package container provides dependency injection and lifecycle management
// for the pieceflow ledger following Clean Architecture principles.
package container

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/pieceflow/internal/application/dispatcher"
	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/application/service"
	"github.com/garyjia/pieceflow/internal/config"
	"github.com/garyjia/pieceflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/pieceflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/pieceflow/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the SQLite database and wraps it in a transaction manager.
// Pending migrations run first when auto_migrate is enabled.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		applied, err := database.NewMigrator(db, logger).Up()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("Migrations applied", zap.Int("count", applied))
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Workflow: repository.NewWorkflowRepository(db.DB, logger),
		Ledger:   repository.NewLedgerRepository(db.DB, logger),
		Batch:    repository.NewBatchRepository(db.DB, logger),
		Material: repository.NewMaterialRepository(db.DB, logger),
		Event:    repository.NewEventRepository(db.DB, logger),
	}, nil
}

// ServiceDeps holds dependencies for creating services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideServices creates all application services in dependency order.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	r := deps.Repos
	logger := &zapLoggerAdapter{logger: deps.Logger}

	// Events reach subscribers only after the writing transaction commits.
	var tx port.TransactionManager = deps.TxManager
	events := r.Event
	if deps.Dispatcher != nil {
		outbox := dispatcher.NewOutbox(deps.TxManager, r.Event, deps.Dispatcher)
		tx = outbox
		events = outbox.Events()
	}

	ledgerSvc := service.NewLedgerService(r.Ledger, events, tx, logger)
	inventorySvc := service.NewInventoryService(r.Material, events, tx, logger)
	consumptionSvc := service.NewConsumptionService(r.Workflow, r.Batch, ledgerSvc, tx, logger)
	compensationSvc := service.NewCompensationService(r.Workflow, r.Batch, r.Ledger, r.Material, events,
		ledgerSvc, inventorySvc, tx, logger)

	return &ServiceBundle{
		Ledger:       ledgerSvc,
		Inventory:    inventorySvc,
		Consumption:  consumptionSvc,
		Compensation: compensationSvc,
		Workflow:     service.NewWorkflowService(r.Workflow, tx, logger),
		Report:       service.NewReportService(r.Workflow, r.Batch, ledgerSvc, logger),
		Batch: service.NewBatchService(service.BatchServiceDeps{
			WorkflowRepo:        r.Workflow,
			BatchRepo:           r.Batch,
			EventRepo:           events,
			LedgerService:       ledgerSvc,
			ConsumptionService:  consumptionSvc,
			CompensationService: compensationSvc,
			InventoryService:    inventorySvc,
			TxManager:           tx,
			Logger:              logger,
		}),
	}, nil
}
