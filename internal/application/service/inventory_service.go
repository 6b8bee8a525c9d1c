package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/garyjia/pieceflow/internal/application/port"
	"github.com/garyjia/pieceflow/internal/domain/entity"
	"github.com/garyjia/pieceflow/internal/domain/event"
	"github.com/garyjia/pieceflow/internal/domain/ledger"
	"github.com/garyjia/pieceflow/internal/domain/workflow"
	"github.com/garyjia/pieceflow/pkg/utils"
)

// RegisterLotRequest describes a newly received raw material lot
type RegisterLotRequest struct {
	HeatNumber string          `json:"heat_number" validate:"required,max=64,ref"`
	Material   string          `json:"material" validate:"required,max=128"`
	Quantity   decimal.Decimal `json:"quantity"`
	Pieces     int64           `json:"pieces" validate:"gte=0"`
}

// ConsumptionLine asks for an amount of material from one source
type ConsumptionLine struct {
	SourceType      string                `json:"source_type" validate:"required,oneof=LOT VENDOR_ACCOUNT"`
	LotID           int64                 `json:"lot_id" validate:"required_if=SourceType LOT"`
	VendorAccountID int64                 `json:"vendor_account_id" validate:"required_if=SourceType VENDOR_ACCOUNT"`
	Amount          entity.MaterialAmount `json:"amount"`
}

// TransferRequest moves material from a lot to a vendor
type TransferRequest struct {
	LotID     int64                 `json:"lot_id" validate:"required"`
	VendorRef string                `json:"vendor_ref" validate:"required,max=64,ref"`
	Amount    entity.MaterialAmount `json:"amount"`
}

// InventoryService tracks raw material lots and the material held at vendors
type InventoryService interface {
	RegisterLot(ctx context.Context, req RegisterLotRequest) (*entity.RawMaterialLot, error)
	GetLot(ctx context.Context, id int64) (*entity.RawMaterialLot, error)
	GetVendorAccount(ctx context.Context, id int64) (*entity.VendorInventoryAccount, error)

	// Consume draws material for a batch and records the consumption line.
	// Nothing is mutated when the source cannot cover the amount.
	Consume(ctx context.Context, batchID int64, line ConsumptionLine) (*entity.MaterialConsumption, error)

	// Restore puts a consumption line back into the source it was drawn from
	Restore(ctx context.Context, line *entity.MaterialConsumption) error

	Transfer(ctx context.Context, req TransferRequest) (*entity.VendorInventoryAccount, error)
	Return(ctx context.Context, accountID int64, amount entity.MaterialAmount) (*entity.RawMaterialLot, error)
}

// RequiredUnitType returns the unit a first operation must consume material in.
// Forging cuts bar stock by weight; every other first operation takes counted pieces.
func RequiredUnitType(op workflow.OperationType) string {
	if op == workflow.OperationForging {
		return entity.UnitTypeQuantity
	}
	return entity.UnitTypePieces
}

type inventoryServiceImpl struct {
	materialRepo port.MaterialRepository
	eventRepo    port.EventRepository
	txManager    port.TransactionManager
	logger       Logger
}

// NewInventoryService creates a new InventoryService
func NewInventoryService(
	materialRepo port.MaterialRepository,
	eventRepo port.EventRepository,
	txManager port.TransactionManager,
	logger Logger,
) InventoryService {
	return &inventoryServiceImpl{
		materialRepo: materialRepo,
		eventRepo:    eventRepo,
		txManager:    txManager,
		logger:       logger,
	}
}

func (s *inventoryServiceImpl) RegisterLot(ctx context.Context, req RegisterLotRequest) (*entity.RawMaterialLot, error) {
	req.HeatNumber = utils.SanitizeString(req.HeatNumber)
	req.Material = utils.SanitizeString(req.Material)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	amount := entity.MaterialAmount{Quantity: req.Quantity, Pieces: req.Pieces}
	unitType := amount.UnitType()
	if unitType == "" {
		return nil, ledger.Invalid("quantity", "exactly one of quantity and pieces must be positive")
	}

	lot := &entity.RawMaterialLot{
		HeatNumber:        req.HeatNumber,
		Material:          req.Material,
		UnitType:          unitType,
		TotalQuantity:     req.Quantity,
		AvailableQuantity: req.Quantity,
		TotalPieces:       req.Pieces,
		AvailablePieces:   req.Pieces,
	}

	if err := s.materialRepo.CreateLot(ctx, lot); err != nil {
		s.logger.Error("Failed to register lot", "error", err, "heat_number", req.HeatNumber)
		return nil, fmt.Errorf("create lot: %w", err)
	}

	s.logger.Info("Lot registered", "id", lot.ID, "heat_number", lot.HeatNumber, "unit_type", lot.UnitType)
	return lot, nil
}

func (s *inventoryServiceImpl) GetLot(ctx context.Context, id int64) (*entity.RawMaterialLot, error) {
	lot, err := s.materialRepo.GetLot(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get lot", "error", err, "id", id)
		return nil, err
	}
	if lot == nil {
		return nil, ledger.NotFound("lot", id)
	}
	return lot, nil
}

func (s *inventoryServiceImpl) GetVendorAccount(ctx context.Context, id int64) (*entity.VendorInventoryAccount, error) {
	account, err := s.materialRepo.GetVendorAccount(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get vendor account", "error", err, "id", id)
		return nil, err
	}
	if account == nil {
		return nil, ledger.NotFound("vendor account", id)
	}
	return account, nil
}

// checkAmount rejects an amount whose unit does not match the source
func checkAmount(field string, amount entity.MaterialAmount, sourceUnit string) error {
	unit := amount.UnitType()
	if unit == "" {
		return ledger.Invalid(field, "exactly one of quantity and pieces must be positive")
	}
	if unit != sourceUnit {
		return ledger.Invalid(field, "source is measured in %s, got %s", sourceUnit, unit)
	}
	return nil
}

func (s *inventoryServiceImpl) Consume(ctx context.Context, batchID int64, line ConsumptionLine) (*entity.MaterialConsumption, error) {
	if err := validateRequest(line); err != nil {
		return nil, err
	}

	var consumption *entity.MaterialConsumption
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		switch line.SourceType {
		case entity.SourceTypeLot:
			consumption, err = s.consumeFromLot(txCtx, batchID, line)
		default:
			consumption, err = s.consumeFromVendorAccount(txCtx, batchID, line)
		}
		if err != nil {
			return err
		}

		if err := s.materialRepo.CreateConsumption(txCtx, consumption); err != nil {
			return fmt.Errorf("create material consumption: %w", err)
		}

		return appendEvent(txCtx, s.eventRepo, event.NewEvent(event.TypeMaterialConsumed, 0, batchID,
			map[string]interface{}{
				"source_type": consumption.SourceType,
				"lot_id":      consumption.LotID,
				"unit_type":   consumption.UnitType,
				"amount":      consumption.Amount().Value().String(),
			}))
	})
	if err != nil {
		s.logger.Error("Failed to consume material", "error", err, "batch_id", batchID, "source_type", line.SourceType)
		return nil, err
	}

	s.logger.Info("Material consumed",
		"batch_id", batchID,
		"source_type", consumption.SourceType,
		"lot_id", consumption.LotID,
		"amount", consumption.Amount().Value().String())
	return consumption, nil
}

func (s *inventoryServiceImpl) consumeFromLot(ctx context.Context, batchID int64, line ConsumptionLine) (*entity.MaterialConsumption, error) {
	lot, err := s.materialRepo.GetLot(ctx, line.LotID)
	if err != nil {
		return nil, fmt.Errorf("get lot: %w", err)
	}
	if lot == nil {
		return nil, ledger.NotFound("lot", line.LotID)
	}
	if err := checkAmount("amount", line.Amount, lot.UnitType); err != nil {
		return nil, err
	}

	if err := debitLot(lot, line.Amount); err != nil {
		return nil, err
	}
	if err := s.materialRepo.UpdateLotAvailability(ctx, lot); err != nil {
		return nil, fmt.Errorf("update lot: %w", err)
	}

	return &entity.MaterialConsumption{
		BatchID:    batchID,
		SourceType: entity.SourceTypeLot,
		LotID:      lot.ID,
		UnitType:   lot.UnitType,
		Quantity:   line.Amount.Quantity,
		Pieces:     line.Amount.Pieces,
	}, nil
}

func (s *inventoryServiceImpl) consumeFromVendorAccount(ctx context.Context, batchID int64, line ConsumptionLine) (*entity.MaterialConsumption, error) {
	account, err := s.materialRepo.GetVendorAccount(ctx, line.VendorAccountID)
	if err != nil {
		return nil, fmt.Errorf("get vendor account: %w", err)
	}
	if account == nil {
		return nil, ledger.NotFound("vendor account", line.VendorAccountID)
	}
	if err := checkAmount("amount", line.Amount, account.UnitType); err != nil {
		return nil, err
	}

	if err := debitVendorAccount(account, line.Amount); err != nil {
		return nil, err
	}
	if err := s.materialRepo.UpdateVendorAccountAvailability(ctx, account); err != nil {
		return nil, fmt.Errorf("update vendor account: %w", err)
	}

	accountID := account.ID
	return &entity.MaterialConsumption{
		BatchID:         batchID,
		SourceType:      entity.SourceTypeVendorAccount,
		LotID:           account.LotID,
		VendorAccountID: &accountID,
		UnitType:        account.UnitType,
		Quantity:        line.Amount.Quantity,
		Pieces:          line.Amount.Pieces,
	}, nil
}

func (s *inventoryServiceImpl) Restore(ctx context.Context, line *entity.MaterialConsumption) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		switch line.SourceType {
		case entity.SourceTypeLot:
			lot, err := s.materialRepo.GetLot(txCtx, line.LotID)
			if err != nil {
				return fmt.Errorf("get lot: %w", err)
			}
			if lot == nil {
				return ledger.NotFound("lot", line.LotID)
			}
			creditLot(lot, line.Amount())
			if err := s.materialRepo.UpdateLotAvailability(txCtx, lot); err != nil {
				return fmt.Errorf("update lot: %w", err)
			}

		case entity.SourceTypeVendorAccount:
			if line.VendorAccountID == nil {
				return ledger.Inconsistent(line.BatchID, "restore material",
					"consumption line %d has no vendor account", line.ID)
			}
			account, err := s.materialRepo.GetVendorAccount(txCtx, *line.VendorAccountID)
			if err != nil {
				return fmt.Errorf("get vendor account: %w", err)
			}
			if account == nil {
				return ledger.NotFound("vendor account", *line.VendorAccountID)
			}
			creditVendorAccount(account, line.Amount())
			if err := s.materialRepo.UpdateVendorAccountAvailability(txCtx, account); err != nil {
				return fmt.Errorf("update vendor account: %w", err)
			}

		default:
			return ledger.Invalid("source_type", "unknown source %q", line.SourceType)
		}

		return appendEvent(txCtx, s.eventRepo, event.NewEvent(event.TypeMaterialRestored, 0, line.BatchID,
			map[string]interface{}{
				"source_type": line.SourceType,
				"lot_id":      line.LotID,
				"amount":      line.Amount().Value().String(),
			}))
	})
	if err != nil {
		s.logger.Error("Failed to restore material", "error", err, "consumption_id", line.ID)
		return err
	}

	s.logger.Info("Material restored", "consumption_id", line.ID, "source_type", line.SourceType)
	return nil
}

func (s *inventoryServiceImpl) Transfer(ctx context.Context, req TransferRequest) (*entity.VendorInventoryAccount, error) {
	req.VendorRef = utils.SanitizeString(req.VendorRef)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var account *entity.VendorInventoryAccount
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		lot, err := s.materialRepo.GetLot(txCtx, req.LotID)
		if err != nil {
			return fmt.Errorf("get lot: %w", err)
		}
		if lot == nil {
			return ledger.NotFound("lot", req.LotID)
		}
		if err := checkAmount("amount", req.Amount, lot.UnitType); err != nil {
			return err
		}

		if err := debitLot(lot, req.Amount); err != nil {
			return err
		}
		if err := s.materialRepo.UpdateLotAvailability(txCtx, lot); err != nil {
			return fmt.Errorf("update lot: %w", err)
		}

		account, err = s.materialRepo.FindVendorAccount(txCtx, req.VendorRef, lot.ID)
		if err != nil {
			return fmt.Errorf("find vendor account: %w", err)
		}
		if account == nil {
			account = &entity.VendorInventoryAccount{
				VendorRef: req.VendorRef,
				LotID:     lot.ID,
				UnitType:  lot.UnitType,
			}
			creditVendorAccount(account, req.Amount)
			if err := s.materialRepo.CreateVendorAccount(txCtx, account); err != nil {
				return fmt.Errorf("create vendor account: %w", err)
			}
		} else {
			creditVendorAccount(account, req.Amount)
			if err := s.materialRepo.UpdateVendorAccountAvailability(txCtx, account); err != nil {
				return fmt.Errorf("update vendor account: %w", err)
			}
		}

		return appendEvent(txCtx, s.eventRepo, event.NewEvent(event.TypeMaterialTransfer, 0, 0,
			map[string]interface{}{
				"lot_id":     lot.ID,
				"vendor_ref": req.VendorRef,
				"amount":     req.Amount.Value().String(),
			}))
	})
	if err != nil {
		s.logger.Error("Failed to transfer material", "error", err, "lot_id", req.LotID, "vendor_ref", req.VendorRef)
		return nil, err
	}

	s.logger.Info("Material transferred", "lot_id", req.LotID, "vendor_ref", req.VendorRef, "account_id", account.ID)
	return account, nil
}

func (s *inventoryServiceImpl) Return(ctx context.Context, accountID int64, amount entity.MaterialAmount) (*entity.RawMaterialLot, error) {
	var lot *entity.RawMaterialLot
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		account, err := s.materialRepo.GetVendorAccount(txCtx, accountID)
		if err != nil {
			return fmt.Errorf("get vendor account: %w", err)
		}
		if account == nil {
			return ledger.NotFound("vendor account", accountID)
		}
		if err := checkAmount("amount", amount, account.UnitType); err != nil {
			return err
		}

		if err := debitVendorAccount(account, amount); err != nil {
			return err
		}
		if err := s.materialRepo.UpdateVendorAccountAvailability(txCtx, account); err != nil {
			return fmt.Errorf("update vendor account: %w", err)
		}

		lot, err = s.materialRepo.GetLot(txCtx, account.LotID)
		if err != nil {
			return fmt.Errorf("get lot: %w", err)
		}
		if lot == nil {
			return ledger.NotFound("lot", account.LotID)
		}
		creditLot(lot, amount)
		if err := s.materialRepo.UpdateLotAvailability(txCtx, lot); err != nil {
			return fmt.Errorf("update lot: %w", err)
		}

		return appendEvent(txCtx, s.eventRepo, event.NewEvent(event.TypeMaterialReturned, 0, 0,
			map[string]interface{}{
				"account_id": accountID,
				"lot_id":     lot.ID,
				"amount":     amount.Value().String(),
			}))
	})
	if err != nil {
		s.logger.Error("Failed to return material", "error", err, "account_id", accountID)
		return nil, err
	}

	s.logger.Info("Material returned", "account_id", accountID, "lot_id", lot.ID)
	return lot, nil
}

func debitLot(lot *entity.RawMaterialLot, amount entity.MaterialAmount) error {
	if lot.UnitType == entity.UnitTypePieces {
		if lot.AvailablePieces < amount.Pieces {
			return &ledger.InsufficientMaterialError{
				SourceType: entity.SourceTypeLot,
				SourceID:   lot.ID,
				UnitType:   lot.UnitType,
				Available:  decimal.NewFromInt(lot.AvailablePieces),
				Requested:  decimal.NewFromInt(amount.Pieces),
			}
		}
		lot.AvailablePieces -= amount.Pieces
		return nil
	}

	if lot.AvailableQuantity.LessThan(amount.Quantity) {
		return &ledger.InsufficientMaterialError{
			SourceType: entity.SourceTypeLot,
			SourceID:   lot.ID,
			UnitType:   lot.UnitType,
			Available:  lot.AvailableQuantity,
			Requested:  amount.Quantity,
		}
	}
	lot.AvailableQuantity = lot.AvailableQuantity.Sub(amount.Quantity)
	return nil
}

func creditLot(lot *entity.RawMaterialLot, amount entity.MaterialAmount) {
	if lot.UnitType == entity.UnitTypePieces {
		lot.AvailablePieces += amount.Pieces
		return
	}
	lot.AvailableQuantity = lot.AvailableQuantity.Add(amount.Quantity)
}

func debitVendorAccount(account *entity.VendorInventoryAccount, amount entity.MaterialAmount) error {
	if account.UnitType == entity.UnitTypePieces {
		if account.AvailablePieces < amount.Pieces {
			return &ledger.InsufficientMaterialError{
				SourceType: entity.SourceTypeVendorAccount,
				SourceID:   account.ID,
				UnitType:   account.UnitType,
				Available:  decimal.NewFromInt(account.AvailablePieces),
				Requested:  decimal.NewFromInt(amount.Pieces),
			}
		}
		account.AvailablePieces -= amount.Pieces
		return nil
	}

	if account.AvailableQuantity.LessThan(amount.Quantity) {
		return &ledger.InsufficientMaterialError{
			SourceType: entity.SourceTypeVendorAccount,
			SourceID:   account.ID,
			UnitType:   account.UnitType,
			Available:  account.AvailableQuantity,
			Requested:  amount.Quantity,
		}
	}
	account.AvailableQuantity = account.AvailableQuantity.Sub(amount.Quantity)
	return nil
}

func creditVendorAccount(account *entity.VendorInventoryAccount, amount entity.MaterialAmount) {
	if account.UnitType == entity.UnitTypePieces {
		account.AvailablePieces += amount.Pieces
		return
	}
	account.AvailableQuantity = account.AvailableQuantity.Add(amount.Quantity)
}
