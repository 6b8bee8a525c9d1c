package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawMaterialLot is a quantity of raw material received under one heat number
type RawMaterialLot struct {
	ID                int64           `json:"id"`
	TenantID          string          `json:"tenant_id"`
	HeatNumber        string          `json:"heat_number"`
	Material          string          `json:"material"`
	UnitType          string          `json:"unit_type"`
	TotalQuantity     decimal.Decimal `json:"total_quantity"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	TotalPieces       int64           `json:"total_pieces"`
	AvailablePieces   int64           `json:"available_pieces"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// VendorInventoryAccount holds material from a lot that sits at a vendor
type VendorInventoryAccount struct {
	ID                int64           `json:"id"`
	TenantID          string          `json:"tenant_id"`
	VendorRef         string          `json:"vendor_ref"`
	LotID             int64           `json:"lot_id"`
	UnitType          string          `json:"unit_type"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	AvailablePieces   int64           `json:"available_pieces"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// MaterialConsumption is one line of material drawn by a first-operation batch
type MaterialConsumption struct {
	ID              int64           `json:"id"`
	TenantID        string          `json:"tenant_id"`
	BatchID         int64           `json:"batch_id"`
	SourceType      string          `json:"source_type"`
	LotID           int64           `json:"lot_id"`
	VendorAccountID *int64          `json:"vendor_account_id,omitempty"`
	UnitType        string          `json:"unit_type"`
	Quantity        decimal.Decimal `json:"quantity"`
	Pieces          int64           `json:"pieces"`
	CreatedAt       time.Time       `json:"created_at"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
}

// Amount returns the consumed amount as a material amount
func (c *MaterialConsumption) Amount() MaterialAmount {
	return MaterialAmount{Quantity: c.Quantity, Pieces: c.Pieces}
}

// MaterialAmount is an amount of material in exactly one unit
type MaterialAmount struct {
	Quantity decimal.Decimal `json:"quantity"`
	Pieces   int64           `json:"pieces"`
}

// UnitType returns the unit the amount is expressed in.
// It returns "" unless exactly one of Quantity and Pieces is positive and the other is zero.
func (a MaterialAmount) UnitType() string {
	hasQty := a.Quantity.IsPositive()
	hasPieces := a.Pieces > 0
	switch {
	case hasQty && a.Pieces == 0:
		return UnitTypeQuantity
	case hasPieces && a.Quantity.IsZero():
		return UnitTypePieces
	default:
		return ""
	}
}

// Value returns the amount as a decimal regardless of unit
func (a MaterialAmount) Value() decimal.Decimal {
	if a.UnitType() == UnitTypePieces {
		return decimal.NewFromInt(a.Pieces)
	}
	return a.Quantity
}
