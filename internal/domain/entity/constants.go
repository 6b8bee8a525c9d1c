package entity

// Operation batch kinds
const (
	BatchKindInHouse        = "IN_HOUSE"
	BatchKindVendorDispatch = "VENDOR_DISPATCH"
)

// Material unit types
const (
	UnitTypeQuantity = "QUANTITY" // measured by weight or volume
	UnitTypePieces   = "PIECES"   // counted discretely
)

// Material consumption source types
const (
	SourceTypeLot           = "LOT"
	SourceTypeVendorAccount = "VENDOR_ACCOUNT"
)
