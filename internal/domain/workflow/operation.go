package workflow

// OperationType identifies a manufacturing step a batch of pieces passes through
type OperationType string

const (
	OperationForging           OperationType = "FORGING"
	OperationHeatTreatment     OperationType = "HEAT_TREATMENT"
	OperationShotBlasting      OperationType = "SHOT_BLASTING"
	OperationMachining         OperationType = "MACHINING"
	OperationVendorJobWork     OperationType = "VENDOR_JOB_WORK"
	OperationQualityInspection OperationType = "QUALITY_INSPECTION"
	OperationDispatch          OperationType = "DISPATCH"
)

// Kind tells whether an operation runs on the shop floor or at an outside vendor
type Kind string

const (
	KindInHouse Kind = "IN_HOUSE"
	KindVendor  Kind = "VENDOR"
)

var operationKinds = map[OperationType]Kind{
	OperationForging:           KindInHouse,
	OperationHeatTreatment:     KindVendor,
	OperationShotBlasting:      KindVendor,
	OperationMachining:         KindInHouse,
	OperationVendorJobWork:     KindVendor,
	OperationQualityInspection: KindInHouse,
	OperationDispatch:          KindInHouse,
}

// String returns the string representation of the operation type
func (o OperationType) String() string {
	return string(o)
}

// IsValid returns true if the operation type is known
func (o OperationType) IsValid() bool {
	_, ok := operationKinds[o]
	return ok
}

// Kind returns where the operation is performed. Unknown operations report KindInHouse.
func (o OperationType) Kind() Kind {
	if k, ok := operationKinds[o]; ok {
		return k
	}
	return KindInHouse
}

// IsVendor returns true if the operation is performed by an outside vendor
func (o OperationType) IsVendor() bool {
	return o.Kind() == KindVendor
}

// ParseOperationType converts a raw string into a known operation type
func ParseOperationType(s string) (OperationType, error) {
	op := OperationType(s)
	if !op.IsValid() {
		return "", ErrInvalidOperation
	}
	return op, nil
}

// AllOperationTypes lists every known operation type in catalogue order
func AllOperationTypes() []OperationType {
	return []OperationType{
		OperationForging,
		OperationHeatTreatment,
		OperationShotBlasting,
		OperationMachining,
		OperationVendorJobWork,
		OperationQualityInspection,
		OperationDispatch,
	}
}
