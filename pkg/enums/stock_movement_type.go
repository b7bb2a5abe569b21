package enums

import (
	"fmt"
	"strings"
)

// StockMovementType classifies a ledger row.
type StockMovementType string

const (
	StockMovementSale       StockMovementType = "sale"
	StockMovementReturn     StockMovementType = "return"
	StockMovementRestock    StockMovementType = "restock"
	StockMovementAdjustment StockMovementType = "adjustment"
	StockMovementDamage     StockMovementType = "damage"
	StockMovementTransfer   StockMovementType = "transfer"
)

var validStockMovementTypes = []StockMovementType{
	StockMovementSale,
	StockMovementReturn,
	StockMovementRestock,
	StockMovementAdjustment,
	StockMovementDamage,
	StockMovementTransfer,
}

// String implements fmt.Stringer.
func (t StockMovementType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known StockMovementType.
func (t StockMovementType) IsValid() bool {
	for _, candidate := range validStockMovementTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseStockMovementType converts raw input into a StockMovementType.
func ParseStockMovementType(value string) (StockMovementType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validStockMovementTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock movement type %q", value)
}
