package enums

import "fmt"

// StockAction is the admin-facing verb for a manual stock change.
type StockAction string

const (
	// StockActionSet replaces the quantity with an absolute value.
	StockActionSet StockAction = "set"
	// StockActionAdd restocks by a positive amount.
	StockActionAdd StockAction = "add"
	// StockActionAdjust applies a signed correction.
	StockActionAdjust StockAction = "adjust"
	// StockActionDamage writes off damaged units.
	StockActionDamage StockAction = "damage"
)

var validStockActions = []StockAction{
	StockActionSet,
	StockActionAdd,
	StockActionAdjust,
	StockActionDamage,
}

func (a StockAction) IsValid() bool {
	for _, candidate := range validStockActions {
		if candidate == a {
			return true
		}
	}
	return false
}

func ParseStockAction(value string) (StockAction, error) {
	for _, candidate := range validStockActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock action %q", value)
}
