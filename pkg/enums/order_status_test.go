package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusFailed, true},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusPaid, OrderStatusShipped, true},
		{OrderStatusPaid, OrderStatusRefunded, true},
		{OrderStatusPaid, OrderStatusCancelled, false},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusDelivered, OrderStatusRefunded, true},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusFailed, OrderStatusPaid, false},
		{OrderStatusRefunded, OrderStatusPaid, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatusesHaveNoWayBack(t *testing.T) {
	for _, from := range validOrderStatuses {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range validOrderStatuses {
			if to.IsTerminal() {
				continue
			}
			assert.Falsef(t, from.CanTransitionTo(to), "%s must not reach %s", from, to)
		}
	}
}

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus(" PAID ")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPaid, status)

	_, err = ParseOrderStatus("lost")
	require.Error(t, err)
}

func TestParseStockMovementType(t *testing.T) {
	kind, err := ParseStockMovementType("Restock")
	require.NoError(t, err)
	assert.Equal(t, StockMovementRestock, kind)

	_, err = ParseStockMovementType("theft")
	require.Error(t, err)
}
