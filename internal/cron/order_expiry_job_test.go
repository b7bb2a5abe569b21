package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront/internal/ledger"
	"github.com/angelmondragon/storefront/internal/notifications"
	"github.com/angelmondragon/storefront/internal/orders"
	"github.com/angelmondragon/storefront/pkg/db/dbtest"
	"github.com/angelmondragon/storefront/pkg/enums"
	"github.com/angelmondragon/storefront/pkg/logger"
)

type fakeSessions struct {
	mu      sync.Mutex
	expired []string
	refuse  map[string]bool
	status  map[string]stripe.CheckoutSessionStatus
}

func (f *fakeSessions) Status(_ context.Context, id string) (stripe.CheckoutSessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.status[id]
	if !ok {
		return "", errors.New("no such checkout session")
	}
	return status, nil
}

func (f *fakeSessions) Expire(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse[id] {
		return errors.New("session is complete")
	}
	f.expired = append(f.expired, id)
	return nil
}

type countingDispatcher struct {
	sent []notifications.Notification
}

func (c *countingDispatcher) Dispatch(_ context.Context, n notifications.Notification) {
	c.sent = append(c.sent, n)
}

func TestOrderExpiryJobCancelsAbandonedOrders(t *testing.T) {
	client := dbtest.Open(t)
	ctx := context.Background()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()), client)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.NewRepository(client.DB()), client, ledgerSvc)
	require.NoError(t, err)

	product := dbtest.SeedProduct(t, client, "Mug", "8.00", 10)
	for _, ref := range []string{"cs_old", "cs_paid_late", "cs_refused"} {
		_, err := orderSvc.CreateOrder(ctx, orders.CreateOrderInput{
			PaymentRef:    ref,
			Items:         []orders.OrderLine{{ProductID: product.ID, ProductName: product.Name, Quantity: 1, UnitPrice: product.Price}},
			Subtotal:      product.Price,
			Discount:      decimal.Zero,
			Total:         product.Price,
			CustomerEmail: "buyer@example.com",
			CustomerID:    "cust-1",
		})
		require.NoError(t, err)
	}
	_, err = orderSvc.UpdateOrderStatus(ctx, "cs_paid_late", enums.OrderStatusPaid)
	require.NoError(t, err)

	sessions := &fakeSessions{refuse: map[string]bool{"cs_refused": true}}
	dispatcher := &countingDispatcher{}
	job, err := NewOrderExpiryJob(OrderExpiryJobParams{
		Logger:     logger.Discard(),
		Orders:     orderSvc,
		Payments:   sessions,
		Dispatcher: dispatcher,
		TTL:        time.Hour,
		Now:        func() time.Time { return time.Now().Add(2 * time.Hour) },
	})
	require.NoError(t, err)
	assert.Equal(t, OrderExpiryJobName, job.Name())

	rows, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	assert.Equal(t, []string{"cs_old"}, sessions.expired)
	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, enums.NotificationTypeOrderCancelled, dispatcher.sent[0].Type)

	old, err := orderSvc.GetOrderByPaymentRef(ctx, "cs_old")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, old.Status)
	assert.NotNil(t, old.CancelledAt)

	refused, err := orderSvc.GetOrderByPaymentRef(ctx, "cs_refused")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, refused.Status)

	paid, err := orderSvc.GetOrderByPaymentRef(ctx, "cs_paid_late")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, paid.Status)
}

func TestOrderExpiryJobSweepsPastRefusedSessions(t *testing.T) {
	client := dbtest.Open(t)
	ctx := context.Background()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()), client)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.NewRepository(client.DB()), client, ledgerSvc)
	require.NoError(t, err)

	product := dbtest.SeedProduct(t, client, "Mug", "8.00", 10)
	// oldest first; the first three all refuse Expire
	refs := []string{"cs_lapsed_at_stripe", "cs_paid_in_flight", "cs_lookup_fails", "cs_abandoned"}
	for _, ref := range refs {
		_, err := orderSvc.CreateOrder(ctx, orders.CreateOrderInput{
			PaymentRef:    ref,
			Items:         []orders.OrderLine{{ProductID: product.ID, ProductName: product.Name, Quantity: 1, UnitPrice: product.Price}},
			Subtotal:      product.Price,
			Discount:      decimal.Zero,
			Total:         product.Price,
			CustomerEmail: "buyer@example.com",
			CustomerID:    "cust-1",
		})
		require.NoError(t, err)
	}

	sessions := &fakeSessions{
		refuse: map[string]bool{"cs_lapsed_at_stripe": true, "cs_paid_in_flight": true, "cs_lookup_fails": true},
		status: map[string]stripe.CheckoutSessionStatus{
			"cs_lapsed_at_stripe": stripe.CheckoutSessionStatusExpired,
			"cs_paid_in_flight":   stripe.CheckoutSessionStatusComplete,
		},
	}
	job, err := NewOrderExpiryJob(OrderExpiryJobParams{
		Logger:    logger.Discard(),
		Orders:    orderSvc,
		Payments:  sessions,
		TTL:       time.Hour,
		BatchSize: 1,
		Now:       func() time.Time { return time.Now().Add(2 * time.Hour) },
	})
	require.NoError(t, err)

	rows, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	assert.Equal(t, []string{"cs_abandoned"}, sessions.expired)

	want := map[string]enums.OrderStatus{
		"cs_lapsed_at_stripe": enums.OrderStatusCancelled,
		"cs_paid_in_flight":   enums.OrderStatusPending,
		"cs_lookup_fails":     enums.OrderStatusPending,
		"cs_abandoned":        enums.OrderStatusCancelled,
	}
	for ref, status := range want {
		order, err := orderSvc.GetOrderByPaymentRef(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, status, order.Status, ref)
	}

	rows, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rows, "skipped orders stay pending without blocking later runs")
}

func TestOrderExpiryJobLeavesFreshOrders(t *testing.T) {
	client := dbtest.Open(t)
	ctx := context.Background()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()), client)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.NewRepository(client.DB()), client, ledgerSvc)
	require.NoError(t, err)
	product := dbtest.SeedProduct(t, client, "Tee", "20.00", 1)
	_, err = orderSvc.CreateOrder(ctx, orders.CreateOrderInput{
		PaymentRef:    "cs_fresh",
		Items:         []orders.OrderLine{{ProductID: product.ID, ProductName: product.Name, Quantity: 1, UnitPrice: product.Price}},
		Subtotal:      product.Price,
		Discount:      decimal.Zero,
		Total:         product.Price,
		CustomerEmail: "buyer@example.com",
		CustomerID:    "cust-1",
	})
	require.NoError(t, err)

	sessions := &fakeSessions{}
	job, err := NewOrderExpiryJob(OrderExpiryJobParams{Logger: logger.Discard(), Orders: orderSvc, Payments: sessions})
	require.NoError(t, err)

	rows, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rows)
	assert.Empty(t, sessions.expired)
}

func TestNewOrderExpiryJobValidates(t *testing.T) {
	_, err := NewOrderExpiryJob(OrderExpiryJobParams{})
	assert.Error(t, err)
	_, err = NewOrderExpiryJob(OrderExpiryJobParams{Logger: logger.Discard()})
	assert.Error(t, err)
}
