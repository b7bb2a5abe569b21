// Package orders owns the order state machine. Moving an order to PAID
// re-checks stock under row locks and records one SALE movement per line in
// the same transaction, so a payment reference can decrement stock at most
// once.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront/internal/ledger"
	"github.com/angelmondragon/storefront/pkg/db"
	"github.com/angelmondragon/storefront/pkg/db/models"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/pagination"
	"github.com/angelmondragon/storefront/pkg/tracing"
)

const paymentRefConstraint = "orders_payment_ref_key"

type Service struct {
	repo  Repository
	tx    txRunner
	stock StockMover
	now   func() time.Time
	logg  *logger.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(s *Service) { s.logg = logg }
}

func NewService(repo Repository, tx txRunner, stock StockMover, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock mover required")
	}
	s := &Service{repo: repo, tx: tx, stock: stock, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CheckStockAvailability compares requested quantities with current stock in
// a single read without locks. Repeated product ids are summed. Unknown
// products are reported as shortfalls with zero available.
func (s *Service) CheckStockAvailability(ctx context.Context, items []LineItem) (*Availability, error) {
	requested, order, err := aggregate(items)
	if err != nil {
		return nil, err
	}

	products, err := s.repo.FindProducts(ctx, order, false)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load products")
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	result := &Availability{Available: true, Products: byID}
	for _, id := range order {
		qty := requested[id]
		product, ok := byID[id]
		if !ok {
			result.InsufficientItems = append(result.InsufficientItems, pkgerrors.StockShortfall{
				ProductID: id.String(),
				Requested: qty,
				Available: 0,
			})
			continue
		}
		if product.Stock < qty {
			result.InsufficientItems = append(result.InsufficientItems, pkgerrors.StockShortfall{
				ProductID:   id.String(),
				ProductName: product.Name,
				Requested:   qty,
				Available:   product.Stock,
			})
		}
	}
	result.Available = len(result.InsufficientItems) == 0
	return result, nil
}

// aggregate sums quantities per product and keeps first-seen order.
func aggregate(items []LineItem) (map[uuid.UUID]int, []uuid.UUID, error) {
	if len(items) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	requested := make(map[uuid.UUID]int, len(items))
	order := make([]uuid.UUID, 0, len(items))
	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: product id is required", i))
		}
		if item.Quantity <= 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
		if _, seen := requested[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}
	return requested, order, nil
}

// CreateOrder stores a PENDING order with its items in one transaction. The
// totals are persisted exactly as supplied.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:             input.OrderID,
		Status:         enums.OrderStatusPending,
		PaymentRef:     strings.TrimSpace(input.PaymentRef),
		Subtotal:       input.Subtotal,
		DiscountAmount: input.Discount,
		TotalAmount:    input.Total,
		PromoCode:      input.PromoCode,
		CustomerEmail:  input.CustomerEmail,
		CustomerID:     input.CustomerID,
		Items:          make([]models.OrderItem, 0, len(input.Items)),
	}
	for _, line := range input.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).CreateOrder(ctx, order)
	})
	if err != nil {
		if db.IsUniqueViolation(err, paymentRefConstraint) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment reference already used")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
	}
	return order, nil
}

func validateCreate(input CreateOrderInput) error {
	switch {
	case strings.TrimSpace(input.PaymentRef) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	case len(input.Items) == 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	case strings.TrimSpace(input.CustomerID) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	case input.Subtotal.IsNegative(), input.Discount.IsNegative(), input.Total.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "order amounts cannot be negative")
	}
	for i, line := range input.Items {
		if line.ProductID == uuid.Nil || line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: product and positive quantity required", i))
		}
		if line.UnitPrice.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: unit price cannot be negative", i))
		}
	}
	return nil
}

// UpdateOrderStatus moves the order identified by paymentRef to next.
// Repeating a transition that already happened returns Applied=false, as does
// asking for PAID on an order that is past it.
func (s *Service) UpdateOrderStatus(ctx context.Context, paymentRef string, next enums.OrderStatus) (*Transition, error) {
	if strings.TrimSpace(paymentRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	if !next.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", next))
	}

	ctx, span := tracing.Start(ctx, "orders.update_status",
		attribute.String("order.payment_ref", paymentRef),
		attribute.String("order.next_status", string(next)),
	)

	var (
		result    *Transition
		movements []*ledger.MovementResult
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByPaymentRef(ctx, paymentRef, true)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.OrderNotFound(paymentRef)
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
		}

		if order.Status == next || (next == enums.OrderStatusPaid && order.Status.IsPaidOrLater()) {
			result = &Transition{Order: order}
			return nil
		}
		if !order.Status.CanTransitionTo(next) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move order from %s to %s", order.Status, next)).
				WithDetails(TransitionConflictDetails{From: order.Status, To: next})
		}

		now := s.now().UTC()
		updates := map[string]any{"status": next, "updated_at": now}
		switch next {
		case enums.OrderStatusPaid:
			movements, err = s.decrementStock(ctx, tx, repo, order)
			if err != nil {
				return err
			}
			updates["paid_at"] = now
			order.PaidAt = &now
		case enums.OrderStatusCancelled:
			updates["cancelled_at"] = now
			order.CancelledAt = &now
		}

		if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
		}
		order.Status = next
		order.UpdatedAt = now
		result = &Transition{Order: order, Applied: true}
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}

	for _, m := range movements {
		s.stock.Observe(ctx, m)
	}
	if result.Applied && s.logg != nil {
		logCtx := s.logg.WithOrderRef(ctx, paymentRef)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"order_id": result.Order.ID.String(),
			"status":   string(next),
		})
		s.logg.Info(logCtx, "orders.status_changed")
	}
	return result, nil
}

// decrementStock locks every product on the order, fails with the full
// shortfall list if any line cannot be served, and otherwise records one SALE
// movement per line.
func (s *Service) decrementStock(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) ([]*ledger.MovementResult, error) {
	needed := make(map[uuid.UUID]int, len(order.Items))
	names := make(map[uuid.UUID]string, len(order.Items))
	ids := make([]uuid.UUID, 0, len(order.Items))
	for _, item := range order.Items {
		if _, seen := needed[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		needed[item.ProductID] += item.Quantity
		names[item.ProductID] = item.ProductName
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	products, err := repo.FindProducts(ctx, ids, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock products")
	}
	stock := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		stock[p.ID] = p
	}

	var shortfalls []pkgerrors.StockShortfall
	for _, id := range ids {
		product, ok := stock[id]
		available := 0
		name := names[id]
		if ok {
			available = product.Stock
			name = product.Name
		}
		if available < needed[id] {
			shortfalls = append(shortfalls, pkgerrors.StockShortfall{
				ProductID:   id.String(),
				ProductName: name,
				Requested:   needed[id],
				Available:   available,
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, pkgerrors.InsufficientStock(shortfalls)
	}

	orderID := order.ID
	results := make([]*ledger.MovementResult, 0, len(order.Items))
	for _, item := range order.Items {
		res, err := s.stock.RecordMovementTx(ctx, tx, ledger.MovementInput{
			ProductID: item.ProductID,
			Quantity:  -item.Quantity,
			Type:      enums.StockMovementSale,
			Reason:    "order " + order.PaymentRef,
			OrderID:   &orderID,
		})
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

// GetOrderForCustomer hides other customers' orders behind NOT_FOUND.
func (s *Service) GetOrderForCustomer(ctx context.Context, id uuid.UUID, customerID string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *Service) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*models.Order, error) {
	order, err := s.repo.FindByPaymentRef(ctx, paymentRef, false)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.OrderNotFound(paymentRef)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

// ExpirePendingBefore lists PENDING orders created before cutoff, oldest
// first, resuming after the given row when after is set. It does not change
// them.
func (s *Service) ExpirePendingBefore(ctx context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.Order, error) {
	orders, err := s.repo.ListPendingBefore(ctx, cutoff.UTC(), after, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending orders")
	}
	return orders, nil
}

func (s *Service) ListOrders(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListOrders(ctx, filter, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	return pagination.BuildPage(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}
