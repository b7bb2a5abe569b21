// Package checkout turns a cart into a PENDING order backed by a hosted
// payment session. Prices, stock and discounts are always re-derived on the
// server; client-sent prices never reach the totals.
package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/angelmondragon/storefront/internal/orders"
	"github.com/angelmondragon/storefront/internal/promo"
	"github.com/angelmondragon/storefront/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
	pkgstripe "github.com/angelmondragon/storefront/pkg/stripe"
	"github.com/angelmondragon/storefront/pkg/tracing"
)

type stockChecker interface {
	CheckStockAvailability(ctx context.Context, items []orders.LineItem) (*orders.Availability, error)
}

type orderCreator interface {
	CreateOrder(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error)
}

type promoQuoter interface {
	Quote(ctx context.Context, code string, subtotal decimal.Decimal) (*promo.Quote, error)
}

// PaymentSessions opens and cancels hosted payment pages.
type PaymentSessions interface {
	Create(ctx context.Context, req pkgstripe.SessionRequest) (*pkgstripe.Session, error)
	Expire(ctx context.Context, sessionID string) error
}

type outcomeRecorder interface {
	CheckoutOutcome(outcome string)
}

// Settings are the static session parameters.
type Settings struct {
	Currency   string
	SuccessURL string
	CancelURL  string
	MaxLines   int
}

type Input struct {
	CustomerID    string
	CustomerEmail string
	Items         []orders.LineItem
	PromoCode     string
}

type Result struct {
	URL       string          `json:"url"`
	OrderID   uuid.UUID       `json:"orderId"`
	SessionID string          `json:"sessionId"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
}

type Service struct {
	stock    stockChecker
	orders   orderCreator
	promos   promoQuoter
	payments PaymentSessions
	settings Settings
	metrics  outcomeRecorder
	logg     *logger.Logger
}

func NewService(stock stockChecker, orders orderCreator, promos promoQuoter, payments PaymentSessions, settings Settings, rec outcomeRecorder, logg *logger.Logger) (*Service, error) {
	if stock == nil {
		return nil, fmt.Errorf("stock checker required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order creator required")
	}
	if promos == nil {
		return nil, fmt.Errorf("promo quoter required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment sessions required")
	}
	if settings.Currency == "" {
		settings.Currency = "usd"
	}
	return &Service{
		stock:    stock,
		orders:   orders,
		promos:   promos,
		payments: payments,
		settings: settings,
		metrics:  rec,
		logg:     logg,
	}, nil
}

// Execute runs a checkout for an authenticated customer.
func (s *Service) Execute(ctx context.Context, input Input) (*Result, error) {
	ctx, span := tracing.Start(ctx, "checkout.execute",
		attribute.Int("checkout.lines", len(input.Items)),
		attribute.Bool("checkout.promo", strings.TrimSpace(input.PromoCode) != ""),
	)
	result, err := s.execute(ctx, input)
	tracing.End(span, err)
	s.record(err)
	if err != nil {
		return nil, publicError(err)
	}
	return result, nil
}

func (s *Service) execute(ctx context.Context, input Input) (*Result, error) {
	if strings.TrimSpace(input.CustomerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	if s.settings.MaxLines > 0 && len(input.Items) > s.settings.MaxLines {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cart cannot exceed %d lines", s.settings.MaxLines))
	}

	availability, err := s.stock.CheckStockAvailability(ctx, input.Items)
	if err != nil {
		return nil, err
	}
	if !availability.Available {
		return nil, pkgerrors.InsufficientStock(availability.InsufficientItems)
	}

	lines, subtotal := priceLines(input.Items, availability.Products)

	discount := decimal.Zero
	var promoCode *string
	if code := promo.Normalize(input.PromoCode); code != "" {
		quote, err := s.promos.Quote(ctx, code, subtotal)
		if err != nil {
			return nil, err
		}
		discount = quote.Discount
		promoCode = &quote.Code
	}
	total := subtotal.Sub(discount).Round(2)

	orderID := uuid.New()
	req := pkgstripe.SessionRequest{
		OrderID:       orderID.String(),
		CustomerID:    input.CustomerID,
		CustomerEmail: input.CustomerEmail,
		Currency:      s.settings.Currency,
		Discount:      discount,
		SuccessURL:    s.settings.SuccessURL,
		CancelURL:     s.settings.CancelURL,
	}
	if promoCode != nil {
		req.PromoCode = *promoCode
	}
	for _, line := range lines {
		req.Lines = append(req.Lines, pkgstripe.SessionLine{
			Name:      line.ProductName,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}

	session, err := s.payments.Create(ctx, req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment session")
	}

	order, err := s.orders.CreateOrder(ctx, orders.CreateOrderInput{
		OrderID:       orderID,
		PaymentRef:    session.ID,
		Items:         lines,
		Subtotal:      subtotal,
		Discount:      discount,
		Total:         total,
		CustomerEmail: input.CustomerEmail,
		CustomerID:    input.CustomerID,
		PromoCode:     promoCode,
	})
	if err != nil {
		s.expireSession(ctx, session.ID)
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderRef(ctx, session.ID)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"order_id": order.ID.String(),
			"total":    total.StringFixed(2),
		})
		s.logg.Info(logCtx, "checkout.session_created")
	}

	return &Result{
		URL:       session.URL,
		OrderID:   order.ID,
		SessionID: session.ID,
		Subtotal:  subtotal,
		Discount:  discount,
		Total:     total,
	}, nil
}

// priceLines merges repeated products and prices each line from the server
// snapshot.
func priceLines(items []orders.LineItem, products map[uuid.UUID]models.Product) ([]orders.OrderLine, decimal.Decimal) {
	index := make(map[uuid.UUID]int, len(items))
	lines := make([]orders.OrderLine, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			lines[i].Quantity += item.Quantity
			continue
		}
		product := products[item.ProductID]
		index[item.ProductID] = len(lines)
		lines = append(lines, orders.OrderLine{
			ProductID:   item.ProductID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
		})
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return lines, subtotal.Round(2)
}

func (s *Service) expireSession(ctx context.Context, sessionID string) {
	if err := s.payments.Expire(ctx, sessionID); err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithOrderRef(ctx, sessionID), "checkout.session_expire_failed", err)
	}
}

func (s *Service) record(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.CheckoutOutcome(metrics.CheckoutCreated)
	case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
		s.metrics.CheckoutOutcome(metrics.CheckoutInsufficientStock)
	case isPromoRejection(err):
		s.metrics.CheckoutOutcome(metrics.CheckoutPromoRejected)
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation), pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized):
		s.metrics.CheckoutOutcome(metrics.CheckoutInvalid)
	default:
		s.metrics.CheckoutOutcome(metrics.CheckoutFailed)
	}
}

func isPromoRejection(err error) bool {
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return true
	}
	typed := pkgerrors.Find(err, pkgerrors.CodeValidation)
	if typed == nil {
		return false
	}
	_, ok := typed.Details().(promo.RejectionDetails)
	return ok
}

// publicError keeps client-facing categories and folds everything else into
// INTERNAL_ERROR.
func publicError(err error) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checkout failed")
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeInsufficientStock, pkgerrors.CodeNotFound,
		pkgerrors.CodeUnauthorized, pkgerrors.CodeRateLimit:
		return err
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checkout failed")
	}
}
