package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v84"
	"go.opentelemetry.io/otel/attribute"

	"github.com/angelmondragon/storefront/internal/notifications"
	"github.com/angelmondragon/storefront/internal/orders"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
	"github.com/angelmondragon/storefront/pkg/tracing"
)

// Warnings reported back to the provider with a 200 so it stops retrying.
const (
	WarningInsufficientStock = "insufficient_stock"
	WarningOrderNotFound     = "order_not_found"
	WarningStateConflict     = "state_conflict"
)

// Metric outcomes.
const (
	outcomeApplied  = "applied"
	outcomeNoop     = "noop"
	outcomeIgnored  = "ignored"
	outcomeWarning  = "warning"
	outcomeAdvisory = "advisory"
	outcomeFailed   = "failed"
)

type orderTransitioner interface {
	UpdateOrderStatus(ctx context.Context, paymentRef string, next enums.OrderStatus) (*orders.Transition, error)
}

type promoRedeemer interface {
	Redeem(ctx context.Context, code string) error
}

type eventRecorder interface {
	WebhookEvent(eventType, outcome string)
}

// Outcome is the non-fatal result of an event. Warning is empty when the
// event was applied or safely ignored.
type Outcome struct {
	Warning string `json:"warning,omitempty"`
}

type ServiceParams struct {
	Orders     orderTransitioner
	Promos     promoRedeemer
	Dispatcher notifications.Dispatcher
	Metrics    eventRecorder
	Logger     *logger.Logger
	Now        func() time.Time
}

type Service struct {
	orders     orderTransitioner
	promos     promoRedeemer
	dispatcher notifications.Dispatcher
	metrics    eventRecorder
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order service required")
	}
	if params.Promos == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "promo service required")
	}
	if params.Dispatcher == nil {
		params.Dispatcher = notifications.NewLogDispatcher(params.Logger)
	}
	if params.Logger == nil {
		params.Logger = logger.Discard()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		orders:     params.Orders,
		promos:     params.Promos,
		dispatcher: params.Dispatcher,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        params.Now,
	}, nil
}

// HandleEvent reconciles one verified provider event against the order
// lifecycle. Business outcomes that retrying cannot fix come back as a
// warning; a returned error means the provider should retry.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (out Outcome, err error) {
	if event == nil || event.Data == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	eventType := string(event.Type)
	ctx, span := tracing.Start(ctx, "webhooks.stripe.handle_event",
		attribute.String("stripe.event_id", event.ID),
		attribute.String("stripe.event_type", eventType),
	)
	defer func() { tracing.End(span, err) }()
	ctx = s.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": eventType})

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		session, err := decodeSession(event)
		if err != nil {
			return s.fail(eventType, err)
		}
		switch session.PaymentStatus {
		case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
			return s.markPaid(ctx, eventType, session)
		default:
			s.logg.Info(s.logg.WithOrderRef(ctx, session.ID), "webhook.session_completed_unpaid")
			s.record(eventType, outcomeAdvisory)
			return Outcome{}, nil
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		session, err := decodeSession(event)
		if err != nil {
			return s.fail(eventType, err)
		}
		return s.markPaid(ctx, eventType, session)
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		session, err := decodeSession(event)
		if err != nil {
			return s.fail(eventType, err)
		}
		return s.transition(ctx, eventType, session.ID, enums.OrderStatusFailed)
	case stripe.EventTypeCheckoutSessionExpired:
		session, err := decodeSession(event)
		if err != nil {
			return s.fail(eventType, err)
		}
		return s.transition(ctx, eventType, session.ID, enums.OrderStatusCancelled)
	case stripe.EventTypePaymentIntentPaymentFailed:
		s.logg.Warn(ctx, "webhook.payment_intent_failed")
		s.record(eventType, outcomeAdvisory)
		return Outcome{}, nil
	default:
		s.logg.Debug(ctx, "webhook.event_ignored")
		s.record(eventType, outcomeIgnored)
		return Outcome{}, nil
	}
}

func (s *Service) markPaid(ctx context.Context, eventType string, session *stripe.CheckoutSession) (Outcome, error) {
	ctx = s.logg.WithOrderRef(ctx, session.ID)
	result, err := s.orders.UpdateOrderStatus(ctx, session.ID, enums.OrderStatusPaid)
	if err != nil {
		return s.classify(ctx, eventType, err)
	}
	if !result.Applied {
		s.logg.Info(ctx, "webhook.order_already_paid")
		s.record(eventType, outcomeNoop)
		return Outcome{}, nil
	}

	order := result.Order
	if order.PromoCode != nil && *order.PromoCode != "" {
		if err := s.promos.Redeem(ctx, *order.PromoCode); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "promo_code", *order.PromoCode), "webhook.promo_redeem_failed", err)
		}
	}
	s.dispatcher.Dispatch(ctx, notifications.ForOrder(enums.NotificationTypeOrderConfirmed, *order, s.now()))
	s.record(eventType, outcomeApplied)
	return Outcome{}, nil
}

func (s *Service) transition(ctx context.Context, eventType, paymentRef string, next enums.OrderStatus) (Outcome, error) {
	ctx = s.logg.WithOrderRef(ctx, paymentRef)
	result, err := s.orders.UpdateOrderStatus(ctx, paymentRef, next)
	if err != nil {
		return s.classify(ctx, eventType, err)
	}
	if !result.Applied {
		s.record(eventType, outcomeNoop)
		return Outcome{}, nil
	}
	if next == enums.OrderStatusCancelled {
		s.dispatcher.Dispatch(ctx, notifications.ForOrder(enums.NotificationTypeOrderCancelled, *result.Order, s.now()))
	}
	s.record(eventType, outcomeApplied)
	return Outcome{}, nil
}

// classify turns terminal business errors into warnings and lets the rest
// propagate for a retry.
func (s *Service) classify(ctx context.Context, eventType string, err error) (Outcome, error) {
	var warning string
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
		warning = WarningInsufficientStock
	case pkgerrors.IsCode(err, pkgerrors.CodeOrderNotFound):
		warning = WarningOrderNotFound
	case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
		warning = WarningStateConflict
	default:
		s.logg.Error(ctx, "webhook.reconcile_failed", err)
		return s.fail(eventType, err)
	}
	s.logg.Warn(s.logg.WithField(ctx, "warning", warning), "webhook.reconcile_warning")
	s.record(eventType, outcomeWarning)
	return Outcome{Warning: warning}, nil
}

func (s *Service) fail(eventType string, err error) (Outcome, error) {
	s.record(eventType, outcomeFailed)
	return Outcome{}, err
}

func (s *Service) record(eventType, outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookEvent(eventType, outcome)
	}
}

func decodeSession(event *stripe.Event) (*stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}
	if session.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing")
	}
	return &session, nil
}

var _ eventRecorder = (*metrics.StorefrontMetrics)(nil)
