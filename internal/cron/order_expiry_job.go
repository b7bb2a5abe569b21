package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront/internal/notifications"
	"github.com/angelmondragon/storefront/internal/orders"
	"github.com/angelmondragon/storefront/pkg/db/models"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/pagination"
)

const (
	OrderExpiryJobName = "order-expiry"
	defaultOrderTTL    = 24 * time.Hour
	defaultExpiryBatch = 200
)

type pendingOrders interface {
	ExpirePendingBefore(ctx context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, paymentRef string, next enums.OrderStatus) (*orders.Transition, error)
}

type sessionExpirer interface {
	Expire(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (stripe.CheckoutSessionStatus, error)
}

type OrderExpiryJobParams struct {
	Logger     *logger.Logger
	Orders     pendingOrders
	Payments   sessionExpirer
	Dispatcher notifications.Dispatcher
	TTL        time.Duration
	BatchSize  int
	Now        func() time.Time
}

// orderExpiryJob cancels PENDING orders whose payment session was abandoned.
// The provider session is expired first. When the provider refuses, the
// session is looked up: one that already expired on its own is cancelled here,
// anything else is left for the payment webhook. Each run walks every stale
// order in batches, so rows it skips never hide newer ones.
type orderExpiryJob struct {
	logg       *logger.Logger
	orders     pendingOrders
	payments   sessionExpirer
	dispatcher notifications.Dispatcher
	ttl        time.Duration
	batch      int
	now        func() time.Time
}

func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Orders == nil {
		return nil, errors.New("order service required")
	}
	if params.Payments == nil {
		return nil, errors.New("payment sessions required")
	}
	if params.Dispatcher == nil {
		params.Dispatcher = notifications.NewLogDispatcher(params.Logger)
	}
	if params.TTL <= 0 {
		params.TTL = defaultOrderTTL
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultExpiryBatch
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &orderExpiryJob{
		logg:       params.Logger,
		orders:     params.Orders,
		payments:   params.Payments,
		dispatcher: params.Dispatcher,
		ttl:        params.TTL,
		batch:      params.BatchSize,
		now:        params.Now,
	}, nil
}

func (j *orderExpiryJob) Name() string { return OrderExpiryJobName }

func (j *orderExpiryJob) Run(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.ttl)

	var (
		after     *pagination.Cursor
		scanned   int
		cancelled int
		errs      error
	)
	for {
		stale, err := j.orders.ExpirePendingBefore(ctx, cutoff, after, j.batch)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("list stale orders: %w", err))
			break
		}
		scanned += len(stale)
		for _, order := range stale {
			ok, err := j.expire(ctx, order)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if ok {
				cancelled++
			}
		}
		if len(stale) < j.batch {
			break
		}
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		last := stale[len(stale)-1]
		after = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"scanned":   scanned,
		"cancelled": cancelled,
	})
	j.logg.Info(logCtx, "cron.order_expiry_swept")
	return cancelled, errs
}

func (j *orderExpiryJob) expire(ctx context.Context, order models.Order) (bool, error) {
	ctx = j.logg.WithOrderRef(ctx, order.PaymentRef)
	if err := j.payments.Expire(ctx, order.PaymentRef); err != nil {
		status, lookupErr := j.payments.Status(ctx, order.PaymentRef)
		if lookupErr != nil || status != stripe.CheckoutSessionStatusExpired {
			j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
				"error":          err.Error(),
				"session_status": string(status),
			}), "cron.session_expire_skipped")
			return false, nil
		}
	}

	result, err := j.orders.UpdateOrderStatus(ctx, order.PaymentRef, enums.OrderStatusCancelled)
	switch {
	case err == nil:
	case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), pkgerrors.IsCode(err, pkgerrors.CodeOrderNotFound):
		// the webhook got there first
		return false, nil
	default:
		return false, fmt.Errorf("cancel order %s: %w", order.PaymentRef, err)
	}
	if !result.Applied {
		return false, nil
	}
	j.dispatcher.Dispatch(ctx, notifications.ForOrder(enums.NotificationTypeOrderCancelled, *result.Order, j.now()))
	return true, nil
}
