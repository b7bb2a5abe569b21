package notifications

import (
	"context"

	"github.com/angelmondragon/storefront/pkg/logger"
)

// LogDispatcher writes notifications to the structured log. It is the
// default transport for local development.
type LogDispatcher struct {
	logg *logger.Logger
}

func NewLogDispatcher(logg *logger.Logger) *LogDispatcher {
	if logg == nil {
		logg = logger.Discard()
	}
	return &LogDispatcher{logg: logg}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, n Notification) {
	ctx = d.logg.WithOrderRef(ctx, n.PaymentRef)
	ctx = d.logg.WithFields(ctx, map[string]any{
		"notification_id":   n.ID.String(),
		"notification_type": string(n.Type),
		"order_id":          n.OrderID.String(),
		"customer_email":    n.CustomerEmail,
		"total":             n.Total.StringFixed(2),
		"line_count":        len(n.Items),
	})
	d.logg.Info(ctx, "notification.dispatched")
}
