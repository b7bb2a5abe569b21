package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/db/models"
	"github.com/angelmondragon/storefront/pkg/enums"
	"github.com/angelmondragon/storefront/pkg/logger"
)

// Dispatcher delivers notifications without blocking the caller on the
// downstream transport. Failures are logged, never returned.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}

type Line struct {
	ProductID   uuid.UUID       `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

type Notification struct {
	ID            uuid.UUID              `json:"id"`
	Type          enums.NotificationType `json:"type"`
	OrderID       uuid.UUID              `json:"orderId"`
	PaymentRef    string                 `json:"paymentRef"`
	CustomerID    string                 `json:"customerId"`
	CustomerEmail string                 `json:"customerEmail"`
	Total         decimal.Decimal        `json:"total"`
	Items         []Line                 `json:"items,omitempty"`
	OccurredAt    time.Time              `json:"occurredAt"`
}

// ForOrder builds a notification from an order snapshot.
func ForOrder(kind enums.NotificationType, order models.Order, at time.Time) Notification {
	lines := make([]Line, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, Line{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	return Notification{
		ID:            uuid.New(),
		Type:          kind,
		OrderID:       order.ID,
		PaymentRef:    order.PaymentRef,
		CustomerID:    order.CustomerID,
		CustomerEmail: order.CustomerEmail,
		Total:         order.TotalAmount,
		Items:         lines,
		OccurredAt:    at.UTC(),
	}
}

func (n Notification) encode() ([]byte, error) {
	if !n.Type.IsValid() {
		return nil, fmt.Errorf("invalid notification type %q", n.Type)
	}
	return json.Marshal(n)
}

// Transports carries the optional clients a dispatcher may be built over.
type Transports struct {
	Kafka  kafkaPublisher
	PubSub publisher
}

// NewDispatcher selects the transport named by cfg. Kafka and pubsub require
// their client in t.
func NewDispatcher(cfg config.NotificationsConfig, t Transports, logg *logger.Logger) (Dispatcher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", config.NotifyTransportLog:
		return NewLogDispatcher(logg), nil
	case config.NotifyTransportKafka:
		if t.Kafka == nil {
			return nil, fmt.Errorf("kafka transport selected without a producer")
		}
		return NewKafkaDispatcher(t.Kafka, logg), nil
	case config.NotifyTransportPubSub:
		if t.PubSub == nil {
			return nil, fmt.Errorf("pubsub transport selected without a publisher")
		}
		return NewPubSubDispatcher(t.PubSub, 0, logg), nil
	default:
		return nil, fmt.Errorf("unknown notification transport %q", cfg.Transport)
	}
}
