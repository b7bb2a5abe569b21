package notifications

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/angelmondragon/storefront/pkg/logger"
)

const headerNotificationType = "notification_type"

type kafkaPublisher interface {
	Publish(key, value []byte, headers ...kafka.Header) error
}

// KafkaDispatcher enqueues notifications on the buffered producer keyed by
// order id so every message for one order lands on the same partition.
type KafkaDispatcher struct {
	producer kafkaPublisher
	logg     *logger.Logger
}

func NewKafkaDispatcher(producer kafkaPublisher, logg *logger.Logger) *KafkaDispatcher {
	if logg == nil {
		logg = logger.Discard()
	}
	return &KafkaDispatcher{producer: producer, logg: logg}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, n Notification) {
	ctx = d.logg.WithFields(ctx, map[string]any{
		"notification_type": string(n.Type),
		"order_id":          n.OrderID.String(),
	})
	payload, err := n.encode()
	if err != nil {
		d.logg.Error(ctx, "notification.encode_failed", err)
		return
	}
	err = d.producer.Publish(
		[]byte(n.OrderID.String()),
		payload,
		kafka.Header{Key: headerNotificationType, Value: []byte(n.Type)},
	)
	if err != nil {
		d.logg.Error(ctx, "notification.kafka_enqueue_failed", err)
		return
	}
	d.logg.Debug(ctx, "notification.kafka_enqueued")
}
