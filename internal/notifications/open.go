package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/kafka"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/pubsub"
)

// Open builds the configured transport client and the dispatcher over it.
// The returned close func flushes and releases the client; it is never nil.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (Dispatcher, func() error, error) {
	noop := func() error { return nil }

	var transports Transports
	closer := noop
	switch strings.ToLower(strings.TrimSpace(cfg.Notifications.Transport)) {
	case config.NotifyTransportKafka:
		producer, err := kafka.NewProducer(cfg.Kafka, cfg.Kafka.NotificationsTopic, logg)
		if err != nil {
			return nil, noop, fmt.Errorf("kafka producer: %w", err)
		}
		producer.Start(ctx)
		transports.Kafka = producer
		closer = producer.Close
	case config.NotifyTransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		transports.PubSub = GCPPublisher(client)
		closer = client.Close
	}

	dispatcher, err := NewDispatcher(cfg.Notifications, transports, logg)
	if err != nil {
		_ = closer()
		return nil, noop, err
	}
	return dispatcher, closer, nil
}
