package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/db/models"
	"github.com/angelmondragon/storefront/pkg/enums"
	"github.com/angelmondragon/storefront/pkg/logger"
)

func sampleOrder() models.Order {
	return models.Order{
		ID:            uuid.New(),
		Status:        enums.OrderStatusPaid,
		PaymentRef:    "cs_test_123",
		CustomerID:    "user-1",
		CustomerEmail: "buyer@example.com",
		TotalAmount:   decimal.RequireFromString("42.50"),
		Items: []models.OrderItem{
			{ProductID: uuid.New(), ProductName: "Mug", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
			{ProductID: uuid.New(), ProductName: "Tee", Quantity: 1, UnitPrice: decimal.RequireFromString("22.50")},
		},
	}
}

func TestForOrderSnapshotsLines(t *testing.T) {
	order := sampleOrder()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	n := ForOrder(enums.NotificationTypeOrderConfirmed, order, at)

	assert.NotEqual(t, uuid.Nil, n.ID)
	assert.Equal(t, order.ID, n.OrderID)
	assert.Equal(t, "cs_test_123", n.PaymentRef)
	assert.Equal(t, time.UTC, n.OccurredAt.Location())
	require.Len(t, n.Items, 2)
	assert.Equal(t, "Mug", n.Items[0].ProductName)
	assert.True(t, n.Total.Equal(decimal.RequireFromString("42.50")))
}

func TestLogDispatcherWritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.InfoLevel, Output: &buf})
	n := ForOrder(enums.NotificationTypeOrderConfirmed, sampleOrder(), time.Now())

	NewLogDispatcher(logg).Dispatch(context.Background(), n)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "notification.dispatched", entry["message"])
	assert.Equal(t, "order_confirmed", entry["notification_type"])
	assert.Equal(t, "42.50", entry["total"])
}

type fakeKafka struct {
	key     []byte
	value   []byte
	headers []kafka.Header
	err     error
}

func (f *fakeKafka) Publish(key, value []byte, headers ...kafka.Header) error {
	f.key, f.value, f.headers = key, value, headers
	return f.err
}

func TestKafkaDispatcherKeysByOrder(t *testing.T) {
	producer := &fakeKafka{}
	n := ForOrder(enums.NotificationTypeOrderCancelled, sampleOrder(), time.Now())

	NewKafkaDispatcher(producer, nil).Dispatch(context.Background(), n)

	assert.Equal(t, n.OrderID.String(), string(producer.key))
	require.Len(t, producer.headers, 1)
	assert.Equal(t, headerNotificationType, producer.headers[0].Key)
	assert.Equal(t, "order_cancelled", string(producer.headers[0].Value))

	var decoded Notification
	require.NoError(t, json.Unmarshal(producer.value, &decoded))
	assert.Equal(t, n.ID, decoded.ID)
	assert.Len(t, decoded.Items, 2)
}

func TestKafkaDispatcherSwallowsErrors(t *testing.T) {
	producer := &fakeKafka{err: errors.New("buffer full")}
	n := ForOrder(enums.NotificationTypeOrderConfirmed, sampleOrder(), time.Now())

	assert.NotPanics(t, func() {
		NewKafkaDispatcher(producer, nil).Dispatch(context.Background(), n)
	})
}

func TestKafkaDispatcherRejectsUnknownType(t *testing.T) {
	producer := &fakeKafka{}
	n := ForOrder(enums.NotificationType("bogus"), sampleOrder(), time.Now())

	NewKafkaDispatcher(producer, nil).Dispatch(context.Background(), n)

	assert.Nil(t, producer.value)
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []*gcppubsub.Message
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return fakeResult{err: f.err}
}

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "msg-1", nil
}

func TestPubSubDispatcherPublishesInBackground(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{name: "acked"},
		{name: "publish error", err: errors.New("unavailable")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pub := &fakePublisher{err: tc.err}
			d := NewPubSubDispatcher(pub, time.Second, nil)
			var wg sync.WaitGroup
			wg.Add(1)
			d.done = wg.Done

			ctx, cancel := context.WithCancel(context.Background())
			n := ForOrder(enums.NotificationTypeOrderConfirmed, sampleOrder(), time.Now())
			d.Dispatch(ctx, n)
			cancel()
			wg.Wait()

			pub.mu.Lock()
			defer pub.mu.Unlock()
			require.Len(t, pub.messages, 1)
			msg := pub.messages[0]
			assert.Equal(t, "order_confirmed", msg.Attributes[headerNotificationType])
			assert.Equal(t, n.OrderID.String(), msg.Attributes["order_id"])
			assert.Equal(t, n.OrderID.String(), msg.OrderingKey)
		})
	}
}

func TestNewDispatcherSelectsTransport(t *testing.T) {
	d, err := NewDispatcher(config.NotificationsConfig{Transport: "log"}, Transports{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogDispatcher{}, d)

	d, err = NewDispatcher(config.NotificationsConfig{Transport: "KAFKA"}, Transports{Kafka: &fakeKafka{}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &KafkaDispatcher{}, d)

	d, err = NewDispatcher(config.NotificationsConfig{Transport: "pubsub"}, Transports{PubSub: &fakePublisher{}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &PubSubDispatcher{}, d)

	_, err = NewDispatcher(config.NotificationsConfig{Transport: "kafka"}, Transports{}, nil)
	assert.Error(t, err)

	_, err = NewDispatcher(config.NotificationsConfig{Transport: "smtp"}, Transports{}, nil)
	assert.Error(t, err)
}

func TestOpenDefaultsToLogTransport(t *testing.T) {
	cfg := &config.Config{Notifications: config.NotificationsConfig{Transport: "log"}}
	dispatcher, closeFn, err := Open(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	assert.IsType(t, &LogDispatcher{}, dispatcher)
	assert.NoError(t, closeFn())
}

func TestOpenKafkaRequiresBrokers(t *testing.T) {
	cfg := &config.Config{Notifications: config.NotificationsConfig{Transport: "kafka"}}
	_, closeFn, err := Open(context.Background(), cfg, logger.Discard())
	require.Error(t, err)
	assert.NoError(t, closeFn())
}
