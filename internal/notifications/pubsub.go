package notifications

import (
	"context"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/storefront/pkg/logger"
)

const defaultPublishTimeout = 10 * time.Second

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubDispatcher publishes to a GCP topic. The publish result is awaited
// on a background goroutine so the caller never blocks on the broker.
type PubSubDispatcher struct {
	pub     publisher
	timeout time.Duration
	logg    *logger.Logger
	// done is signalled after each background publish settles; tests use it.
	done func()
}

func NewPubSubDispatcher(pub publisher, timeout time.Duration, logg *logger.Logger) *PubSubDispatcher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logg == nil {
		logg = logger.Discard()
	}
	return &PubSubDispatcher{pub: pub, timeout: timeout, logg: logg}
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, n Notification) {
	ctx = d.logg.WithFields(ctx, map[string]any{
		"notification_type": string(n.Type),
		"order_id":          n.OrderID.String(),
	})
	payload, err := n.encode()
	if err != nil {
		d.logg.Error(ctx, "notification.encode_failed", err)
		d.settle()
		return
	}
	msg := &gcppubsub.Message{
		Data:        payload,
		OrderingKey: n.OrderID.String(),
		Attributes: map[string]string{
			headerNotificationType: string(n.Type),
			"order_id":             n.OrderID.String(),
			"notification_id":      n.ID.String(),
		},
	}

	// The request context is usually cancelled before the broker acks.
	bg := context.WithoutCancel(ctx)
	go func() {
		defer d.settle()
		publishCtx, cancel := context.WithTimeout(bg, d.timeout)
		defer cancel()

		result := d.pub.Publish(publishCtx, msg)
		if result == nil {
			d.logg.Error(bg, "notification.pubsub_publish_failed", errors.New("publisher returned no result"))
			return
		}
		serverID, err := result.Get(publishCtx)
		if err != nil {
			d.logg.Error(bg, "notification.pubsub_publish_failed", err)
			return
		}
		d.logg.Debug(d.logg.WithField(bg, "message_id", serverID), "notification.pubsub_published")
	}()
}

func (d *PubSubDispatcher) settle() {
	if d.done != nil {
		d.done()
	}
}

// GCPTopic is the publishing surface of pkg/pubsub.Client.
type GCPTopic interface {
	Publish(context.Context, *gcppubsub.Message) *gcppubsub.PublishResult
}

// GCPPublisher adapts a GCP topic to the dispatcher.
func GCPPublisher(topic GCPTopic) publisher {
	if topic == nil {
		return nil
	}
	return gcpPublisher{topic: topic}
}

type gcpPublisher struct {
	topic GCPTopic
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	res := p.topic.Publish(ctx, msg)
	if res == nil {
		return nil
	}
	return res
}
