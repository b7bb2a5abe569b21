package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("STOREFRONT_GCP_PROJECT_ID is required for pubsub")
	errNoTopic           = errors.New("STOREFRONT_PUBSUB_NOTIFICATION_TOPIC is required for pubsub")
	errClosed            = errors.New("pubsub client not initialized")
)

// Client owns one Pub/Sub connection and the publisher for the notification
// topic. PUBSUB_EMULATOR_HOST is honoured by the SDK.
type Client struct {
	conn      *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	ordered   bool
}

// NewClient connects and refuses to start when the topic is missing, so a
// misconfigured deploy fails at boot rather than on the first paid order.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	topic := topicResourceName(project, cfg.NotificationTopic)
	if topic == "" {
		return nil, errNoTopic
	}

	conn, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	c := &Client{conn: conn, topic: topic, ordered: cfg.Ordering}
	if err := c.checkTopic(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.publisher = conn.Publisher(topic)
	c.publisher.EnableMessageOrdering = cfg.Ordering

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"topic": topic, "ordered": cfg.Ordering}), "pubsub publisher ready")
	}
	return c, nil
}

func (c *Client) checkTopic(ctx context.Context) error {
	_, err := c.conn.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topic})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("pubsub topic %s does not exist", c.topic)
	default:
		return fmt.Errorf("pubsub topic %s: %w", c.topic, err)
	}
}

// Topic is the fully qualified topic name.
func (c *Client) Topic() string {
	if c == nil {
		return ""
	}
	return c.topic
}

// Publish sends msg to the notification topic. The ordering key is cleared
// when ordering is off because the SDK rejects keyed messages then.
func (c *Client) Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult {
	if !c.ordered {
		msg.OrderingKey = ""
	}
	return c.publisher.Publish(ctx, msg)
}

// Ping re-checks the topic; it backs the readiness check.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return errClosed
	}
	return c.checkTopic(ctx)
}

// Close flushes buffered messages before dropping the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	if c.publisher != nil {
		c.publisher.Stop()
	}
	return c.conn.Close()
}

// topicResourceName accepts a short topic id or a full projects/x/topics/y name.
func topicResourceName(projectID, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/"):
		return name
	case strings.TrimSpace(projectID) == "":
		return ""
	default:
		return "projects/" + strings.TrimSpace(projectID) + "/topics/" + name
	}
}
