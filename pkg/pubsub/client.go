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

	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
)

// Client wraps the Pub/Sub v2 client with the payout engine's topology: the
// orders subscription it consumes and the domain topic it publishes to.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

// NewClient dials Pub/Sub and fails unless the orders subscription exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errors.New("gcp project id is required")
	}

	raw, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: raw, projectID: projectID, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id":   projectID,
			"subscription": cfg.OrdersSubscription,
			"topic":        cfg.DomainTopic,
		}), "pubsub client initialized")
	}
	return c, nil
}

func subscriptionNames(cfg config.PubSubConfig) []string {
	var names []string
	if name := strings.TrimSpace(cfg.OrdersSubscription); name != "" {
		names = append(names, name)
	}
	return names
}

func (c *Client) checkSubscription(ctx context.Context, name string) error {
	full := c.resourceName(kindSubscription, name)
	if full == "" {
		return fmt.Errorf("subscription %q not configured", name)
	}
	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("subscription %q does not exist", name)
	default:
		return fmt.Errorf("checking subscription %q: %w", name, err)
	}
}

// Subscription returns a subscriber for a subscription id or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.resourceName(kindSubscription, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// OrdersSubscription is where order paid and refunded events arrive.
func (c *Client) OrdersSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.OrdersSubscription)
}

// Publisher returns a publisher for a topic id or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.resourceName(kindTopic, name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

// Ping checks that every configured subscription is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	names := subscriptionNames(c.cfg)
	if len(names) == 0 {
		return errors.New("pubsub subscription name is required")
	}
	for _, name := range names {
		if err := c.checkSubscription(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands a short id into projects/<p>/<kind>/<id>. Names that
// are already fully qualified pass through.
func (c *Client) resourceName(kind, name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	if c.projectID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", c.projectID, kind, n)
}
