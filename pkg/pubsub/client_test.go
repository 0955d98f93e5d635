package pubsub

import (
	"testing"

	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
)

func TestSubscriptionNamesSkipsBlank(t *testing.T) {
	if got := subscriptionNames(config.PubSubConfig{OrdersSubscription: "  "}); len(got) != 0 {
		t.Fatalf("expected no names, got %v", got)
	}
	got := subscriptionNames(config.PubSubConfig{OrdersSubscription: " orders-sub "})
	if len(got) != 1 || got[0] != "orders-sub" {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "pf-prod"}

	if got := c.resourceName(kindSubscription, "orders-sub"); got != "projects/pf-prod/subscriptions/orders-sub" {
		t.Fatalf("unexpected subscription name %q", got)
	}
	full := "projects/other/subscriptions/x"
	if got := c.resourceName(kindSubscription, full); got != full {
		t.Fatalf("full subscription name should pass through, got %q", got)
	}
	if got := c.resourceName(kindTopic, "pf-payout-events"); got != "projects/pf-prod/topics/pf-payout-events" {
		t.Fatalf("unexpected topic name %q", got)
	}
	if got := c.resourceName(kindTopic, ""); got != "" {
		t.Fatalf("blank topic should resolve empty, got %q", got)
	}
	var nilClient *Client
	if nilClient.Publisher("x") != nil {
		t.Fatalf("nil client should return nil publisher")
	}
}

func TestResourceNameRejectsMismatchedKind(t *testing.T) {
	c := &Client{projectID: "pf-prod"}
	topic := "projects/pf-prod/topics/pf-payout-events"
	if got := c.resourceName(kindSubscription, topic); got == topic {
		t.Fatalf("topic path must not pass as a subscription")
	}
	if got := (&Client{}).resourceName(kindTopic, "x"); got != "" {
		t.Fatalf("missing project should resolve empty, got %q", got)
	}
}
