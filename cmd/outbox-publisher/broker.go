package main

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type broker interface {
	Ping(context.Context) error
	Topic(name string) topicPublisher
}

type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) pendingPublish
}

type pendingPublish interface {
	Get(context.Context) (string, error)
}

type pubsubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// pubsubBroker adapts the shared Pub/Sub client to the publisher's narrow view.
type pubsubBroker struct {
	client pubsubClient
}

func newPubSubBroker(client pubsubClient) *pubsubBroker {
	return &pubsubBroker{client: client}
}

func (b *pubsubBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

func (b *pubsubBroker) Topic(name string) topicPublisher {
	p := b.client.Publisher(name)
	if p == nil {
		return nil
	}
	return gcpTopic{p}
}

type gcpTopic struct {
	p *gcppubsub.Publisher
}

func (t gcpTopic) Publish(ctx context.Context, msg *gcppubsub.Message) pendingPublish {
	return gcpPending{t.p.Publish(ctx, msg)}
}

type gcpPending struct {
	r *gcppubsub.PublishResult
}

func (p gcpPending) Get(ctx context.Context) (string, error) {
	if p.r == nil {
		return "", errors.New("pubsub returned no publish result")
	}
	return p.r.Get(ctx)
}
