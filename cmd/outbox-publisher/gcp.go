package main

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/cityportal/payments-backend/pkg/pubsub"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// gcpTopics adapts the shared pubsub client to the relay's topicSource.
type gcpTopics struct {
	client *pubsub.Client
}

func (t gcpTopics) Ping(ctx context.Context) error { return t.client.Ping(ctx) }

func (t gcpTopics) Publisher(topic string) publisher {
	p := t.client.Publisher(topic)
	if p == nil {
		return nil
	}
	return gcpPublisher{p: p}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return gcpResult{r: g.p.Publish(ctx, msg)}
}

type gcpResult struct {
	r *gcppubsub.PublishResult
}

func (g gcpResult) Get(ctx context.Context) (string, error) {
	if g.r == nil {
		return "", errors.New("publish result is nil")
	}
	return g.r.Get(ctx)
}
