// Package pubsub implements a Google Cloud Pub/Sub score update transport.
package pubsub

import (
	"context"
	"fmt"
	"maps"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/frontier-strategy/internal/telemetry"
	"github.com/JakeFAU/frontier-strategy/internal/updates"
)

var _ updates.Transport = (*Publisher)(nil)

// Publisher wraps a Pub/Sub publisher client. Messages are published with
// the producer key as ordering key.
type Publisher struct {
	publisher *pubsub.Publisher
	client    *pubsub.Client
	logger    *zap.Logger
}

// New creates a Publisher for the provided topic publisher and enables
// message ordering on it.
func New(publisher *pubsub.Publisher, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher != nil {
		publisher.EnableMessageOrdering = true
	}
	return &Publisher{publisher: publisher, logger: logger}
}

// Dial connects to projectID, checks that topicID is active and returns a
// Publisher that owns the client.
func Dial(ctx context.Context, projectID, topicID string, logger *zap.Logger, opts ...option.ClientOption) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	name := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	topic, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	if err != nil {
		closeClient(client, logger)
		return nil, fmt.Errorf("get pubsub topic %q: %w", topicID, err)
	}
	if topic.GetState() != pubsubpb.Topic_ACTIVE && topic.GetState() != pubsubpb.Topic_STATE_UNSPECIFIED {
		closeClient(client, logger)
		return nil, fmt.Errorf("pubsub topic %q is not active (%s)", topicID, topic.GetState())
	}
	p := New(client.Publisher(name), logger)
	p.client = client
	return p, nil
}

// Publish sends msg and waits for the server acknowledgement.
func (p *Publisher) Publish(ctx context.Context, msg updates.Message) error {
	if p.publisher == nil {
		return updates.Permanent(fmt.Errorf("pubsub publisher is not configured"))
	}
	out := &pubsub.Message{
		Data:        msg.Data,
		Attributes:  telemetry.Inject(ctx, maps.Clone(msg.Attributes)),
		OrderingKey: msg.Key,
	}

	result := p.publisher.Publish(ctx, out)
	id, err := result.Get(ctx)
	if err != nil {
		if msg.Key != "" {
			// An ordered publish failure pauses the key until resumed.
			p.publisher.ResumePublish(msg.Key)
		}
		return fmt.Errorf("publish score update: %w", err)
	}
	p.logger.Debug("score update published",
		zap.String("message_id", id),
		zap.String("producer", msg.Key),
		zap.Uint64("seq", msg.Seq),
	)
	return nil
}

// Close flushes pending messages and releases the client when owned.
func (p *Publisher) Close() error {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

func closeClient(client *pubsub.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil && logger != nil {
		logger.Warn("failed to close pubsub client", zap.Error(err))
	}
}
