// Package pubsub reads the spider log from a Google Cloud Pub/Sub
// subscription.
package pubsub

import (
	"context"
	"fmt"
	"io"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/frontier-strategy/internal/metrics"
	"github.com/JakeFAU/frontier-strategy/internal/spiderlog"
)

var _ spiderlog.Source = (*Source)(nil)

// Config controls batching.
type Config struct {
	// BatchSize caps the events per batch.
	BatchSize int
	// MaxWait bounds how long a started batch waits to fill up.
	MaxWait time.Duration
	// MaxOutstanding caps unacknowledged messages held by the client.
	MaxOutstanding int
}

// Source receives spider log messages in the background and hands them out
// in batches. Messages are acknowledged when their batch is committed;
// malformed messages are acknowledged immediately and counted.
type Source struct {
	sub    *pubsub.Subscriber
	client *pubsub.Client
	cfg    Config
	logger *zap.Logger

	msgs    chan *pubsub.Message
	cancel  context.CancelFunc
	done    chan struct{}
	recvErr error
}

// New starts receiving from sub.
func New(sub *pubsub.Subscriber, cfg Config, logger *zap.Logger) *Source {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		sub:    sub,
		cfg:    cfg,
		logger: logger,
		msgs:   make(chan *pubsub.Message),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.receive(ctx)
	return s
}

// Dial connects to projectID and receives from subscriptionID.
func Dial(
	ctx context.Context,
	projectID, subscriptionID string,
	cfg Config,
	logger *zap.Logger,
	opts ...option.ClientOption,
) (*Source, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	s := New(client.Subscriber(subscriptionID), cfg, logger)
	s.client = client
	return s, nil
}

func (s *Source) receive(ctx context.Context) {
	defer close(s.done)
	s.recvErr = s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		select {
		case s.msgs <- m:
		case <-ctx.Done():
			m.Nack()
		}
	})
}

// Next blocks for the first event, then collects more until the batch is
// full or MaxWait elapsed.
func (s *Source) Next(ctx context.Context) (*spiderlog.Batch, error) {
	var (
		events  []spiderlog.Event
		pending []*pubsub.Message
		timer   *time.Timer
		timeout <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

collect:
	for len(events) < s.cfg.BatchSize {
		select {
		case <-ctx.Done():
			for _, m := range pending {
				m.Nack()
			}
			return nil, fmt.Errorf("next canceled: %w", ctx.Err())
		case m := <-s.msgs:
			e, err := spiderlog.Decode(m.Data)
			if err != nil {
				m.Ack()
				metrics.ObserveMalformedEvent("pubsub")
				s.logger.Warn("dropping malformed spider log message",
					zap.String("message_id", m.ID),
					zap.Error(err),
				)
				continue
			}
			e.Attributes = m.Attributes
			events = append(events, e)
			pending = append(pending, m)
			if timer == nil {
				timer = time.NewTimer(s.cfg.MaxWait)
				timeout = timer.C
			}
		case <-timeout:
			break collect
		case <-s.done:
			if len(events) > 0 {
				break collect
			}
			if s.recvErr != nil {
				return nil, fmt.Errorf("receive spider log: %w", s.recvErr)
			}
			return nil, io.EOF
		}
	}
	return spiderlog.NewBatch(events, func(context.Context) error {
		for _, m := range pending {
			m.Ack()
		}
		return nil
	}), nil
}

// Close stops receiving. Unacknowledged messages are redelivered later.
func (s *Source) Close() error {
	s.cancel()
	<-s.done
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
