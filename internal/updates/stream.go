package updates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/metrics"
)

var _ frontier.ScoreUpdateChannel = (*Stream)(nil)

// Config controls a Stream.
type Config struct {
	// Producer is the partition key; one per worker partition.
	Producer string
	// InstanceID identifies this process in message attributes.
	InstanceID string
	// RateLimit caps pushes per second; zero disables the limiter.
	RateLimit float64
	Burst     int
	Retry     RetryPolicy
}

// Stream is the ScoreUpdateChannel handed to strategies.
type Stream struct {
	cfg       Config
	transport Transport
	limiter   *rate.Limiter
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error

	mu  sync.Mutex
	seq uint64
}

// NewStream binds a Stream to transport.
func NewStream(transport Transport, cfg Config, logger *zap.Logger) (*Stream, error) {
	if transport == nil {
		return nil, errors.New("updates: transport is required")
	}
	if cfg.Producer == "" {
		return nil, errors.New("updates: producer key is required")
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("updates: rate limit must be >= 0, got %v", cfg.RateLimit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stream{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		sleep:     sleepContext,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s, nil
}

// Push validates, sequences and publishes d. It returns once the transport
// acknowledged the message. Failures after retries wrap
// frontier.ErrDeliveryFailed.
func (s *Stream) Push(ctx context.Context, d frontier.ScoreDecision) error {
	start := time.Now()
	if err := d.Validate(); err != nil {
		metrics.ObservePush("rejected", d.DontQueue, 0)
		return err
	}
	data, err := Encode(d)
	if err != nil {
		metrics.ObservePush("rejected", d.DontQueue, 0)
		return err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			metrics.ObservePush("failed", d.DontQueue, time.Since(start))
			return fmt.Errorf("%w: wait for rate limiter: %w", frontier.ErrDeliveryFailed, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg := newMessage(s.cfg.Producer, s.cfg.InstanceID, s.seq, d, data)
	if err := s.publish(ctx, msg); err != nil {
		metrics.ObservePush("failed", d.DontQueue, time.Since(start))
		s.logger.Error("score update not delivered",
			zap.String("fingerprint", d.Fingerprint),
			zap.Uint64("seq", msg.Seq),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s (seq %d): %w", frontier.ErrDeliveryFailed, d.Fingerprint, msg.Seq, err)
	}
	metrics.ObservePush("ok", d.DontQueue, time.Since(start))
	return nil
}

func (s *Stream) publish(ctx context.Context, msg Message) error {
	for attempt := 1; ; attempt++ {
		err := s.transport.Publish(ctx, msg)
		if err == nil {
			return nil
		}
		if !s.cfg.Retry.ShouldRetry(err, attempt) {
			return err
		}
		delay := s.cfg.Retry.Backoff(attempt)
		metrics.ObservePublishRetry()
		s.logger.Warn("retrying score update publish",
			zap.Uint64("seq", msg.Seq),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Seq returns the last sequence number assigned.
func (s *Stream) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Producer returns the partition key.
func (s *Stream) Producer() string {
	return s.cfg.Producer
}

// Close closes the transport.
func (s *Stream) Close() error {
	if err := s.transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
