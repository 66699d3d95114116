// Package basic implements the simplest useful crawling strategy: queue every
// new seed and every newly discovered link once, and treat fetch errors as
// terminal.
package basic

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/strategy"
)

// Name is the registry name of this strategy.
const Name = "basic"

// Config tunes the scores the strategy emits.
type Config struct {
	SeedScore   float64
	LinkScore   float64
	MarkCrawled bool
}

// DefaultConfig returns the scores used when no settings are supplied.
func DefaultConfig() Config {
	return Config{SeedScore: 1.0, LinkScore: 0.5}
}

// ConfigFromSettings reads seed_score, link_score and mark_crawled.
func ConfigFromSettings(s frontier.Settings) (Config, error) {
	cfg := DefaultConfig()
	var err error
	if cfg.SeedScore, err = s.Float("seed_score", cfg.SeedScore); err != nil {
		return Config{}, err
	}
	if cfg.LinkScore, err = s.Float("link_score", cfg.LinkScore); err != nil {
		return Config{}, err
	}
	if cfg.MarkCrawled, err = s.Bool("mark_crawled", cfg.MarkCrawled); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate enforces scores inside [0, 1].
func (c Config) Validate() error {
	if c.SeedScore < 0 || c.SeedScore > 1 {
		return fmt.Errorf("seed_score must be within [0, 1], got %v", c.SeedScore)
	}
	if c.LinkScore < 0 || c.LinkScore > 1 {
		return fmt.Errorf("link_score must be within [0, 1], got %v", c.LinkScore)
	}
	return nil
}

// Strategy queues unseen requests once.
type Strategy struct {
	strategy.Base
	cfg    Config
	logger *zap.Logger
}

func init() {
	strategy.Register(Name, func(
		_ context.Context,
		m frontier.Manager,
		ch frontier.ScoreUpdateChannel,
		logger *zap.Logger,
	) (frontier.CrawlingStrategy, error) {
		cfg, err := ConfigFromSettings(m.Settings())
		if err != nil {
			return nil, err
		}
		return New(ch, cfg, logger), nil
	})
}

// New builds a Strategy bound to ch.
func New(ch frontier.ScoreUpdateChannel, cfg Config, logger *zap.Logger) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{
		Base:   strategy.NewBase(ch),
		cfg:    cfg,
		logger: logger,
	}
}

// Config returns the active configuration.
func (s *Strategy) Config() Config {
	return s.cfg
}

// AddSeeds queues seeds that are not yet known or previously failed.
// Seeds already queued or crawled are left alone, which makes redelivery harmless.
func (s *Strategy) AddSeeds(ctx context.Context, seeds []*frontier.Request) error {
	var errs strategy.BatchErrors
	for _, seed := range seeds {
		if seed.State != frontier.NotCrawled && seed.State != frontier.Error {
			continue
		}
		if !errs.Add(s.Enqueue(ctx, seed, s.cfg.SeedScore)) {
			break
		}
	}
	return errs.Err()
}

// PageCrawled marks the page crawled and queues links never seen before.
func (s *Strategy) PageCrawled(ctx context.Context, resp *frontier.Response, links []*frontier.Request) error {
	if resp == nil || resp.Request == nil {
		return fmt.Errorf("%w: page crawled without a request", frontier.ErrContractViolation)
	}
	resp.Request.State = frontier.Crawled
	if s.cfg.MarkCrawled {
		if err := s.Schedule(ctx, resp.Request, strategy.WithScore(0), strategy.DontQueue()); err != nil {
			return err
		}
	}
	var errs strategy.BatchErrors
	for _, link := range links {
		if link.State != frontier.NotCrawled {
			continue
		}
		if !errs.Add(s.Enqueue(ctx, link, s.cfg.LinkScore)) {
			break
		}
	}
	return errs.Err()
}

// PageError marks the request as permanently failed.
func (s *Strategy) PageError(_ context.Context, req *frontier.Request, reason string) error {
	if req == nil {
		return fmt.Errorf("%w: page error without a request", frontier.ErrContractViolation)
	}
	req.State = frontier.Error
	s.logger.Debug("request failed", zap.String("url", req.URL), zap.String("reason", reason))
	return nil
}

// Enqueue schedules req at score, records the score in its meta and marks it queued.
func (s *Strategy) Enqueue(ctx context.Context, req *frontier.Request, score float64) error {
	if err := s.Schedule(ctx, req, strategy.WithScore(score)); err != nil {
		return err
	}
	req.SetMeta(strategy.MetaScore, score)
	req.State = frontier.Queued
	return nil
}
