// Package discovery implements a depth-limited breadth-first strategy. Pages
// closer to the seeds score higher, links already emitted by this instance
// are filtered with a Bloom filter, and the crawl finishes once a page budget
// is spent.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/strategy"
)

// Name is the registry name of this strategy.
const Name = "discovery"

// CrawledCounter is the manager counter the page budget resumes from.
const CrawledCounter = "crawled"

// Config controls the crawl shape.
type Config struct {
	MaxDepth          int
	MaxPages          int64
	SameHost          bool
	ExpectedLinks     uint
	FalsePositiveRate float64
}

// DefaultConfig returns a three-level crawl with no page budget.
func DefaultConfig() Config {
	return Config{
		MaxDepth:          3,
		ExpectedLinks:     1_000_000,
		FalsePositiveRate: 0.001,
	}
}

// ConfigFromSettings reads max_depth, max_pages, same_host, expected_links
// and false_positive_rate.
func ConfigFromSettings(s frontier.Settings) (Config, error) {
	cfg := DefaultConfig()
	var err error
	if cfg.MaxDepth, err = s.Int("max_depth", cfg.MaxDepth); err != nil {
		return Config{}, err
	}
	pages, err := s.Int("max_pages", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxPages = int64(pages)
	if cfg.SameHost, err = s.Bool("same_host", cfg.SameHost); err != nil {
		return Config{}, err
	}
	links, err := s.Int("expected_links", int(cfg.ExpectedLinks))
	if err != nil {
		return Config{}, err
	}
	if links <= 0 {
		return Config{}, fmt.Errorf("expected_links must be > 0, got %d", links)
	}
	cfg.ExpectedLinks = uint(links)
	if cfg.FalsePositiveRate, err = s.Float("false_positive_rate", cfg.FalsePositiveRate); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the numeric bounds.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0, got %d", c.MaxPages)
	}
	if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
		return fmt.Errorf("false_positive_rate must be within (0, 1), got %v", c.FalsePositiveRate)
	}
	return nil
}

// Strategy schedules by depth.
type Strategy struct {
	strategy.Base
	cfg       Config
	seen      *bloom.BloomFilter
	crawled   int64
	scheduled int64
	skipped   int64
	logger    *zap.Logger
}

func init() {
	strategy.Register(Name, func(
		ctx context.Context,
		m frontier.Manager,
		ch frontier.ScoreUpdateChannel,
		logger *zap.Logger,
	) (frontier.CrawlingStrategy, error) {
		cfg, err := ConfigFromSettings(m.Settings())
		if err != nil {
			return nil, err
		}
		crawled, err := m.Counter(ctx, CrawledCounter)
		if err != nil {
			return nil, fmt.Errorf("resume crawled counter: %w", err)
		}
		return New(ch, cfg, crawled, logger), nil
	})
}

// New builds a Strategy that has already crawled `crawled` pages.
func New(ch frontier.ScoreUpdateChannel, cfg Config, crawled int64, logger *zap.Logger) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{
		Base:    strategy.NewBase(ch),
		cfg:     cfg,
		seen:    bloom.NewWithEstimates(cfg.ExpectedLinks, cfg.FalsePositiveRate),
		crawled: crawled,
		logger:  logger,
	}
}

// Score is the priority of a request at depth: 1 for seeds, 1/2 for their
// links, and so on.
func Score(depth int) float64 {
	return 1 / float64(depth+1)
}

// AddSeeds queues unknown seeds at depth zero with the highest score.
func (s *Strategy) AddSeeds(ctx context.Context, seeds []*frontier.Request) error {
	var errs strategy.BatchErrors
	for _, seed := range seeds {
		if seed.State != frontier.NotCrawled && seed.State != frontier.Error {
			continue
		}
		if !errs.Add(s.enqueue(ctx, seed, 0, Score(0))) {
			break
		}
	}
	return errs.Err()
}

// PageCrawled counts the page against the budget and queues its links one
// level deeper.
func (s *Strategy) PageCrawled(ctx context.Context, resp *frontier.Response, links []*frontier.Request) error {
	if resp == nil || resp.Request == nil {
		return fmt.Errorf("%w: page crawled without a request", frontier.ErrContractViolation)
	}
	page := resp.Request
	if page.State != frontier.Crawled {
		s.crawled++
	}
	page.State = frontier.Crawled

	depth := depthOf(page)
	if depth >= s.cfg.MaxDepth {
		return nil
	}
	host := hostOf(page.URL)
	var errs strategy.BatchErrors
	for _, link := range links {
		if !s.admit(link, host) {
			s.skipped++
			continue
		}
		if !errs.Add(s.enqueue(ctx, link, depth+1, Score(depth+1))) {
			break
		}
	}
	return errs.Err()
}

// PageError marks the request failed; discovery never retries.
func (s *Strategy) PageError(_ context.Context, req *frontier.Request, reason string) error {
	if req == nil {
		return fmt.Errorf("%w: page error without a request", frontier.ErrContractViolation)
	}
	req.State = frontier.Error
	s.logger.Debug("request failed", zap.String("url", req.URL), zap.String("reason", reason))
	return nil
}

// Finished reports whether the page budget is spent.
func (s *Strategy) Finished() bool {
	return s.cfg.MaxPages > 0 && s.crawled >= s.cfg.MaxPages
}

// Close logs a summary of the run.
func (s *Strategy) Close() error {
	s.logger.Info("discovery strategy closed",
		zap.Int64("crawled", s.crawled),
		zap.Int64("scheduled", s.scheduled),
		zap.Int64("skipped", s.skipped),
		zap.Uint("seen_estimate", uint(s.seen.ApproximatedSize())),
	)
	return nil
}

func (s *Strategy) admit(link *frontier.Request, host string) bool {
	if link.State != frontier.NotCrawled {
		return false
	}
	if s.cfg.SameHost && hostOf(link.URL) != host {
		return false
	}
	// Requests without a fingerprint fall through so Schedule reports them.
	if link.Fingerprint != "" && s.seen.TestString(link.Fingerprint) {
		return false
	}
	return true
}

func (s *Strategy) enqueue(ctx context.Context, req *frontier.Request, depth int, score float64) error {
	if err := s.Schedule(ctx, req, strategy.WithScore(score)); err != nil {
		return err
	}
	s.seen.AddString(req.Fingerprint)
	s.scheduled++
	req.SetMeta(strategy.MetaDepth, depth)
	req.SetMeta(strategy.MetaScore, score)
	req.State = frontier.Queued
	return nil
}

func depthOf(req *frontier.Request) int {
	v, ok := req.MetaValue(strategy.MetaDepth)
	if !ok {
		return 0
	}
	d, err := cast.ToIntE(v)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
