// Package backoff extends the basic strategy with retries for failed
// fetches. Each retry re-queues the request at half of its previous score,
// so failing targets sink in the queue instead of storming the fetchers.
package backoff

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/strategy"
	"github.com/JakeFAU/frontier-strategy/internal/strategy/basic"
)

// Name is the registry name of this strategy.
const Name = "backoff"

// Config controls when a failing request is given up on.
type Config struct {
	Basic      basic.Config
	MaxRetries int
	MinScore   float64
}

// ConfigFromSettings reads the basic settings plus max_retries and min_score.
func ConfigFromSettings(s frontier.Settings) (Config, error) {
	b, err := basic.ConfigFromSettings(s)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Basic: b}
	if cfg.MaxRetries, err = s.Int("max_retries", 3); err != nil {
		return Config{}, err
	}
	if cfg.MinScore, err = s.Float("min_score", 0.01); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries < 0 {
		return Config{}, fmt.Errorf("max_retries must be >= 0, got %d", cfg.MaxRetries)
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		return Config{}, fmt.Errorf("min_score must be within [0, 1], got %v", cfg.MinScore)
	}
	return cfg, nil
}

// Strategy is basic.Strategy with score-decay retries.
type Strategy struct {
	*basic.Strategy
	cfg    Config
	scores *scoreMemo
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
	memo := &scoreMemo{next: ch, entries: make(map[string]memoEntry)}
	return &Strategy{
		Strategy: basic.New(memo, cfg.Basic, logger),
		cfg:      cfg,
		scores:   memo,
		logger:   logger,
	}
}

// PageCrawled forgets the retry bookkeeping of the crawled page.
func (s *Strategy) PageCrawled(ctx context.Context, resp *frontier.Response, links []*frontier.Request) error {
	if resp != nil && resp.Request != nil {
		s.scores.forget(resp.Request.Fingerprint)
	}
	return s.Strategy.PageCrawled(ctx, resp, links)
}

// PageError re-queues req at half its previous score until the retry budget
// or the score floor is exhausted, then marks it failed.
func (s *Strategy) PageError(ctx context.Context, req *frontier.Request, reason string) error {
	if req == nil {
		return fmt.Errorf("%w: page error without a request", frontier.ErrContractViolation)
	}
	retries := s.scores.retries(req.Fingerprint)
	if v, ok := req.MetaValue(strategy.MetaRetries); ok {
		retries = max(retries, cast.ToInt(v))
	}
	next := s.previousScore(req) / 2
	if retries >= s.cfg.MaxRetries || next < s.cfg.MinScore {
		req.State = frontier.Error
		s.scores.forget(req.Fingerprint)
		s.logger.Debug("giving up on request",
			zap.String("url", req.URL),
			zap.String("reason", reason),
			zap.Int("retries", retries),
		)
		return nil
	}
	if err := s.Enqueue(ctx, req, next); err != nil {
		return err
	}
	s.scores.setRetries(req.Fingerprint, retries+1)
	req.SetMeta(strategy.MetaRetries, retries+1)
	s.logger.Debug("retrying request",
		zap.String("url", req.URL),
		zap.String("reason", reason),
		zap.Int("attempt", retries+1),
		zap.Float64("score", next),
	)
	return nil
}

func (s *Strategy) previousScore(req *frontier.Request) float64 {
	if v, ok := req.MetaValue(strategy.MetaScore); ok {
		if f, err := cast.ToFloat64E(v); err == nil {
			return f
		}
	}
	if f, ok := s.scores.get(req.Fingerprint); ok {
		return f
	}
	return frontier.DefaultScore
}

// scoreMemo remembers the last queued score and the retry count per
// fingerprint. Fetchers hand back fresh requests, so meta alone cannot carry
// either across a retry.
type scoreMemo struct {
	next frontier.ScoreUpdateChannel

	mu      sync.Mutex
	entries map[string]memoEntry
}

type memoEntry struct {
	score    float64
	hasScore bool
	retries  int
}

func (m *scoreMemo) Push(ctx context.Context, decision frontier.ScoreDecision) error {
	if err := m.next.Push(ctx, decision); err != nil {
		return err
	}
	if !decision.DontQueue {
		m.mu.Lock()
		e := m.entries[decision.Fingerprint]
		e.score, e.hasScore = decision.Score, true
		m.entries[decision.Fingerprint] = e
		m.mu.Unlock()
	}
	return nil
}

func (m *scoreMemo) get(fingerprint string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[fingerprint]
	return e.score, e.hasScore
}

func (m *scoreMemo) retries(fingerprint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[fingerprint].retries
}

func (m *scoreMemo) setRetries(fingerprint string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[fingerprint]
	e.retries = n
	m.entries[fingerprint] = e
}

func (m *scoreMemo) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *scoreMemo) forget(fingerprint string) {
	m.mu.Lock()
	delete(m.entries, fingerprint)
	m.mu.Unlock()
}
