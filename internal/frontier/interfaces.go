package frontier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// CrawlingStrategy turns crawl events into scheduling decisions and decides
// when the crawl is complete. The worker calls it from a single goroutine;
// implementations need not be reentrant.
type CrawlingStrategy interface {
	// AddSeeds is called once per batch of freshly injected seeds.
	AddSeeds(ctx context.Context, seeds []*Request) error
	// PageCrawled is called once per successfully fetched page. The strategy
	// must mark resp.Request as Crawled.
	PageCrawled(ctx context.Context, resp *Response, links []*Request) error
	// PageError is called once per failed fetch. reason is an opaque
	// classification supplied by the fetcher.
	PageError(ctx context.Context, req *Request, reason string) error
	// Finished is queried between batches. It must not have side effects.
	Finished() bool
	// Close is called exactly once before the worker exits.
	Close() error
}

// ScoreUpdateChannel is the append-only sink for scheduling decisions.
type ScoreUpdateChannel interface {
	Push(ctx context.Context, decision ScoreDecision) error
}

// Manager gives strategies read-only access to crawl-wide configuration and
// resumable counters at construction time.
type Manager interface {
	Settings() Settings
	Counter(ctx context.Context, name string) (int64, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Settings holds strategy-specific configuration. Keys are case-insensitive.
type Settings map[string]any

func (s Settings) lookup(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	if v, ok := s[key]; ok {
		return v, true
	}
	v, ok := s[strings.ToLower(key)]
	return v, ok
}

// Float returns the float setting under key or def when absent.
func (s Settings) Float(key string, def float64) (float64, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}
	return f, nil
}

// Int returns the integer setting under key or def when absent.
func (s Settings) Int(key string, def int) (int, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}
	return i, nil
}

// Bool returns the boolean setting under key or def when absent.
func (s Settings) Bool(key string, def bool) (bool, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}
	return b, nil
}

// String returns the string setting under key or def when absent.
func (s Settings) String(key string, def string) (string, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	str, err := cast.ToStringE(v)
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}
	return str, nil
}
