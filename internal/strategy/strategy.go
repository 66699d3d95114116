// Package strategy provides the building blocks shared by crawling strategy
// implementations: the embeddable Base with default Finished/Close and the
// Schedule helper, and the registry used by the worker to construct a
// strategy by name.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
)

// Base is embedded by strategy implementations. It binds the outbound
// channel and supplies the optional operations of frontier.CrawlingStrategy.
type Base struct {
	channel frontier.ScoreUpdateChannel
}

// NewBase binds a Base to the channel. The channel is shared, not owned:
// Base never closes it.
func NewBase(channel frontier.ScoreUpdateChannel) Base {
	return Base{channel: channel}
}

// Finished reports false: the crawl is unbounded unless a strategy says otherwise.
func (Base) Finished() bool {
	return false
}

// Close releases nothing.
func (Base) Close() error {
	return nil
}

type scheduleOptions struct {
	score     float64
	dontQueue bool
}

// ScheduleOption adjusts a single Schedule call.
type ScheduleOption func(*scheduleOptions)

// WithScore sets the decision score. The default is frontier.DefaultScore.
func WithScore(score float64) ScheduleOption {
	return func(o *scheduleOptions) {
		o.score = score
	}
}

// DontQueue turns the decision into a score/metadata update that leaves
// queue membership untouched.
func DontQueue() ScheduleOption {
	return func(o *scheduleOptions) {
		o.dontQueue = true
	}
}

// Schedule pushes a decision for req to the bound channel. It does not touch
// req.State; strategies set the state they want persisted themselves.
func (b Base) Schedule(ctx context.Context, req *frontier.Request, opts ...ScheduleOption) error {
	if req == nil {
		return &frontier.MissingFingerprintError{}
	}
	if req.Fingerprint == "" {
		return &frontier.MissingFingerprintError{URL: req.URL}
	}
	if b.channel == nil {
		return fmt.Errorf("%w: strategy has no score update channel", frontier.ErrContractViolation)
	}
	o := scheduleOptions{score: frontier.DefaultScore}
	for _, opt := range opts {
		opt(&o)
	}
	decision := frontier.ScoreDecision{
		URL:         req.URL,
		Fingerprint: req.Fingerprint,
		Score:       o.score,
		DontQueue:   o.dontQueue,
	}
	if err := b.channel.Push(ctx, decision); err != nil {
		return fmt.Errorf("schedule %s: %w", req.Fingerprint, err)
	}
	return nil
}

// BatchErrors collects per-request failures inside one event so that a bad
// link does not abort its siblings.
type BatchErrors struct {
	errs []error
}

// Add records err. It returns false when err is fatal and the caller must
// stop processing the event.
func (b *BatchErrors) Add(err error) bool {
	if err == nil {
		return true
	}
	b.errs = append(b.errs, err)
	return !frontier.IsFatal(err)
}

// Err joins the recorded errors, or returns nil.
func (b *BatchErrors) Err() error {
	return errors.Join(b.errs...)
}

// Unimplemented can be embedded by strategies under construction. Each
// mandatory operation it provides reports frontier.ErrNotImplemented.
type Unimplemented struct{}

// AddSeeds reports frontier.ErrNotImplemented.
func (Unimplemented) AddSeeds(context.Context, []*frontier.Request) error {
	return fmt.Errorf("AddSeeds: %w", frontier.ErrNotImplemented)
}

// PageCrawled reports frontier.ErrNotImplemented.
func (Unimplemented) PageCrawled(context.Context, *frontier.Response, []*frontier.Request) error {
	return fmt.Errorf("PageCrawled: %w", frontier.ErrNotImplemented)
}

// PageError reports frontier.ErrNotImplemented.
func (Unimplemented) PageError(context.Context, *frontier.Request, string) error {
	return fmt.Errorf("PageError: %w", frontier.ErrNotImplemented)
}

// Meta keys used by the bundled strategies.
const (
	MetaScore   = "score"
	MetaRetries = "retries"
	MetaDepth   = "depth"
)
