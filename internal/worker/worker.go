// Package worker hosts a crawling strategy: it reads spider log batches,
// hydrates request states, dispatches events to the strategy and persists
// the resulting states.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/metrics"
	"github.com/JakeFAU/frontier-strategy/internal/spiderlog"
	"github.com/JakeFAU/frontier-strategy/internal/telemetry"
)

// StateStore persists the lifecycle state of each fingerprint.
type StateStore interface {
	Fetch(ctx context.Context, fingerprints []string) (map[string]frontier.RequestState, error)
	Save(ctx context.Context, states map[string]frontier.RequestState) error
}

// Fingerprinter fills in fingerprints the spider log omitted.
type Fingerprinter interface {
	Fingerprint(rawURL string) string
}

// Config controls Worker behavior.
type Config struct {
	// EnforceTransitions reverts state changes the lifecycle forbids.
	EnforceTransitions bool
}

// Stats is a snapshot of the worker's progress.
type Stats struct {
	Batches            int64     `json:"batches"`
	Events             int64     `json:"events"`
	EventErrors        int64     `json:"event_errors"`
	IllegalTransitions int64     `json:"illegal_transitions"`
	Finished           bool      `json:"finished"`
	Closed             bool      `json:"closed"`
	LastBatchAt        time.Time `json:"last_batch_at,omitzero"`
}

// Worker drives one strategy from one spider log partition. All strategy
// calls happen on the goroutine that calls Run.
type Worker struct {
	source        spiderlog.Source
	strategy      frontier.CrawlingStrategy
	states        StateStore
	fingerprinter Fingerprinter
	clock         frontier.Clock
	cfg           Config
	logger        *zap.Logger

	closeOnce sync.Once
	closeErr  error

	mu    sync.RWMutex
	stats Stats
}

// New constructs a Worker. fingerprinter may be nil.
func New(
	source spiderlog.Source,
	strategy frontier.CrawlingStrategy,
	states StateStore,
	fingerprinter Fingerprinter,
	clock frontier.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		source:        source,
		strategy:      strategy,
		states:        states,
		fingerprinter: fingerprinter,
		clock:         clock,
		cfg:           cfg,
		logger:        logger,
	}
}

// Run processes batches until the strategy is finished, the source is
// exhausted, ctx is canceled or a fatal error occurs. The strategy is
// closed before Run returns in every case.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := w.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if w.checkFinished() {
		return nil
	}
	for {
		batch, err := w.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				w.logger.Info("spider log exhausted")
				return nil
			}
			if ctx.Err() != nil {
				w.logger.Info("worker stopping", zap.Error(ctx.Err()))
				return nil
			}
			return fmt.Errorf("read spider log: %w", err)
		}
		if err := w.ProcessBatch(ctx, batch); err != nil {
			if ctx.Err() != nil {
				// The batch stays uncommitted and is redelivered.
				w.logger.Info("worker stopping mid-batch", zap.Error(err))
				return nil
			}
			return err
		}
		if w.checkFinished() {
			return nil
		}
	}
}

// ProcessBatch delivers every event of batch to the strategy, persists the
// resulting states and commits the batch. Per-event errors are logged and
// counted; only fatal errors and persistence failures are returned, in which
// case the batch is left uncommitted.
func (w *Worker) ProcessBatch(ctx context.Context, batch *spiderlog.Batch) error {
	start := w.clock.Now()
	w.fillFingerprints(batch.Events)

	cache, err := w.hydrate(ctx, batch.Events)
	if err != nil {
		return err
	}
	dirty := make(map[string]frontier.RequestState)

	var eventErrors, illegal int64
	for i := range batch.Events {
		e := batch.Events[i]
		if err := e.Validate(); err != nil {
			eventErrors++
			metrics.ObserveEvent(string(e.Type), "malformed")
			w.logger.Warn("skipping malformed event", zap.Error(err))
			continue
		}

		reqs := e.Requests()
		prior := make([]frontier.RequestState, len(reqs))
		for j, req := range reqs {
			if req.Fingerprint != "" {
				req.State = cache[req.Fingerprint]
			}
			prior[j] = req.State
		}
		subject := subjectOf(e)
		if e.Type == spiderlog.PageCrawled && subject.Fingerprint != "" {
			// A link back to the fetched page is already crawled.
			for _, link := range e.Links {
				if link.Fingerprint == subject.Fingerprint {
					link.State = frontier.Crawled
				}
			}
		}

		if err := w.dispatch(telemetry.Extract(ctx, e.Attributes), e); err != nil {
			if frontier.IsFatal(err) {
				metrics.ObserveEvent(string(e.Type), "fatal")
				w.logger.Error("fatal strategy error", zap.String("event", string(e.Type)), zap.Error(err))
				return fmt.Errorf("%s: %w", e.Type, err)
			}
			eventErrors++
			metrics.ObserveEvent(string(e.Type), "error")
			w.logger.Warn("strategy event failed", zap.String("event", string(e.Type)), zap.Error(err))
		} else {
			metrics.ObserveEvent(string(e.Type), "ok")
		}

		written := make(map[string]bool, len(reqs))
		for j, req := range reqs {
			if req.Fingerprint == "" {
				continue
			}
			if written[req.Fingerprint] && req.State == prior[j] {
				// Never undo an earlier change from the same event.
				continue
			}
			if subject != nil && req != subject && req.Fingerprint == subject.Fingerprint {
				// The event's subject owns its fingerprint.
				continue
			}
			if !prior[j].CanTransition(req.State) {
				illegal++
				metrics.ObserveIllegalTransition(prior[j].String(), req.State.String())
				w.logger.Warn("illegal state transition",
					zap.String("fingerprint", req.Fingerprint),
					zap.Stringer("from", prior[j]),
					zap.Stringer("to", req.State),
					zap.Bool("reverted", w.cfg.EnforceTransitions),
				)
				if w.cfg.EnforceTransitions {
					req.State = prior[j]
				}
			}
			cache[req.Fingerprint] = req.State
			dirty[req.Fingerprint] = req.State
			written[req.Fingerprint] = true
		}
	}

	if err := w.states.Save(ctx, dirty); err != nil {
		return fmt.Errorf("persist request states: %w", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	duration := w.clock.Now().Sub(start)
	metrics.ObserveBatch(duration)
	w.mu.Lock()
	w.stats.Batches++
	w.stats.Events += int64(len(batch.Events))
	w.stats.EventErrors += eventErrors
	w.stats.IllegalTransitions += illegal
	w.stats.LastBatchAt = w.clock.Now()
	w.mu.Unlock()
	w.logger.Debug("batch processed",
		zap.Int("events", len(batch.Events)),
		zap.Int("states", len(dirty)),
		zap.Int64("event_errors", eventErrors),
		zap.Duration("duration", duration),
	)
	return nil
}

// Close closes the strategy exactly once.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		if err := w.strategy.Close(); err != nil {
			w.closeErr = fmt.Errorf("close strategy: %w", err)
		}
		w.mu.Lock()
		w.stats.Closed = true
		w.mu.Unlock()
		w.logger.Info("strategy closed", zap.Error(w.closeErr))
	})
	return w.closeErr
}

// Stats returns a snapshot of the worker's progress.
func (w *Worker) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Worker) dispatch(ctx context.Context, e spiderlog.Event) error {
	switch e.Type {
	case spiderlog.AddSeeds:
		return w.strategy.AddSeeds(ctx, e.Seeds)
	case spiderlog.PageCrawled:
		return w.strategy.PageCrawled(ctx, e.Response, e.Links)
	case spiderlog.PageError:
		return w.strategy.PageError(ctx, e.Request, e.Reason)
	default:
		return fmt.Errorf("%w: unknown event type %q", spiderlog.ErrMalformedEvent, e.Type)
	}
}

// subjectOf returns the request an event is about, or nil for add_seeds.
func subjectOf(e spiderlog.Event) *frontier.Request {
	switch e.Type {
	case spiderlog.PageCrawled:
		return e.Response.Request
	case spiderlog.PageError:
		return e.Request
	}
	return nil
}

func (w *Worker) fillFingerprints(events []spiderlog.Event) {
	if w.fingerprinter == nil {
		return
	}
	for _, e := range events {
		for _, req := range e.Requests() {
			if req != nil && req.Fingerprint == "" && req.URL != "" {
				req.Fingerprint = w.fingerprinter.Fingerprint(req.URL)
			}
		}
	}
}

// hydrate loads the stored state of every fingerprint in the batch. Missing
// fingerprints are NOT_CRAWLED.
func (w *Worker) hydrate(ctx context.Context, events []spiderlog.Event) (map[string]frontier.RequestState, error) {
	seen := make(map[string]struct{})
	var fps []string
	for _, e := range events {
		for _, req := range e.Requests() {
			if req == nil || req.Fingerprint == "" {
				continue
			}
			if _, ok := seen[req.Fingerprint]; ok {
				continue
			}
			seen[req.Fingerprint] = struct{}{}
			fps = append(fps, req.Fingerprint)
		}
	}
	cache, err := w.states.Fetch(ctx, fps)
	if err != nil {
		return nil, fmt.Errorf("load request states: %w", err)
	}
	if cache == nil {
		cache = make(map[string]frontier.RequestState, len(fps))
	}
	return cache, nil
}

func (w *Worker) checkFinished() bool {
	finished := w.strategy.Finished()
	metrics.SetFinished(finished)
	if finished {
		w.mu.Lock()
		w.stats.Finished = true
		w.mu.Unlock()
		w.logger.Info("strategy reports the crawl finished")
	}
	return finished
}
