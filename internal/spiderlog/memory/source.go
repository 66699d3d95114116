// Package memory provides a bounded in-memory spider log for local
// development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/frontier-strategy/internal/spiderlog"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("spider log closed")

var _ spiderlog.Source = (*Source)(nil)

// Source is a bounded in-memory spider log with context-aware operations.
type Source struct {
	ch        chan spiderlog.Event
	done      chan struct{}
	closeOnce sync.Once
	maxBatch  int
	committed atomic.Int64
}

// NewSource constructs a source holding up to capacity pending events and
// returning at most maxBatch events per batch.
func NewSource(capacity, maxBatch int) *Source {
	if maxBatch <= 0 {
		maxBatch = 1
	}
	return &Source{
		ch:       make(chan spiderlog.Event, capacity),
		done:     make(chan struct{}),
		maxBatch: maxBatch,
	}
}

// Send appends an event, blocking while the log is full.
func (s *Source) Send(ctx context.Context, e spiderlog.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("send canceled: %w", ctx.Err())
	case <-s.done:
		return ErrClosed
	case s.ch <- e:
		return nil
	}
}

// Next waits for at least one event and returns whatever else is already
// pending, up to maxBatch. After Close it drains the remaining events and
// then returns io.EOF.
func (s *Source) Next(ctx context.Context) (*spiderlog.Batch, error) {
	var first spiderlog.Event
	select {
	case first = <-s.ch:
	default:
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("next canceled: %w", ctx.Err())
		case first = <-s.ch:
		case <-s.done:
			select {
			case first = <-s.ch:
			default:
				return nil, io.EOF
			}
		}
	}
	events := []spiderlog.Event{first}
	for len(events) < s.maxBatch {
		select {
		case e := <-s.ch:
			events = append(events, e)
			continue
		default:
		}
		break
	}
	n := int64(len(events))
	return spiderlog.NewBatch(events, func(context.Context) error {
		s.committed.Add(n)
		return nil
	}), nil
}

// Committed returns the number of events acknowledged so far.
func (s *Source) Committed() int64 {
	return s.committed.Load()
}

// Close stops accepting events. Pending events can still be read.
func (s *Source) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
