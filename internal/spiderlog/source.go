package spiderlog

import (
	"context"
)

// Source yields batches of events. Next returns io.EOF once the source is
// exhausted.
type Source interface {
	Next(ctx context.Context) (*Batch, error)
	Close() error
}

// Batch is a group of events acknowledged together.
type Batch struct {
	Events []Event
	commit func(context.Context) error
}

// NewBatch wraps events with an acknowledgement callback. commit may be nil.
func NewBatch(events []Event, commit func(context.Context) error) *Batch {
	return &Batch{Events: events, commit: commit}
}

// Commit acknowledges the batch. The worker calls it after the resulting
// states were persisted.
func (b *Batch) Commit(ctx context.Context) error {
	if b == nil || b.commit == nil {
		return nil
	}
	return b.commit(ctx)
}
