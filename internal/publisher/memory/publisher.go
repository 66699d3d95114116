// Package memory contains an in-memory score update transport for tests and
// local replay.
package memory

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/updates"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("memory transport closed")

var _ updates.Transport = (*Publisher)(nil)

// Publisher stores published messages for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []updates.Message
	closed   bool
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message.
func (p *Publisher) Publish(_ context.Context, msg updates.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return updates.Permanent(ErrClosed)
	}
	msg.Data = append([]byte(nil), msg.Data...)
	msg.Attributes = maps.Clone(msg.Attributes)
	p.messages = append(p.messages, msg)
	return nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []updates.Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]updates.Message, len(p.messages))
	for i, msg := range p.messages {
		msg.Attributes = maps.Clone(msg.Attributes)
		out[i] = msg
	}
	return out
}

// Decisions decodes the recorded payloads in publish order.
func (p *Publisher) Decisions() ([]frontier.ScoreDecision, error) {
	msgs := p.Messages()
	out := make([]frontier.ScoreDecision, 0, len(msgs))
	for _, msg := range msgs {
		d, err := updates.Decode(msg.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Close rejects further publishes.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
