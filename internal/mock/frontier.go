// Package mock provides test doubles for the frontier interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
)

var _ frontier.ScoreUpdateChannel = (*Channel)(nil)

// Channel records pushed decisions in order. PushFn, when set, runs before a
// decision is recorded; a non-nil error rejects the decision.
type Channel struct {
	PushFn func(ctx context.Context, decision frontier.ScoreDecision) error

	mu        sync.Mutex
	decisions []frontier.ScoreDecision
}

// Push implements frontier.ScoreUpdateChannel.
func (c *Channel) Push(ctx context.Context, decision frontier.ScoreDecision) error {
	if c.PushFn != nil {
		if err := c.PushFn(ctx, decision); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions = append(c.decisions, decision)
	return nil
}

// Decisions returns a copy of the recorded decisions.
func (c *Channel) Decisions() []frontier.ScoreDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frontier.ScoreDecision, len(c.decisions))
	copy(out, c.decisions)
	return out
}

var _ frontier.Manager = (*Manager)(nil)

// Manager serves fixed settings and counters.
type Manager struct {
	SettingsValue frontier.Settings
	Counters      map[string]int64
	CounterFn     func(ctx context.Context, name string) (int64, error)
}

// Settings implements frontier.Manager.
func (m *Manager) Settings() frontier.Settings {
	return m.SettingsValue
}

// Counter implements frontier.Manager.
func (m *Manager) Counter(ctx context.Context, name string) (int64, error) {
	if m.CounterFn != nil {
		return m.CounterFn(ctx, name)
	}
	return m.Counters[name], nil
}
