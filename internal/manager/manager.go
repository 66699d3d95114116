// Package manager implements the read-only frontier.Manager handed to
// strategy factories.
package manager

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
)

// TotalCounter sums every state.
const TotalCounter = "total"

// StateCounter tallies fingerprints per state.
type StateCounter interface {
	Count(ctx context.Context) (map[frontier.RequestState]int64, error)
}

var _ frontier.Manager = (*Manager)(nil)

// Manager serves strategy settings and counters derived from the state store.
type Manager struct {
	settings frontier.Settings
	counter  StateCounter
}

// New builds a Manager. Settings keys are lower-cased.
func New(settings map[string]any, counter StateCounter) *Manager {
	s := make(frontier.Settings, len(settings))
	for k, v := range settings {
		s[strings.ToLower(k)] = v
	}
	return &Manager{settings: s, counter: counter}
}

// Settings returns a copy of the strategy settings.
func (m *Manager) Settings() frontier.Settings {
	return maps.Clone(m.settings)
}

// Counter returns the number of fingerprints in the state called name
// (crawled, queued, error, not_crawled) or the total.
func (m *Manager) Counter(ctx context.Context, name string) (int64, error) {
	if m.counter == nil {
		return 0, nil
	}
	counts, err := m.counter.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count states: %w", err)
	}
	if strings.EqualFold(name, TotalCounter) {
		var total int64
		for _, n := range counts {
			total += n
		}
		return total, nil
	}
	state, err := frontier.ParseRequestState(name)
	if err != nil {
		return 0, fmt.Errorf("unknown counter %q", name)
	}
	return counts[state], nil
}
