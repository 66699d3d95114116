// Package memory provides an in-memory request state store for development
// and tests.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
)

// StateStore keeps the last known state per fingerprint.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]frontier.RequestState
}

// NewStateStore constructs an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]frontier.RequestState)}
}

// Fetch returns the known states of fingerprints. Unknown fingerprints are
// absent from the result.
func (s *StateStore) Fetch(_ context.Context, fingerprints []string) (map[string]frontier.RequestState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]frontier.RequestState, len(fingerprints))
	for _, fp := range fingerprints {
		if state, ok := s.states[fp]; ok {
			out[fp] = state
		}
	}
	return out, nil
}

// Save upserts states.
func (s *StateStore) Save(_ context.Context, states map[string]frontier.RequestState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.states, states)
	return nil
}

// Count tallies fingerprints per state.
func (s *StateStore) Count(_ context.Context) (map[frontier.RequestState]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[frontier.RequestState]int64)
	for _, state := range s.states {
		out[state]++
	}
	return out, nil
}

// Close is a no-op.
func (s *StateStore) Close() error {
	return nil
}
