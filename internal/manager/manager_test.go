package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/storage/memory"
)

type failingCounter struct{}

func (failingCounter) Count(context.Context) (map[frontier.RequestState]int64, error) {
	return nil, errors.New("db down")
}

func TestCountersFromStateStore(t *testing.T) {
	t.Parallel()

	store := memory.NewStateStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, map[string]frontier.RequestState{
		"a": frontier.Crawled,
		"b": frontier.Crawled,
		"c": frontier.Queued,
		"d": frontier.NotCrawled,
	}))

	m := New(nil, store)
	for name, want := range map[string]int64{
		"crawled":     2,
		"QUEUED":      1,
		"not_crawled": 1,
		"error":       0,
		"total":       4,
	} {
		got, err := m.Counter(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := m.Counter(ctx, "fetched")
	require.Error(t, err)
	_, err = New(nil, failingCounter{}).Counter(ctx, "crawled")
	require.Error(t, err)
}

func TestSettingsAreCopied(t *testing.T) {
	t.Parallel()

	m := New(map[string]any{"Max_Depth": 2}, nil)
	s := m.Settings()
	depth, err := s.Int("max_depth", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	s["max_depth"] = 9
	again, _ := m.Settings().Int("max_depth", 0)
	assert.Equal(t, 2, again)

	n, err := m.Counter(context.Background(), "crawled")
	require.NoError(t, err)
	assert.Zero(t, n)
}
