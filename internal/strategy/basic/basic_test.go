package basic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/mock"
	"github.com/JakeFAU/frontier-strategy/internal/strategy"
)

func request(name string, state frontier.RequestState) *frontier.Request {
	r := frontier.NewRequest("https://example.com/"+name, "fp-"+name)
	r.State = state
	return r
}

func TestAddSeedsQueuesUnknownSeedsOnce(t *testing.T) {
	t.Parallel()

	ch := &mock.Channel{}
	s := New(ch, DefaultConfig(), nil)
	fresh := request("fresh", frontier.NotCrawled)
	failed := request("failed", frontier.Error)
	queued := request("queued", frontier.Queued)
	crawled := request("crawled", frontier.Crawled)

	require.NoError(t, s.AddSeeds(context.Background(), []*frontier.Request{fresh, failed, queued, crawled}))

	assert.Equal(t, []frontier.ScoreDecision{
		{URL: fresh.URL, Fingerprint: fresh.Fingerprint, Score: 1.0},
		{URL: failed.URL, Fingerprint: failed.Fingerprint, Score: 1.0},
	}, ch.Decisions())
	assert.Equal(t, frontier.Queued, fresh.State)
	assert.Equal(t, frontier.Queued, failed.State)
	assert.Equal(t, frontier.Crawled, crawled.State)
	assert.Equal(t, 1.0, fresh.Meta[strategy.MetaScore])

	// Redelivery of the same seed after it was queued is a no-op.
	require.NoError(t, s.AddSeeds(context.Background(), []*frontier.Request{fresh}))
	assert.Len(t, ch.Decisions(), 2)
}

func TestPageCrawledQueuesNewLinks(t *testing.T) {
	t.Parallel()

	ch := &mock.Channel{}
	cfg := DefaultConfig()
	cfg.MarkCrawled = true
	s := New(ch, cfg, nil)
	page := request("page", frontier.Queued)
	fresh := request("fresh", frontier.NotCrawled)
	known := request("known", frontier.Queued)

	err := s.PageCrawled(context.Background(), &frontier.Response{Request: page, StatusCode: 200}, []*frontier.Request{fresh, known})
	require.NoError(t, err)

	assert.Equal(t, []frontier.ScoreDecision{
		{URL: page.URL, Fingerprint: page.Fingerprint, Score: 0, DontQueue: true},
		{URL: fresh.URL, Fingerprint: fresh.Fingerprint, Score: 0.5},
	}, ch.Decisions())
	assert.Equal(t, frontier.Crawled, page.State)
	assert.Equal(t, frontier.Queued, fresh.State)
}

func TestPageCrawledRejectsMissingRequest(t *testing.T) {
	t.Parallel()

	s := New(&mock.Channel{}, DefaultConfig(), nil)
	err := s.PageCrawled(context.Background(), &frontier.Response{}, nil)
	require.ErrorIs(t, err, frontier.ErrContractViolation)
}

func TestPageCrawledKeepsGoingAfterBadLink(t *testing.T) {
	t.Parallel()

	ch := &mock.Channel{}
	s := New(ch, DefaultConfig(), nil)
	bad := &frontier.Request{URL: "https://example.com/no-fp"}
	good := request("good", frontier.NotCrawled)

	err := s.PageCrawled(context.Background(), &frontier.Response{Request: request("page", frontier.Queued)}, []*frontier.Request{bad, good})
	require.ErrorIs(t, err, frontier.ErrContractViolation)
	require.Len(t, ch.Decisions(), 1)
	assert.Equal(t, good.Fingerprint, ch.Decisions()[0].Fingerprint)
	assert.Equal(t, frontier.NotCrawled, bad.State)
}

func TestPageCrawledStopsOnDeliveryFailure(t *testing.T) {
	t.Parallel()

	ch := &mock.Channel{PushFn: func(context.Context, frontier.ScoreDecision) error {
		return frontier.ErrDeliveryFailed
	}}
	s := New(ch, DefaultConfig(), nil)
	a, b := request("a", frontier.NotCrawled), request("b", frontier.NotCrawled)

	err := s.PageCrawled(context.Background(), &frontier.Response{Request: request("page", frontier.Queued)}, []*frontier.Request{a, b})
	require.True(t, frontier.IsFatal(err))
	assert.Equal(t, frontier.NotCrawled, a.State)
	assert.Equal(t, frontier.NotCrawled, b.State)
}

func TestPageErrorIsTerminal(t *testing.T) {
	t.Parallel()

	ch := &mock.Channel{}
	s := New(ch, DefaultConfig(), nil)
	r := request("r", frontier.Queued)

	require.NoError(t, s.PageError(context.Background(), r, "dns"))
	assert.Equal(t, frontier.Error, r.State)
	assert.Empty(t, ch.Decisions())
	require.ErrorIs(t, s.PageError(context.Background(), nil, "dns"), frontier.ErrContractViolation)
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	cfg, err := ConfigFromSettings(frontier.Settings{"seed_score": 0.9, "link_score": "0.2", "mark_crawled": true})
	require.NoError(t, err)
	assert.Equal(t, Config{SeedScore: 0.9, LinkScore: 0.2, MarkCrawled: true}, cfg)

	_, err = ConfigFromSettings(frontier.Settings{"link_score": 1.5})
	require.Error(t, err)

	_, err = ConfigFromSettings(frontier.Settings{"seed_score": "high"})
	require.Error(t, err)
}

func TestRegisteredFactory(t *testing.T) {
	t.Parallel()

	ch := &mock.Channel{}
	s, err := strategy.FromWorker(context.Background(), Name, &mock.Manager{}, ch, nil)
	require.NoError(t, err)
	assert.IsType(t, &Strategy{}, s)
	assert.False(t, s.Finished())
	require.NoError(t, s.Close())

	_, err = strategy.FromWorker(context.Background(), Name, &mock.Manager{SettingsValue: frontier.Settings{"seed_score": -1}}, ch, nil)
	var cfgErr *frontier.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
