package updates

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
)

type scriptedTransport struct {
	mu       sync.Mutex
	failures []error
	calls    int
	messages []Message
	closed   bool
}

func (t *scriptedTransport) Publish(_ context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if len(t.failures) > 0 {
		err := t.failures[0]
		t.failures = t.failures[1:]
		return err
	}
	t.messages = append(t.messages, msg)
	return nil
}

func (t *scriptedTransport) Close() error {
	t.closed = true
	return nil
}

func newTestStream(t *testing.T, transport Transport, cfg Config) (*Stream, *[]time.Duration) {
	t.Helper()
	if cfg.Producer == "" {
		cfg.Producer = "partition-0"
	}
	s, err := NewStream(transport, cfg, nil)
	require.NoError(t, err)
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func TestPushSequencesInEmissionOrder(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{}
	s, _ := newTestStream(t, tr, Config{InstanceID: "inst-1"})
	ctx := context.Background()

	// The channel never deduplicates.
	d := frontier.ScoreDecision{URL: "https://example.com/", Fingerprint: "fp", Score: 0.8}
	require.NoError(t, s.Push(ctx, d))
	require.NoError(t, s.Push(ctx, d))
	require.NoError(t, s.Push(ctx, frontier.ScoreDecision{URL: "u2", Fingerprint: "fp2", DontQueue: true}))

	require.Len(t, tr.messages, 3)
	for i, msg := range tr.messages {
		assert.Equal(t, uint64(i+1), msg.Seq)
		assert.Equal(t, "partition-0", msg.Key)
		assert.Equal(t, "partition-0", msg.Attributes[AttrProducer])
		assert.Equal(t, "inst-1", msg.Attributes[AttrInstance])
	}
	assert.Equal(t, "3", tr.messages[2].Attributes[AttrSeq])
	assert.JSONEq(t, `["https://example.com/","fp",0.8,false]`, string(tr.messages[0].Data))
	assert.Equal(t, uint64(3), s.Seq())
}

func TestPushRejectsInvalidDecisions(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{}
	s, _ := newTestStream(t, tr, Config{})
	ctx := context.Background()

	for _, score := range []float64{-0.1, 1.5, math.NaN()} {
		err := s.Push(ctx, frontier.ScoreDecision{URL: "u", Fingerprint: "fp", Score: score})
		require.ErrorIs(t, err, frontier.ErrScoreOutOfRange)
		assert.False(t, frontier.IsFatal(err))
	}
	err := s.Push(ctx, frontier.ScoreDecision{URL: "u", Score: 1})
	require.ErrorIs(t, err, frontier.ErrContractViolation)

	assert.Zero(t, tr.calls)
	assert.Zero(t, s.Seq())
}

func TestPushRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{failures: []error{errors.New("unavailable"), errors.New("unavailable")}}
	s, slept := newTestStream(t, tr, Config{Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}})

	require.NoError(t, s.Push(context.Background(), frontier.ScoreDecision{URL: "u", Fingerprint: "fp", Score: 1}))
	assert.Equal(t, 3, tr.calls)
	assert.Len(t, *slept, 2)
	require.Len(t, tr.messages, 1)
	assert.Equal(t, uint64(1), tr.messages[0].Seq, "retries reuse the sequence number")
}

func TestPushRetriesRefusedConnections(t *testing.T) {
	t.Parallel()

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	tr := &scriptedTransport{failures: []error{refused}}
	s, slept := newTestStream(t, tr, Config{Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}})

	require.NoError(t, s.Push(context.Background(), frontier.ScoreDecision{URL: "u", Fingerprint: "fp", Score: 1}))
	assert.Equal(t, 2, tr.calls)
	assert.Len(t, *slept, 1)
	require.Len(t, tr.messages, 1)
}

func TestPushFailsAfterRetryBudget(t *testing.T) {
	t.Parallel()

	boom := errors.New("unavailable")
	tr := &scriptedTransport{failures: []error{boom, boom, boom}}
	s, _ := newTestStream(t, tr, Config{Retry: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}})

	err := s.Push(context.Background(), frontier.ScoreDecision{URL: "u", Fingerprint: "fp", Score: 1})
	require.ErrorIs(t, err, frontier.ErrDeliveryFailed)
	require.ErrorIs(t, err, boom)
	assert.True(t, frontier.IsFatal(err))
	assert.Equal(t, 2, tr.calls)
}

func TestPushDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{failures: []error{Permanent(errors.New("topic deleted"))}}
	s, slept := newTestStream(t, tr, Config{Retry: DefaultRetryPolicy()})

	err := s.Push(context.Background(), frontier.ScoreDecision{URL: "u", Fingerprint: "fp", Score: 1})
	require.ErrorIs(t, err, frontier.ErrDeliveryFailed)
	assert.Equal(t, 1, tr.calls)
	assert.Empty(t, *slept)
}

func TestPushHonoursCancellationDuringBackoff(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{failures: []error{errors.New("unavailable")}}
	s, err := NewStream(tr, Config{Producer: "p", Retry: RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Push(ctx, frontier.ScoreDecision{URL: "u", Fingerprint: "fp", Score: 1})
	require.ErrorIs(t, err, frontier.ErrDeliveryFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPushRateLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{}
	s, err := NewStream(tr, Config{Producer: "p", RateLimit: 0.001, Burst: 1}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Push(ctx, frontier.ScoreDecision{URL: "u", Fingerprint: "fp", Score: 1}))

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err = s.Push(short, frontier.ScoreDecision{URL: "u", Fingerprint: "fp", Score: 1})
	require.ErrorIs(t, err, frontier.ErrDeliveryFailed)
	assert.Equal(t, 1, tr.calls)
}

func TestNewStreamValidates(t *testing.T) {
	t.Parallel()

	_, err := NewStream(nil, Config{Producer: "p"}, nil)
	require.Error(t, err)
	_, err = NewStream(&scriptedTransport{}, Config{}, nil)
	require.Error(t, err)
	_, err = NewStream(&scriptedTransport{}, Config{Producer: "p", RateLimit: -1}, nil)
	require.Error(t, err)

	tr := &scriptedTransport{}
	s, err := NewStream(tr, Config{Producer: "p"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "p", s.Producer())
	require.NoError(t, s.Close())
	assert.True(t, tr.closed)
}
