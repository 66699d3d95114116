package spiderlog

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
)

func TestDecodeEvents(t *testing.T) {
	t.Parallel()

	e, err := Decode([]byte(`{"type":"page_crawled","response":{"request":{"url":"https://a","fingerprint":"fa"},"status_code":200},"links":[{"url":"https://b","fingerprint":"fb"}]}`))
	require.NoError(t, err)
	assert.Equal(t, PageCrawled, e.Type)
	require.Len(t, e.Requests(), 2)
	assert.Equal(t, "fa", e.Requests()[0].Fingerprint)
	assert.Equal(t, frontier.NotCrawled, e.Requests()[1].State)

	e, err = Decode([]byte(`{"type":"page_error","request":{"url":"https://a","fingerprint":"fa","state":"QUEUED"},"reason":"DNS"}`))
	require.NoError(t, err)
	assert.Equal(t, "DNS", e.Reason)
	assert.Equal(t, frontier.Queued, e.Request.State)
}

func TestDecodeRejectsMalformedEvents(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		`{"type":"page_crawled"}`,
		`{"type":"page_error"}`,
		`{"type":"offsets"}`,
		`{"type":"add_seeds","seeds":[{"url":"u","state":"LOST"}]}`,
		`[1,2]`,
	} {
		_, err := Decode([]byte(payload))
		require.ErrorIs(t, err, ErrMalformedEvent, payload)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	in := Event{Type: AddSeeds, Seeds: []*frontier.Request{{URL: "https://a", Fingerprint: "fa"}}}
	data, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestJSONLinesBatchesAndSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	log := strings.Join([]string{
		`{"type":"add_seeds","seeds":[{"url":"https://a","fingerprint":"fa"}]}`,
		`not json`,
		``,
		`{"type":"page_error","request":{"url":"https://a","fingerprint":"fa"},"reason":"timeout"}`,
		`{"type":"page_crawled","response":{"request":{"url":"https://a","fingerprint":"fa"}}}`,
	}, "\n")
	src := ReadJSONLines(strings.NewReader(log), 2, nil)
	ctx := context.Background()

	b, err := src.Next(ctx)
	require.NoError(t, err)
	require.Len(t, b.Events, 2)
	assert.Equal(t, AddSeeds, b.Events[0].Type)
	assert.Equal(t, PageError, b.Events[1].Type)
	require.NoError(t, b.Commit(ctx))

	b, err = src.Next(ctx)
	require.NoError(t, err)
	require.Len(t, b.Events, 1)
	assert.Equal(t, PageCrawled, b.Events[0].Type)

	_, err = src.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, src.Close())
}

func TestNilBatchCommit(t *testing.T) {
	t.Parallel()

	var b *Batch
	require.NoError(t, b.Commit(context.Background()))

	called := false
	b = NewBatch(nil, func(context.Context) error { called = true; return nil })
	require.NoError(t, b.Commit(context.Background()))
	assert.True(t, called)
}
