package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/worker"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(Options{}), "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_ReadyzReflectsWorkerState(t *testing.T) {
	t.Parallel()

	status := &fakeStatus{}
	server := NewServer(status, nil, nil, Options{}, zap.NewNop())

	rec := serve(t, server, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	status.stats.Closed = true
	rec = serve(t, server, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_GetStatus(t *testing.T) {
	t.Parallel()

	status := &fakeStatus{stats: worker.Stats{Batches: 3, Events: 12, EventErrors: 1, Finished: true}}
	server := NewServer(status, nil, nil, Options{Strategy: "discovery"}, zap.NewNop())

	rec := serve(t, server, "/v1/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Strategy string       `json:"strategy"`
		Stats    worker.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "discovery", body.Strategy)
	require.Equal(t, status.stats, body.Stats)
}

func TestServer_GetStates(t *testing.T) {
	t.Parallel()

	counter := &fakeCounter{counts: map[frontier.RequestState]int64{
		frontier.Crawled: 4,
		frontier.Queued:  2,
	}}
	server := NewServer(&fakeStatus{}, counter, nil, Options{}, zap.NewNop())

	rec := serve(t, server, "/v1/states", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		States map[string]int64 `json:"states"`
		Total  int64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(6), body.Total)
	require.Equal(t, int64(4), body.States["CRAWLED"])
}

func TestServer_GetStatesErrors(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(Options{}), "/v1/states", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	failing := NewServer(&fakeStatus{}, &fakeCounter{err: errors.New("db down")}, nil, Options{}, zap.NewNop())
	rec = serve(t, failing, "/v1/states", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to count request states")
}

func TestServer_GetStream(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeStatus{}, nil, fakeStream{producer: "partition-3", seq: 41}, Options{}, zap.NewNop())

	rec := serve(t, server, "/v1/stream", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"producer":"partition-3","seq":41}`, rec.Body.String())
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(Options{APIKey: "secret"})

	rec := serve(t, server, "/v1/status", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, server, "/v1/status", "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = serve(t, server, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(Options{})
	serve(t, server, "/healthz", "")

	rec := serve(t, server, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(Options{}), "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	newTestServer(Options{}).Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	s := newTestServer(Options{})
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func serve(t *testing.T, s *Server, path, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func newTestServer(opts Options) *Server {
	return NewServer(&fakeStatus{}, nil, nil, opts, zap.NewNop())
}

type fakeStatus struct {
	stats worker.Stats
}

func (f *fakeStatus) Stats() worker.Stats { return f.stats }

type fakeCounter struct {
	counts map[frontier.RequestState]int64
	err    error
}

func (f *fakeCounter) Count(context.Context) (map[frontier.RequestState]int64, error) {
	return f.counts, f.err
}

type fakeStream struct {
	producer string
	seq      uint64
}

func (f fakeStream) Producer() string { return f.producer }
func (f fakeStream) Seq() uint64      { return f.seq }

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

