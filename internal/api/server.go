package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/metrics"
	"github.com/JakeFAU/frontier-strategy/internal/worker"
)

const countTimeout = 3 * time.Second

// StatusReporter exposes the worker's counters.
type StatusReporter interface {
	Stats() worker.Stats
}

// StateCounter totals request states by lifecycle state.
type StateCounter interface {
	Count(ctx context.Context) (map[frontier.RequestState]int64, error)
}

// StreamInfo describes the outbound score update stream.
type StreamInfo interface {
	Producer() string
	Seq() uint64
}

// Options carries the optional server settings.
type Options struct {
	Strategy string
	APIKey   string
}

// Server wires HTTP handlers to the running worker.
type Server struct {
	router  chi.Router
	status  StatusReporter
	states  StateCounter
	stream  StreamInfo
	opts    Options
	logger  *zap.Logger
	started time.Time
}

// NewServer constructs a Server with middleware and routes. states and
// stream may be nil.
func NewServer(
	status StatusReporter,
	states StateCounter,
	stream StreamInfo,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		status:  status,
		states:  states,
		stream:  stream,
		opts:    opts,
		logger:  logger,
		started: time.Now(),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle(metrics.ScrapePath, metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/status", s.getStatus)
		r.Get("/states", s.getStates)
		r.Get("/stream", s.getStream)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready until the worker has closed its strategy.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.status != nil && s.status.Stats().Closed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "worker unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategy":       s.opts.Strategy,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"stats":          s.status.Stats(),
	})
}

// getStates handles GET /v1/states. It returns {"states": {...}, "total": n}
// or 503 when no state counter is configured.
func (s *Server) getStates(w http.ResponseWriter, r *http.Request) {
	if s.states == nil {
		writeError(w, http.StatusServiceUnavailable, "state store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), countTimeout)
	defer cancel()

	counts, err := s.states.Count(ctx)
	if err != nil {
		s.logger.Error("count request states failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count request states")
		return
	}
	out := make(map[string]int64, len(counts))
	var total int64
	for state, n := range counts {
		out[state.String()] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": out, "total": total})
}

func (s *Server) getStream(w http.ResponseWriter, _ *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "score update stream unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"producer": s.stream.Producer(),
		"seq":      s.stream.Seq(),
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
