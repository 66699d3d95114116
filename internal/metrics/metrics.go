// Package metrics exposes Prometheus collectors for the strategy worker.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	workerEventsTotal             *prometheus.CounterVec
	workerBatchesTotal            prometheus.Counter
	workerBatchDurationSeconds    prometheus.Histogram
	workerIllegalTransitionsTotal *prometheus.CounterVec
	workerFinished                prometheus.Gauge
	spiderlogMalformedTotal       *prometheus.CounterVec
	updatesPushedTotal            *prometheus.CounterVec
	updatesPublishRetriesTotal    prometheus.Counter
	updatesPushDurationSeconds    prometheus.Histogram
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		workerEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strategy_events_total",
				Help: "Spider log events delivered to the strategy, labeled by type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		workerBatchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "strategy_batches_total",
				Help: "Total number of spider log batches processed.",
			},
		)

		workerBatchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "strategy_batch_duration_seconds",
				Help:    "Histogram of batch processing latencies, including persistence and commit.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		workerIllegalTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strategy_illegal_transitions_total",
				Help: "State transitions rejected by the worker, labeled by source and target state.",
			},
			[]string{"from", "to"},
		)

		workerFinished = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "strategy_finished",
				Help: "1 once the strategy reported the crawl as finished.",
			},
		)

		spiderlogMalformedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spiderlog_malformed_events_total",
				Help: "Spider log messages that could not be decoded, labeled by source.",
			},
			[]string{"source"},
		)

		updatesPushedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "score_updates_total",
				Help: "Score decisions pushed, labeled by result and queue flag.",
			},
			[]string{"result", "dont_queue"},
		)

		updatesPublishRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "score_update_publish_retries_total",
				Help: "Transport publish attempts that were retried.",
			},
		)

		updatesPushDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "score_update_push_duration_seconds",
				Help:    "Histogram of Push latencies until the transport acknowledged.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEvent counts one strategy event.
func ObserveEvent(eventType, outcome string) {
	Init()
	workerEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveBatch records a processed batch.
func ObserveBatch(duration time.Duration) {
	Init()
	workerBatchesTotal.Inc()
	workerBatchDurationSeconds.Observe(duration.Seconds())
}

// ObserveIllegalTransition counts a rejected state change.
func ObserveIllegalTransition(from, to string) {
	Init()
	workerIllegalTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetFinished flips the finished gauge.
func SetFinished(finished bool) {
	Init()
	if finished {
		workerFinished.Set(1)
		return
	}
	workerFinished.Set(0)
}

// ObserveMalformedEvent counts an undecodable spider log message.
func ObserveMalformedEvent(source string) {
	Init()
	spiderlogMalformedTotal.WithLabelValues(source).Inc()
}

// ObservePush records the outcome of one ScoreUpdateChannel push.
func ObservePush(result string, dontQueue bool, duration time.Duration) {
	Init()
	updatesPushedTotal.WithLabelValues(result, strconv.FormatBool(dontQueue)).Inc()
	if duration > 0 {
		updatesPushDurationSeconds.Observe(duration.Seconds())
	}
}

// ObservePublishRetry counts a retried transport publish.
func ObservePublishRetry() {
	Init()
	updatesPublishRetriesTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
