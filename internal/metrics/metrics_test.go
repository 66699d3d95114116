package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if workerEventsTotal == nil || updatesPushedTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveEvent(t *testing.T) {
	before := testutil.ToFloat64(workerEventsTotalFor("page_crawled", "ok"))
	ObserveEvent("page_crawled", "ok")
	ObserveEvent("page_crawled", "ok")
	if got := testutil.ToFloat64(workerEventsTotalFor("page_crawled", "ok")); got != before+2 {
		t.Errorf("expected strategy_events_total to grow by 2, got %f -> %f", before, got)
	}
}

func TestObservePush(t *testing.T) {
	Init()
	before := testutil.ToFloat64(updatesPushedTotal.WithLabelValues("ok", "true"))
	ObservePush("ok", true, 5*time.Millisecond)
	if got := testutil.ToFloat64(updatesPushedTotal.WithLabelValues("ok", "true")); got != before+1 {
		t.Errorf("expected score_updates_total{ok,true} to grow by 1, got %f -> %f", before, got)
	}
	if n := testutil.CollectAndCount(updatesPushDurationSeconds); n != 1 {
		t.Errorf("expected the push histogram to be collected, got %d", n)
	}
}

func TestSetFinished(t *testing.T) {
	SetFinished(true)
	if got := testutil.ToFloat64(workerFinished); got != 1 {
		t.Errorf("expected finished gauge 1, got %f", got)
	}
	SetFinished(false)
	if got := testutil.ToFloat64(workerFinished); got != 0 {
		t.Errorf("expected finished gauge 0, got %f", got)
	}
}

func workerEventsTotalFor(eventType, outcome string) prometheus.Counter {
	Init()
	return workerEventsTotal.WithLabelValues(eventType, outcome)
}
