// Package frontier defines the core types shared by crawling strategies, the
// score-update channel, and the strategy worker that drives them.
package frontier

import (
	"fmt"
	"math"
	"net/http"
	"strings"
)

// RequestState is the lifecycle state of a crawl target as tracked by the backend.
type RequestState uint8

// Request states. Numeric values match the backend's persisted encoding.
const (
	NotCrawled RequestState = iota
	Queued
	Crawled
	Error
)

var stateNames = [...]string{
	NotCrawled: "NOT_CRAWLED",
	Queued:     "QUEUED",
	Crawled:    "CRAWLED",
	Error:      "ERROR",
}

// String returns the wire name of the state.
func (s RequestState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("RequestState(%d)", uint8(s))
}

// Valid reports whether s is one of the known states.
func (s RequestState) Valid() bool {
	return int(s) < len(stateNames)
}

// ParseRequestState converts a wire name (case-insensitive) into a RequestState.
func ParseRequestState(name string) (RequestState, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == upper {
			return RequestState(i), nil
		}
	}
	return NotCrawled, fmt.Errorf("unknown request state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s RequestState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid request state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RequestState) UnmarshalText(text []byte) error {
	parsed, err := ParseRequestState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s RequestState) rank() int {
	switch s {
	case NotCrawled:
		return 0
	case Queued:
		return 1
	default:
		return 2
	}
}

// CanTransition reports whether moving from s to next respects the request
// lifecycle: NOT_CRAWLED -> QUEUED -> {CRAWLED | ERROR}, with ERROR -> QUEUED
// allowed for retries. Staying in the same state is always allowed.
func (s RequestState) CanTransition(next RequestState) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case Crawled:
		return false
	case Error:
		return next == Queued
	}
	return next.rank() > s.rank()
}

// Request is an addressable crawl target. Strategies may change State and
// Meta but must leave URL and Fingerprint untouched.
type Request struct {
	URL         string         `json:"url"`
	Fingerprint string         `json:"fingerprint"`
	State       RequestState   `json:"state"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// NewRequest builds a Request in the NOT_CRAWLED state.
func NewRequest(url, fingerprint string) *Request {
	return &Request{URL: url, Fingerprint: fingerprint, Meta: make(map[string]any)}
}

// SetMeta stores a strategy annotation, allocating Meta on first use.
func (r *Request) SetMeta(key string, value any) {
	if r.Meta == nil {
		r.Meta = make(map[string]any)
	}
	r.Meta[key] = value
}

// MetaValue returns the annotation stored under key.
func (r *Request) MetaValue(key string) (any, bool) {
	if r == nil || r.Meta == nil {
		return nil, false
	}
	v, ok := r.Meta[key]
	return v, ok
}

// Response is the result of a successful fetch of Request.
type Response struct {
	Request    *Request       `json:"request"`
	StatusCode int            `json:"status_code"`
	Headers    http.Header    `json:"headers,omitempty"`
	Body       []byte         `json:"body,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// DefaultScore is the priority used when a strategy schedules without an explicit score.
const DefaultScore = 1.0

// ScoreDecision is one scheduling decision emitted by a strategy. With
// DontQueue unset the fingerprint is (re)inserted into the crawl queue with
// Score; with DontQueue set only the stored score is updated.
type ScoreDecision struct {
	URL         string  `json:"url"`
	Fingerprint string  `json:"fingerprint"`
	Score       float64 `json:"score"`
	DontQueue   bool    `json:"dont_queue"`
}

// Validate rejects decisions a strategy should never produce.
func (d ScoreDecision) Validate() error {
	if d.Fingerprint == "" {
		return &MissingFingerprintError{URL: d.URL}
	}
	if math.IsNaN(d.Score) || d.Score < 0 || d.Score > 1 {
		return fmt.Errorf("%w: %v for %s", ErrScoreOutOfRange, d.Score, d.Fingerprint)
	}
	return nil
}
