// Package spiderlog defines the crawl events consumed by the strategy worker
// and the sources they are read from.
package spiderlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
)

// EventType names a spider log event.
type EventType string

// Event types.
const (
	AddSeeds    EventType = "add_seeds"
	PageCrawled EventType = "page_crawled"
	PageError   EventType = "page_error"
)

// ErrMalformedEvent reports an event that cannot be delivered to a strategy.
var ErrMalformedEvent = errors.New("malformed spider log event")

// Event is one entry of the spider log.
type Event struct {
	Type     EventType           `json:"type"`
	Seeds    []*frontier.Request `json:"seeds,omitempty"`
	Response *frontier.Response  `json:"response,omitempty"`
	Links    []*frontier.Request `json:"links,omitempty"`
	Request  *frontier.Request   `json:"request,omitempty"`
	Reason   string              `json:"reason,omitempty"`

	// Attributes holds transport metadata, such as trace propagation
	// fields, delivered alongside the payload.
	Attributes map[string]string `json:"-"`
}

// Validate checks that the payload matches the event type.
func (e Event) Validate() error {
	switch e.Type {
	case AddSeeds:
		if slices.Contains(e.Seeds, nil) {
			return fmt.Errorf("%w: add_seeds with a null seed", ErrMalformedEvent)
		}
	case PageCrawled:
		if e.Response == nil || e.Response.Request == nil {
			return fmt.Errorf("%w: page_crawled without a request", ErrMalformedEvent)
		}
		if slices.Contains(e.Links, nil) {
			return fmt.Errorf("%w: page_crawled with a null link", ErrMalformedEvent)
		}
	case PageError:
		if e.Request == nil {
			return fmt.Errorf("%w: page_error without a request", ErrMalformedEvent)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Type)
	}
	return nil
}

// Requests lists every request the event refers to, in payload order.
func (e Event) Requests() []*frontier.Request {
	var out []*frontier.Request
	switch e.Type {
	case AddSeeds:
		out = append(out, e.Seeds...)
	case PageCrawled:
		if e.Response != nil && e.Response.Request != nil {
			out = append(out, e.Response.Request)
		}
		out = append(out, e.Links...)
	case PageError:
		if e.Request != nil {
			out = append(out, e.Request)
		}
	}
	return out
}

// Encode marshals e as JSON.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Decode unmarshals and validates a JSON event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
