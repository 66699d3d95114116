package updates

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
)

// ErrMalformed reports a payload that is not a score update tuple.
var ErrMalformed = errors.New("malformed score update")

// Encode renders d as the wire tuple [url, fingerprint, score, dont_queue].
func Encode(d frontier.ScoreDecision) ([]byte, error) {
	data, err := json.Marshal([]any{d.URL, d.Fingerprint, d.Score, d.DontQueue})
	if err != nil {
		return nil, fmt.Errorf("marshal score update: %w", err)
	}
	return data, nil
}

// Decode parses a wire tuple produced by Encode.
func Decode(data []byte) (frontier.ScoreDecision, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return frontier.ScoreDecision{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(raw) != 4 {
		return frontier.ScoreDecision{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformed, len(raw))
	}
	var d frontier.ScoreDecision
	fields := []any{&d.URL, &d.Fingerprint, &d.Score, &d.DontQueue}
	for i, field := range fields {
		if err := json.Unmarshal(raw[i], field); err != nil {
			return frontier.ScoreDecision{}, fmt.Errorf("%w: field %d: %w", ErrMalformed, i, err)
		}
	}
	return d, nil
}
