package spiderlog

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-strategy/internal/metrics"
)

const maxLineBytes = 16 << 20

// LinesSource replays a JSON-lines spider log, one event per line.
// Malformed lines are logged, counted and skipped.
type LinesSource struct {
	scanner   *bufio.Scanner
	closer    io.Closer
	batchSize int
	logger    *zap.Logger
	line      int
}

var _ Source = (*LinesSource)(nil)

// ReadJSONLines builds a source over r.
func ReadJSONLines(r io.Reader, batchSize int, logger *zap.Logger) *LinesSource {
	if batchSize <= 0 {
		batchSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	s := &LinesSource{scanner: scanner, batchSize: batchSize, logger: logger}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenJSONLines opens path and replays it.
func OpenJSONLines(path string, batchSize int, logger *zap.Logger) (*LinesSource, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied replay file
	if err != nil {
		return nil, fmt.Errorf("open spider log: %w", err)
	}
	return ReadJSONLines(f, batchSize, logger), nil
}

// Next reads up to batchSize events.
func (s *LinesSource) Next(ctx context.Context) (*Batch, error) {
	events := make([]Event, 0, s.batchSize)
	for len(events) < s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read spider log line %d: %w", s.line+1, err)
			}
			break
		}
		s.line++
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		e, err := Decode(line)
		if err != nil {
			metrics.ObserveMalformedEvent("jsonl")
			s.logger.Warn("skipping malformed spider log line", zap.Int("line", s.line), zap.Error(err))
			continue
		}
		events = append(events, e)
	}
	if len(events) == 0 {
		return nil, io.EOF
	}
	return NewBatch(events, nil), nil
}

// Close closes the underlying reader when it is closable.
func (s *LinesSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
