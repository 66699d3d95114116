// Package postgres appends score updates to a Postgres table that the
// backend consumes.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/frontier-strategy/internal/database"
	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/updates"
)

// DefaultTable is the score log table name.
const DefaultTable = "score_updates"

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

var _ updates.Transport = (*ScoreLog)(nil)

// ScoreLog writes one row per message. Rows are unique on
// (producer, instance, seq) so retried publishes do not duplicate.
type ScoreLog struct {
	pool  execer
	table string
	clock frontier.Clock
	query string
}

// NewScoreLog constructs a ScoreLog from an existing pool.
func NewScoreLog(pool execer, table string, clock frontier.Clock) (*ScoreLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	table, err := database.TableName(table, DefaultTable)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	producer,
	instance,
	seq,
	url,
	fingerprint,
	score,
	dont_queue,
	payload,
	published_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (producer, instance, seq) DO NOTHING`, table)
	return &ScoreLog{pool: pool, table: table, clock: clock, query: query}, nil
}

// Publish inserts msg. The insert commits before Publish returns.
func (l *ScoreLog) Publish(ctx context.Context, msg updates.Message) error {
	d := msg.Decision
	args := []any{
		msg.Key,
		msg.Attributes[updates.AttrInstance],
		int64(msg.Seq),
		d.URL,
		d.Fingerprint,
		d.Score,
		d.DontQueue,
		msg.Data,
		l.clock.Now(),
	}
	if _, err := l.pool.Exec(ctx, l.query, args...); err != nil {
		return fmt.Errorf("insert score update: %w", err)
	}
	return nil
}

// Close is a no-op. The pool is shared and belongs to whoever opened it.
func (l *ScoreLog) Close() error {
	return nil
}
