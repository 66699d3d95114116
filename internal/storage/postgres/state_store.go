// Package postgres provides the Postgres-backed request state store.
//
// Expected schema:
//
//	CREATE TABLE request_states (
//		fingerprint TEXT PRIMARY KEY,
//		state       TEXT NOT NULL,
//		updated_at  TIMESTAMPTZ NOT NULL
//	);
package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/frontier-strategy/internal/database"
	"github.com/JakeFAU/frontier-strategy/internal/frontier"
)

// DefaultTable is the request state table name.
const DefaultTable = "request_states"

type queryExecer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
}

// StateStore persists the lifecycle state of every fingerprint the worker
// has observed.
type StateStore struct {
	pool  queryExecer
	table string
	clock frontier.Clock
}

// NewStateStore constructs a store from an existing pool.
func NewStateStore(pool queryExecer, table string, clock frontier.Clock) (*StateStore, error) {
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
	return &StateStore{pool: pool, table: table, clock: clock}, nil
}

// Fetch loads the states of fingerprints. Unknown fingerprints are absent
// from the result.
func (s *StateStore) Fetch(ctx context.Context, fingerprints []string) (map[string]frontier.RequestState, error) {
	out := make(map[string]frontier.RequestState, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(`SELECT fingerprint, state FROM %s WHERE fingerprint = ANY($1)`, s.table)
	rows, err := s.pool.Query(ctx, query, fingerprints)
	if err != nil {
		return nil, fmt.Errorf("select request states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fp, name string
		if err := rows.Scan(&fp, &name); err != nil {
			return nil, fmt.Errorf("scan request state: %w", err)
		}
		state, err := frontier.ParseRequestState(name)
		if err != nil {
			return nil, fmt.Errorf("request state of %s: %w", fp, err)
		}
		out[fp] = state
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request states: %w", err)
	}
	return out, nil
}

// Save upserts states in one statement. Fingerprints are written in sorted
// order so concurrent workers lock rows consistently.
func (s *StateStore) Save(ctx context.Context, states map[string]frontier.RequestState) error {
	if len(states) == 0 {
		return nil
	}
	fps := make([]string, 0, len(states))
	for fp := range states {
		fps = append(fps, fp)
	}
	slices.Sort(fps)
	names := make([]string, len(fps))
	for i, fp := range fps {
		names[i] = states[fp].String()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (fingerprint, state, updated_at)
SELECT fp, st, $3 FROM unnest($1::text[], $2::text[]) AS t(fp, st)
ON CONFLICT (fingerprint) DO UPDATE
SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, fps, names, s.clock.Now()); err != nil {
		return fmt.Errorf("upsert request states: %w", err)
	}
	return nil
}

// Count tallies fingerprints per state.
func (s *StateStore) Count(ctx context.Context) (map[frontier.RequestState]int64, error) {
	query := fmt.Sprintf(`SELECT state, count(*) FROM %s GROUP BY state`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count request states: %w", err)
	}
	defer rows.Close()
	out := make(map[frontier.RequestState]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		state, err := frontier.ParseRequestState(name)
		if err != nil {
			return nil, err
		}
		out[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}
	return out, nil
}

// Close is a no-op. The pool is shared and belongs to whoever opened it.
func (s *StateStore) Close() error {
	return nil
}
