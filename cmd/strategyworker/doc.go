// Package main hosts the strategy worker entrypoint.
//
// Architecture overview:
//   - Spider log: crawl events (add_seeds, page_crawled, page_error) arrive in batches from an in-memory log,
//     a JSON-lines replay file or a Pub/Sub subscription. A batch is acknowledged only after the states it
//     produced were persisted.
//   - Worker: internal/worker fills missing fingerprints, hydrates request states from the state store
//     (memory or Postgres), dispatches each event to the configured crawling strategy on a single goroutine,
//     enforces the request lifecycle and writes the changed states back.
//   - Strategies: internal/strategy holds the registry; basic, backoff and discovery register themselves by
//     name and read their settings from strategy.settings.
//   - Score updates: every scheduling decision goes through internal/updates.Stream, which rate limits,
//     sequences and retries it onto the configured transport (memory, Postgres score log or an ordered
//     Pub/Sub topic keyed by the producer partition).
//   - Ops: internal/api serves /healthz, /readyz, /metrics and read-only /v1 status routes.
//
// Quick checklist:
//   - Configure env vars: STRATEGY_STRATEGY_NAME, STRATEGY_UPDATES_PRODUCER, STRATEGY_SPIDERLOG_SOURCE,
//     STRATEGY_DB_DSN and the STRATEGY_PUBSUB_* names when durable backends are used.
//   - Run locally: go run ./cmd/strategyworker run --config config.yaml
//   - List strategies: go run ./cmd/strategyworker strategies
package main
