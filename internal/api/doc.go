// Package api hosts the operator HTTP server for the strategy worker.
// Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the worker's batch counters.
//   - GET /v1/states for request state totals from the state store.
//   - GET /v1/stream for the score update producer and sequence.
package api
