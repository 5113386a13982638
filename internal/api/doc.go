// Package api hosts the status HTTP server that runs alongside a sweep.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for a JSON snapshot of the running sweep.
package api
