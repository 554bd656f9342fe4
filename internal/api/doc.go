// Package api hosts the watch-mode status server. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for run history via the
//     store.RunRepository interface.
package api
