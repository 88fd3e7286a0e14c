// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scrape to resolve a batch of ISBNs synchronously.
//   - GET /v1/resources, POST /v1/resources/{id}/reset and GET /v1/tabs for
//     resource health and tab pool inspection.
//   - GET /v1/runs and /v1/runs/{run_id}/resources for run history via the
//     store.RunRepository interface.
package api
