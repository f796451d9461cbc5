// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - /v1/articles for registering articles and adjusting their schedule.
//   - /v1/articles/{id}/versions and /v1/search for browsing stored versions.
//   - POST /v1/discovery/run to scan the overview page on demand.
package api
