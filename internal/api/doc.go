// Package api hosts the HTTP server, middleware, and REST handlers for the search service.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit a URL list, GET /v1/jobs/{job_id} and /results to read it back,
//     POST /v1/jobs/{job_id}/cancel to stop it.
package api
