// Package api serves the worker protocol over HTTP/JSON. Notable routes:
//   - POST /v1/uris/next hands out the next dispatch batch.
//   - POST /v1/crawling-done reports completed and discovered URIs.
//   - POST /v1/uris admits URIs, typically a seed list.
//   - GET /v1/stats reports queue sizes.
//   - GET /healthz, /readyz for health checks and GET /metrics for Prometheus.
//
// Routes under /v1 honor the optional API key and per-worker rate limit.
package api
