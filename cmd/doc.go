// Package cmd defines the CLI commands for the ld-frontier executable.
//
// Architecture overview:
//   - serve: internal/server builds the frontier (known-URI filter over the configured record store,
//     scheme filter, resolver/classifier, politeness queue) and exposes the worker protocol through
//     internal/api. Completion reports feed the crawl-graph hub and its sinks (log, TSV, Prometheus,
//     Pub/Sub). An optional seed file is admitted once the listener is up.
//   - worker: the reference worker polls /v1/uris/next, fetches each URI with Colly, writes the raw
//     response to the configured blob store (memory/local/GCS) and reports every dispatched URI back
//     through /v1/crawling-done so its host is released.
//   - seed: reads a seed CSV or URI list (local or gs://) and posts it to a running frontier.
//
// Quick checklist:
//   - Configure env vars: FRONTIER_SERVER_PORT or PORT, FRONTIER_FILTER_BACKEND (memory, postgres,
//     sqlite, redis) with FRONTIER_DATABASE_DSN / FRONTIER_SQLITE_DIR / FRONTIER_REDIS_ADDR,
//     FRONTIER_FRONTIER_RECRAWL_ENABLED, FRONTIER_AUTH_API_KEY.
//   - Run locally: go run . serve --config config.yaml, then go run . worker.
package cmd
