// Package graphlog records the crawl graph: one edge per completion report,
// linking the URIs a worker finished to the URIs it discovered. Edges are
// buffered by a non-blocking Hub and flushed in batches to pluggable sinks
// (structured logs, a tab-separated file, Pub/Sub, Prometheus). Nothing here
// ever influences scheduling.
package graphlog
