// Package sinks implements crawl-graph consumers: structured logging, an
// append-only tab-separated file, Pub/Sub publishing, and Prometheus
// counters. Each satisfies graphlog.Sink and tolerates repeated Consume/Close
// cycles.
package sinks
