package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/ld-frontier/internal/graphlog"
)

// PrometheusSink counts edges and the URIs they carry.
type PrometheusSink struct {
	edges      prometheus.Counter
	completed  prometheus.Counter
	discovered prometheus.Counter
	fanout     prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		edges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontier_graph_edges_total",
			Help: "Crawl-graph edges recorded.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontier_graph_completed_uris_total",
			Help: "Completed URIs carried by crawl-graph edges.",
		}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontier_graph_discovered_uris_total",
			Help: "Discovered URIs carried by crawl-graph edges.",
		}),
		fanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frontier_graph_edge_fanout",
			Help:    "Discovered URIs per edge.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
		}),
	}
	for _, collector := range []prometheus.Collector{s.edges, s.completed, s.discovered, s.fanout} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register graph collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []graphlog.Edge) error {
	for _, e := range batch {
		s.edges.Inc()
		s.completed.Add(float64(len(e.Completed)))
		s.discovered.Add(float64(len(e.Discovered)))
		s.fanout.Observe(float64(len(e.Discovered)))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
