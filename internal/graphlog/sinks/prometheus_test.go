package sinks

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ld-frontier/internal/graphlog"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms move with each edge.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []graphlog.Edge{
		edge([]string{"http://a/"}, []string{"http://a/1", "http://a/2"}),
		edge([]string{"http://b/", "http://c/"}, nil),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.edges))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.completed))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.discovered))
	require.Equal(t, 1, testutil.CollectAndCount(sink.fanout, "frontier_graph_edge_fanout"))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "duplicate registration must fail")
}
