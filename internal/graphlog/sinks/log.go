package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/graphlog"
)

// LogSink emits one structured log line per edge. It is useful during
// development or audits where no durable sink is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each edge in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []graphlog.Edge) error {
	for _, e := range batch {
		s.logger.Info("crawl graph edge",
			zap.Stringer("edge_id", e.ID),
			zap.Time("ts", e.TS),
			zap.Strings("completed", e.Completed),
			zap.Strings("discovered", e.Discovered),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
