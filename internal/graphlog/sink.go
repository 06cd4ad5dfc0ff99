package graphlog

import "context"

// Sink consumes batches of edges. Implementations must be safe for repeated
// calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Edge) error
	Close(ctx context.Context) error
}
