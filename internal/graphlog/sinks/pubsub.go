package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/ld-frontier/internal/graphlog"
)

// Publisher pushes one JSON message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
	Close() error
}

// PubSubSink publishes every edge as its own message.
type PubSubSink struct {
	pub   Publisher
	topic string
}

// NewPubSubSink publishes edges to topic through pub.
func NewPubSubSink(pub Publisher, topic string) (*PubSubSink, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("graph.pubsub.topic is required")
	}
	return &PubSubSink{pub: pub, topic: topic}, nil
}

// Consume publishes the batch; failures are joined so one bad publish does
// not stop the rest.
func (s *PubSubSink) Consume(ctx context.Context, batch []graphlog.Edge) error {
	var errs []error
	for _, e := range batch {
		attrs := map[string]string{"edge_id": e.ID.String()}
		if _, err := s.pub.Publish(ctx, s.topic, e, attrs); err != nil {
			errs = append(errs, fmt.Errorf("publish edge %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the publisher.
func (s *PubSubSink) Close(context.Context) error {
	return s.pub.Close()
}
