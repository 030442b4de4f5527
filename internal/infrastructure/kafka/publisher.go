package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bibbank/impairment-engine/internal/domain/event"
)

// JSONPublisher is satisfied by *pkg/kafka.Producer.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any, headers map[string]string) error
}

// EventPublisher writes domain events to a single Kafka topic, keyed by
// aggregate id so the events of one run stay ordered.
type EventPublisher struct {
	producer JSONPublisher
	topic    string
	logger   *slog.Logger
}

// NewEventPublisher creates a publisher targeting the given producer and topic.
func NewEventPublisher(producer JSONPublisher, topic string, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Publish serialises and sends domain events.
func (p *EventPublisher) Publish(ctx context.Context, events ...event.DomainEvent) error {
	for _, evt := range events {
		p.logger.DebugContext(ctx, "publishing domain event",
			"event_type", evt.EventType(),
			"aggregate_id", evt.AggregateID(),
			"topic", p.topic,
		)

		headers := map[string]string{
			"event_type": evt.EventType(),
			"event_id":   evt.EventID(),
		}
		if err := p.producer.PublishJSON(ctx, p.topic, evt.AggregateID(), evt, headers); err != nil {
			return fmt.Errorf("failed to publish %s to topic %s: %w", evt.EventType(), p.topic, err)
		}
	}
	return nil
}
