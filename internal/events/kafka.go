package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes envelopes to Kafka. Topic comes from the event
// type; the order id is the message key so one order's events stay on one
// partition and keep their order.
type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish writes one envelope. Delivery failures are logged, not
// propagated: event emission never fails a committed settlement action.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   PartitionKey(env.CorrelationID),
		Value: value,
	})
	if err != nil {
		slog.Error("event publish failed", "topic", topic, "event_id", env.EventID, "err", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error { return p.w.Close() }
