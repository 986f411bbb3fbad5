// Package events publishes the settlement core's domain events. The
// notification and analytics layers subscribe; nothing in this core calls
// them synchronously.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics. One topic per event type; all events for one order share a
// partition key so consumers see them in order.
const (
	TopicOrderCreated    = "order.created"
	TopicOrderPaid       = "order.paid"
	TopicOrderShipped    = "order.shipped"
	TopicOrderDelivered  = "order.delivered"
	TopicOrderCancelled  = "order.cancelled"
	TopicOrderDisputed   = "order.disputed"
	TopicDisputeResolved = "dispute.resolved"
	TopicPayoutReleased  = "payout.released"
	TopicEscrowRefunded  = "escrow.refunded"
)

// Envelope wraps every published event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope around a marshaled payload.
func NewEnvelope(eventType, producer, orderID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       data,
	}, nil
}

// PartitionKey keeps one order's events on one partition.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// Publisher delivers envelopes to subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Close() error
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Envelope) error { return nil }
func (NopPublisher) Close() error                                    { return nil }
