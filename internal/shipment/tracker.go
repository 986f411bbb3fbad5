// Package shipment records carrier state transitions feeding the order
// state machine.
//
// Carrier webhooks arrive duplicated and out of order; applying an event
// that would regress the canonical status is a logged no-op, never an
// error, so webhook retries stay idempotent.
package shipment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/settle"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/store"
)

// carrierVocab maps raw carrier status strings onto the three canonical
// states. Keys are upper-cased before lookup.
var carrierVocab = map[string]model.ShipmentStatus{
	"LABEL_CREATED":     model.ShipmentLabelCreated,
	"PICKUP_SCHEDULED":  model.ShipmentLabelCreated,
	"PICKED_UP":         model.ShipmentInTransit,
	"IN_TRANSIT":        model.ShipmentInTransit,
	"ARRIVED_AT_HUB":    model.ShipmentInTransit,
	"OUT_FOR_DELIVERY":  model.ShipmentInTransit,
	"DELIVERY_ATTEMPT":  model.ShipmentInTransit,
	"DELIVERED":         model.ShipmentDelivered,
	"PROOF_OF_DELIVERY": model.ShipmentDelivered,
}

// Canonical maps a carrier status onto the canonical vocabulary.
// Unknown statuses are a validation error.
func Canonical(carrierStatus string) (model.ShipmentStatus, error) {
	st, ok := carrierVocab[strings.ToUpper(strings.TrimSpace(carrierStatus))]
	if !ok {
		return "", fmt.Errorf("unknown carrier status %q: %w", carrierStatus, settle.ErrValidation)
	}
	return st, nil
}

// Tracker applies carrier events to an order's shipment row.
type Tracker struct {
	store store.Store
}

// NewTracker creates a shipment tracker.
func NewTracker(st store.Store) *Tracker {
	return &Tracker{store: st}
}

// RecordEvent maps the carrier status and applies it under the monotonic
// guard. Returns the shipment's canonical status after the event, which is
// unchanged for duplicates and regressions.
func (t *Tracker) RecordEvent(ctx context.Context, orderID, carrier, trackingCode, carrierStatus string) (model.ShipmentStatus, error) {
	canonical, err := Canonical(carrierStatus)
	if err != nil {
		return "", err
	}

	sh, err := t.store.GetShipmentByOrder(ctx, orderID)
	if err != nil {
		return "", err
	}

	if sh == nil {
		sh = &model.Shipment{
			ID:           uuid.New().String(),
			OrderID:      orderID,
			Carrier:      carrier,
			TrackingCode: trackingCode,
			Status:       canonical,
			UpdatedAt:    time.Now().UTC(),
		}
		if err := t.store.UpsertShipment(ctx, sh); err != nil {
			return "", err
		}
		slog.Info("shipment created",
			"order_id", orderID, "carrier", carrier, "status", canonical)
		return canonical, nil
	}

	// Monotonic guard: delivered never regresses to in_transit.
	if canonical.Rank() <= sh.Status.Rank() {
		slog.Info("stale shipment event ignored",
			"order_id", orderID,
			"current", sh.Status,
			"event", carrierStatus,
		)
		return sh.Status, nil
	}

	sh.Status = canonical
	sh.UpdatedAt = time.Now().UTC()
	if trackingCode != "" {
		sh.TrackingCode = trackingCode
	}
	if err := t.store.UpsertShipment(ctx, sh); err != nil {
		return "", err
	}

	slog.Info("shipment advanced",
		"order_id", orderID, "carrier", sh.Carrier, "status", canonical)
	return canonical, nil
}

// Get returns the order's shipment, or nil when no label exists yet.
func (t *Tracker) Get(ctx context.Context, orderID string) (*model.Shipment, error) {
	return t.store.GetShipmentByOrder(ctx, orderID)
}
