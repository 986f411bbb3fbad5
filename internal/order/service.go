// Package order implements the order state machine, the orchestrator that
// owns the canonical order status, validates every transition, and invokes
// the risk gate, escrow manager, shipment tracker, and dispute resolver.
//
// All state-mutating operations on one order id serialize on a per-order
// lock; orders for different buyers and sellers proceed in parallel. Guard
// failures mutate nothing: the machine never partially applies a transition.
package order

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/dispute"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/escrow"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/events"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/ledger"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/locking"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/metrics"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/risk"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/settle"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/shipment"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/store"
)

// Service orchestrates the settlement lifecycle.
type Service struct {
	store     store.Store
	gate      *risk.Gate
	escrow    *escrow.Manager
	tracker   *shipment.Tracker
	resolver  *dispute.Resolver
	ledger    *ledger.Service
	publisher events.Publisher
	producer  string
	locks     *locking.KeyedMutex
	wsHub     *WSHub // optional, nil when broadcasting is not needed
}

// NewService wires the orchestrator. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, gate *risk.Gate, esc *escrow.Manager, tracker *shipment.Tracker,
	resolver *dispute.Resolver, led *ledger.Service, pub events.Publisher, producer string, hub *WSHub) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{
		store:     st,
		gate:      gate,
		escrow:    esc,
		tracker:   tracker,
		resolver:  resolver,
		ledger:    led,
		publisher: pub,
		producer:  producer,
		locks:     locking.NewKeyedMutex(),
		wsHub:     hub,
	}
}

// CreateInput is the buyer-checkout snapshot handed to the state machine.
// Line items come priced from the catalog collaborator; risk signals come
// from the auth/history collaborators.
type CreateInput struct {
	BuyerID          string           `json:"buyer_id"`
	SellerID         string           `json:"seller_id"`
	Currency         string           `json:"currency"`
	AddressID        string           `json:"address_id"`
	PaymentMethodRef string           `json:"payment_method_ref"`
	Items            []model.LineItem `json:"items"`
	RiskSignals      risk.Signals     `json:"risk_signals"`
}

func (in *CreateInput) validate() error {
	if in.BuyerID == "" || in.SellerID == "" {
		return fmt.Errorf("buyer_id and seller_id are required: %w", settle.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("at least one line item is required: %w", settle.ErrValidation)
	}
	for _, it := range in.Items {
		if it.ProductID == "" {
			return fmt.Errorf("line item product_id is required: %w", settle.ErrValidation)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("line item quantity must be positive: %w", settle.ErrValidation)
		}
		if it.UnitPrice < 0 {
			return fmt.Errorf("line item unit_price must not be negative: %w", settle.ErrValidation)
		}
	}
	return nil
}

// Create runs the checkout flow: persist the order, consult the risk gate,
// capture escrow, confirm. A block verdict cancels the order before any
// money moves; a capture failure leaves the order in created with no hold.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Order, *model.RiskDecision, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	var total int64
	for _, it := range in.Items {
		total += it.Quantity * it.UnitPrice
	}
	currency := in.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now().UTC()
	o := &model.Order{
		ID:        uuid.New().String(),
		BuyerID:   in.BuyerID,
		SellerID:  in.SellerID,
		Items:     in.Items,
		Total:     total,
		Currency:  currency,
		AddressID: in.AddressID,
		Status:    model.OrderCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.locks.Lock(o.ID)
	defer s.locks.Unlock(o.ID)

	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, nil, err
	}
	metrics.OrdersCreated.Inc()
	s.emit(ctx, events.TopicOrderCreated, o.ID, map[string]any{
		"order_id": o.ID, "buyer_id": o.BuyerID, "seller_id": o.SellerID, "total": o.Total,
	})

	sig := in.RiskSignals
	sig.AmountMinorUnits = total
	decision, err := s.gate.Evaluate(ctx, o.ID, sig)
	if err != nil {
		return nil, nil, err
	}
	metrics.RiskDecisions.WithLabelValues(string(decision.Outcome)).Inc()
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "risk", OrderID: o.ID, Outcome: string(decision.Outcome)})
	}

	if decision.Outcome == model.RiskBlock {
		// Rejected outright: no capture, no hold, no ledger entries. The
		// cancelled order remains as the audit record of the rejection.
		if err := s.transition(ctx, o, model.OrderCancelled); err != nil {
			return nil, decision, err
		}
		slog.Warn("order blocked by risk gate",
			"order_id", o.ID, "score", decision.Score, "factors", decision.Factors)
		return o, decision, fmt.Errorf("score %d: %w", decision.Score, settle.ErrRiskBlocked)
	}

	captureStart := time.Now()
	_, paymentRef, err := s.escrow.Capture(ctx, o, in.PaymentMethodRef)
	metrics.CaptureLatency.Observe(time.Since(captureStart).Seconds())
	if err != nil {
		// Order stays created; the buyer can retry checkout.
		slog.Error("escrow capture failed", "order_id", o.ID, "err", err)
		return o, decision, err
	}
	if err := s.store.SetOrderPaymentRef(ctx, o.ID, paymentRef); err != nil {
		return o, decision, err
	}
	o.PaymentRef = paymentRef

	if err := s.transition(ctx, o, model.OrderPaid); err != nil {
		return o, decision, err
	}

	slog.Info("order created",
		"order_id", o.ID,
		"buyer", o.BuyerID,
		"seller", o.SellerID,
		"total", o.Total,
		"risk", decision.Outcome,
	)
	return o, decision, nil
}

// Cancel cancels an order. Free from created; from paid or shipped it runs
// the full refund path through the escrow manager first.
func (s *Service) Cancel(ctx context.Context, orderID string) (*model.Order, error) {
	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case model.OrderCreated:
		// Nothing captured yet.
	case model.OrderPaid, model.OrderShipped:
		hold, err := s.escrow.Hold(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if err := s.escrow.Refund(ctx, orderID, hold.Remaining, escrow.RefundOptions{}); err != nil {
			return nil, err
		}
		metrics.EscrowRefunded.Inc()
		s.emit(ctx, events.TopicEscrowRefunded, orderID, map[string]any{
			"order_id": orderID, "amount": hold.Remaining,
		})
	default:
		return nil, settle.Transition("order", o.ID, string(o.Status), "created|paid|shipped")
	}

	if err := s.transition(ctx, o, model.OrderCancelled); err != nil {
		return nil, err
	}
	return o, nil
}

// ApplyShipmentEvent ingests a carrier webhook and advances the order.
// Duplicate and out-of-order events are idempotent no-ops.
func (s *Service) ApplyShipmentEvent(ctx context.Context, orderID, carrier, trackingCode, carrierStatus string) (model.ShipmentStatus, error) {
	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}

	status, err := s.tracker.RecordEvent(ctx, orderID, carrier, trackingCode, carrierStatus)
	if err != nil {
		return "", err
	}

	if status.Rank() >= model.ShipmentInTransit.Rank() && o.Status == model.OrderPaid {
		if err := s.transition(ctx, o, model.OrderShipped); err != nil {
			return status, err
		}
	}
	if status == model.ShipmentDelivered && o.Status == model.OrderShipped {
		if err := s.transition(ctx, o, model.OrderDelivered); err != nil {
			return status, err
		}
	}
	return status, nil
}

// ConfirmDelivery is the buyer's manual override: shipped → delivered
// without waiting for the carrier's delivered event.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID string) (*model.Order, error) {
	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, o, model.OrderDelivered); err != nil {
		return nil, err
	}
	return o, nil
}

// OpenDispute opens a case on the order and freezes its escrow.
func (s *Service) OpenDispute(ctx context.Context, orderID, openerID string, reason model.DisputeReason) (*model.Dispute, error) {
	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	d, err := s.resolver.Open(ctx, orderID, openerID, reason)
	if err != nil {
		return nil, err
	}
	metrics.OpenDisputes.Inc()
	s.emit(ctx, events.TopicOrderDisputed, orderID, map[string]any{
		"order_id": orderID, "dispute_id": d.ID, "opener_id": openerID, "reason": reason,
	})
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "dispute", OrderID: orderID, DisputeID: d.ID, Status: string(d.Status)})
	}
	return d, nil
}

// ClaimDispute assigns the case to an arbiter for review.
func (s *Service) ClaimDispute(ctx context.Context, disputeID, arbiterID string) (*model.Dispute, error) {
	d, err := s.resolver.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(d.OrderID)
	defer s.locks.Unlock(d.OrderID)

	return s.resolver.Claim(ctx, disputeID, arbiterID)
}

// ResolveDispute executes the arbiter's verdict under the order lock.
func (s *Service) ResolveDispute(ctx context.Context, disputeID string, verdict dispute.Verdict, amount int64, actorID string) (*model.Dispute, error) {
	d, err := s.resolver.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(d.OrderID)
	defer s.locks.Unlock(d.OrderID)

	resolved, err := s.resolver.Resolve(ctx, disputeID, verdict, amount, actorID)
	if err != nil {
		return nil, err
	}
	metrics.OpenDisputes.Dec()
	s.emit(ctx, events.TopicDisputeResolved, d.OrderID, map[string]any{
		"order_id": d.OrderID, "dispute_id": disputeID, "verdict": verdict, "status": resolved.Status,
	})

	switch verdict {
	case dispute.VerdictSeller:
		metrics.EscrowReleased.Inc()
		if payout, perr := s.store.GetPayoutByOrder(ctx, d.OrderID); perr == nil && payout != nil {
			s.emit(ctx, events.TopicPayoutReleased, d.OrderID, map[string]any{
				"order_id": d.OrderID, "payout_id": payout.ID, "seller_id": payout.SellerID, "amount": payout.Amount,
			})
		}
	case dispute.VerdictBuyer, dispute.VerdictPartial:
		metrics.EscrowRefunded.Inc()
		s.emit(ctx, events.TopicEscrowRefunded, d.OrderID, map[string]any{
			"order_id": d.OrderID, "dispute_id": disputeID,
		})
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "dispute", OrderID: d.OrderID, DisputeID: disputeID, Status: string(resolved.Status)})
	}
	return resolved, nil
}

// ReleaseResidual runs the explicit second step after a partial refund.
func (s *Service) ReleaseResidual(ctx context.Context, disputeID, actorID string) (*model.Payout, error) {
	d, err := s.resolver.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(d.OrderID)
	defer s.locks.Unlock(d.OrderID)

	payout, err := s.resolver.ReleaseResidual(ctx, disputeID, actorID)
	if err != nil {
		return nil, err
	}
	metrics.EscrowReleased.Inc()
	s.emit(ctx, events.TopicPayoutReleased, d.OrderID, map[string]any{
		"order_id": d.OrderID, "payout_id": payout.ID, "seller_id": payout.SellerID, "amount": payout.Amount, "residual": true,
	})
	return payout, nil
}

// AddDisputeNote appends to the case's audit trail. Append-only; no lock
// needed.
func (s *Service) AddDisputeNote(ctx context.Context, disputeID, actorID, body string) (*model.DisputeNote, error) {
	return s.resolver.AddNote(ctx, disputeID, actorID, body)
}

// ReleaseEscrow pays the seller for a delivered order past its return
// window. override lets an admin release past a standing flag decision.
func (s *Service) ReleaseEscrow(ctx context.Context, orderID string, override bool) (*model.Payout, error) {
	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	payout, err := s.escrow.Release(ctx, orderID, escrow.ReleaseOptions{AdminOverride: override})
	if err != nil {
		return nil, err
	}
	metrics.EscrowReleased.Inc()
	s.emit(ctx, events.TopicPayoutReleased, orderID, map[string]any{
		"order_id": orderID, "payout_id": payout.ID, "seller_id": payout.SellerID, "amount": payout.Amount,
	})
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "payout", OrderID: orderID, Amount: payout.Amount})
	}
	return payout, nil
}

// RefundEscrow refunds amount to the buyer on the admin path.
func (s *Service) RefundEscrow(ctx context.Context, orderID string, amount int64) error {
	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	if err := s.escrow.Refund(ctx, orderID, amount, escrow.RefundOptions{}); err != nil {
		return err
	}
	metrics.EscrowRefunded.Inc()
	s.emit(ctx, events.TopicEscrowRefunded, orderID, map[string]any{
		"order_id": orderID, "amount": amount,
	})

	// A full refund finalizes the hold; the order follows it to cancelled
	// where the state machine still allows the edge.
	hold, err := s.escrow.Hold(ctx, orderID)
	if err != nil {
		return err
	}
	if hold.Status == model.HoldRefunded {
		o, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.CanTransition(model.OrderCancelled) {
			if err := s.transition(ctx, o, model.OrderCancelled); err != nil {
				return err
			}
		}
	}
	return nil
}

// State is the full settlement view of one order.
type State struct {
	Order    *model.Order        `json:"order"`
	Hold     *model.EscrowHold   `json:"hold,omitempty"`
	Shipment *model.Shipment     `json:"shipment,omitempty"`
	Dispute  *model.Dispute      `json:"dispute,omitempty"`
	Risk     *model.RiskDecision `json:"risk,omitempty"`
	Payout   *model.Payout       `json:"payout,omitempty"`
}

// GetState assembles the order with its hold, shipment, latest dispute,
// latest risk decision, and payout.
func (s *Service) GetState(ctx context.Context, orderID string) (*State, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	st := &State{Order: o}
	if hold, err := s.store.GetHoldByOrder(ctx, orderID); err == nil {
		st.Hold = hold
	}
	if sh, err := s.store.GetShipmentByOrder(ctx, orderID); err == nil {
		st.Shipment = sh
	}
	if d, err := s.store.GetLatestDisputeByOrder(ctx, orderID); err == nil {
		st.Dispute = d
	}
	if rd, err := s.store.LatestRiskDecision(ctx, orderID); err == nil {
		st.Risk = rd
	}
	if p, err := s.store.GetPayoutByOrder(ctx, orderID); err == nil {
		st.Payout = p
	}
	return st, nil
}

// transition validates and applies one status edge, then emits. The store
// update is a compare-and-swap on the current status.
func (s *Service) transition(ctx context.Context, o *model.Order, to model.OrderStatus) error {
	from := o.Status
	if !from.CanTransition(to) {
		return settle.Transition("order", o.ID, string(from), string(to))
	}
	if err := s.store.UpdateOrderStatus(ctx, o.ID, from, to); err != nil {
		return err
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	if to == model.OrderDelivered {
		o.DeliveredAt = o.UpdatedAt
	}

	metrics.OrderTransitions.WithLabelValues(string(from), string(to)).Inc()
	slog.Info("order transition", "order_id", o.ID, "from", from, "to", to)

	topic := map[model.OrderStatus]string{
		model.OrderPaid:      events.TopicOrderPaid,
		model.OrderShipped:   events.TopicOrderShipped,
		model.OrderDelivered: events.TopicOrderDelivered,
		model.OrderCancelled: events.TopicOrderCancelled,
	}[to]
	if topic != "" {
		s.emit(ctx, topic, o.ID, map[string]any{"order_id": o.ID, "status": to})
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "order_transition", OrderID: o.ID, Status: string(to)})
	}
	return nil
}

// emit publishes a domain event; delivery problems never fail the action.
func (s *Service) emit(ctx context.Context, topic, orderID string, payload any) {
	env, err := events.NewEnvelope(topic, s.producer, orderID, payload)
	if err != nil {
		slog.Error("event marshal failed", "topic", topic, "order_id", orderID, "err", err)
		return
	}
	if err := s.publisher.Publish(ctx, topic, env); err != nil {
		slog.Error("event publish failed", "topic", topic, "order_id", orderID, "err", err)
	}
}
