// Package model defines the core domain types shared across the settlement core.
// All monetary amounts are int64 minor-currency units (cents); never float64
// anywhere in a money path.
package model

import "time"

// OrderStatus is the canonical order state. The order state machine in
// internal/order is the only writer.
type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered" // terminal
	OrderCancelled OrderStatus = "cancelled" // terminal
)

var orderNext = map[OrderStatus]map[OrderStatus]bool{
	OrderCreated:   {OrderPaid: true, OrderCancelled: true},
	OrderPaid:      {OrderShipped: true, OrderCancelled: true},
	OrderShipped:   {OrderDelivered: true, OrderCancelled: true},
	OrderDelivered: {},
	OrderCancelled: {},
}

// CanTransition reports whether the order state machine defines an edge
// from one status to another.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return orderNext[s][to]
}

// Terminal reports whether no further order transition is defined.
func (s OrderStatus) Terminal() bool {
	return len(orderNext[s]) == 0
}

// LineItem is an immutable snapshot of one cart line at order creation.
// Prices come from the catalog collaborator, never from the client.
type LineItem struct {
	ProductID string `json:"product_id" db:"product_id"`
	Quantity  int64  `json:"quantity" db:"quantity"`
	UnitPrice int64  `json:"unit_price" db:"unit_price"` // minor units
}

// Order is the settlement view of a placed order.
// Invariant: Total == Σ item.Quantity*item.UnitPrice; items are immutable
// once Status leaves created.
type Order struct {
	ID         string      `json:"id" db:"id"`
	BuyerID    string      `json:"buyer_id" db:"buyer_id"`
	SellerID   string      `json:"seller_id" db:"seller_id"`
	Items      []LineItem  `json:"items"`
	Total      int64       `json:"total" db:"total"` // minor units
	Currency   string      `json:"currency" db:"currency"`
	AddressID  string      `json:"address_id" db:"address_id"`
	Status     OrderStatus `json:"status" db:"status"`
	PaymentRef string      `json:"payment_ref,omitempty" db:"payment_ref"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
	// DeliveredAt starts the return window; zero until delivery.
	DeliveredAt time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
}

// HoldStatus is the escrow hold lifecycle.
type HoldStatus string

const (
	HoldHeld     HoldStatus = "held"
	HoldReleased HoldStatus = "released" // terminal
	HoldRefunded HoldStatus = "refunded" // terminal
)

// Terminal reports whether the hold can no longer move money.
func (s HoldStatus) Terminal() bool { return s == HoldReleased || s == HoldRefunded }

// EscrowHold represents funds captured for one order and held by the
// platform pending release or refund.
// Invariant: Released + Refunded + Remaining == Amount at all times.
type EscrowHold struct {
	ID          string     `json:"id" db:"id"`
	OrderID     string     `json:"order_id" db:"order_id"`
	Amount      int64      `json:"amount" db:"amount"` // original capture, minor units
	Remaining   int64      `json:"remaining" db:"remaining"`
	Released    int64      `json:"released" db:"released"`
	Refunded    int64      `json:"refunded" db:"refunded"`
	Fee         int64      `json:"fee" db:"fee"` // platform fee, fixed at capture
	Status      HoldStatus `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	FinalizedAt time.Time  `json:"finalized_at,omitempty" db:"finalized_at"`
}

// ShipmentStatus is the canonical shipment state. Carrier vocabularies are
// mapped onto these three states by the shipment tracker.
type ShipmentStatus string

const (
	ShipmentLabelCreated ShipmentStatus = "label_created"
	ShipmentInTransit    ShipmentStatus = "in_transit"
	ShipmentDelivered    ShipmentStatus = "delivered"
)

// Rank orders shipment states for the monotonic guard. Higher never
// regresses to lower.
func (s ShipmentStatus) Rank() int {
	switch s {
	case ShipmentLabelCreated:
		return 1
	case ShipmentInTransit:
		return 2
	case ShipmentDelivered:
		return 3
	}
	return 0
}

// Shipment tracks the carrier leg of one order.
type Shipment struct {
	ID           string         `json:"id" db:"id"`
	OrderID      string         `json:"order_id" db:"order_id"`
	Carrier      string         `json:"carrier" db:"carrier"`
	TrackingCode string         `json:"tracking_code" db:"tracking_code"`
	Status       ShipmentStatus `json:"status" db:"status"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// DisputeStatus is the dispute resolver state machine.
type DisputeStatus string

const (
	DisputeOpen           DisputeStatus = "open"
	DisputeUnderReview    DisputeStatus = "under_review"
	DisputeResolvedBuyer  DisputeStatus = "resolved_buyer"  // terminal
	DisputeResolvedSeller DisputeStatus = "resolved_seller" // terminal
	DisputeRefunded       DisputeStatus = "refunded"        // terminal (partial refund)
)

// Terminal reports whether the dispute is closed.
func (s DisputeStatus) Terminal() bool {
	return s == DisputeResolvedBuyer || s == DisputeResolvedSeller || s == DisputeRefunded
}

// DisputeReason enumerates why a dispute was opened.
type DisputeReason string

const (
	ReasonNotReceived   DisputeReason = "not_received"
	ReasonDamaged       DisputeReason = "damaged"
	ReasonNotAsListed   DisputeReason = "not_as_listed"
	ReasonUnauthorized  DisputeReason = "unauthorized"
	ReasonSellerRequest DisputeReason = "seller_request"
)

// Dispute is the multi-party case attached 1:1 to an order while active.
// At most one non-terminal dispute may exist per order.
type Dispute struct {
	ID         string        `json:"id" db:"id"`
	OrderID    string        `json:"order_id" db:"order_id"`
	OpenerID   string        `json:"opener_id" db:"opener_id"`
	ArbiterID  string        `json:"arbiter_id,omitempty" db:"arbiter_id"`
	Reason     DisputeReason `json:"reason" db:"reason"`
	Status     DisputeStatus `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	ResolvedAt time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
}

// DisputeNote is an append-only audit entry on a dispute. Notes are never
// edited or deleted.
type DisputeNote struct {
	ID        string    `json:"id" db:"id"`
	DisputeID string    `json:"dispute_id" db:"dispute_id"`
	ActorID   string    `json:"actor_id" db:"actor_id"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Wallet is a user's platform balance. Balance is a materialized view of
// the ledger; it is never mutated independently of a ledger entry.
type Wallet struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"` // minor units
	Currency  string    `json:"currency" db:"currency"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable signed monetary movement. Once created these
// are never modified or deleted; wallet balances are recomputable from them.
type LedgerEntry struct {
	ID        string    `json:"id" db:"id"`
	WalletID  string    `json:"wallet_id" db:"wallet_id"`
	Delta     int64     `json:"delta" db:"delta"` // signed, minor units
	Reason    string    `json:"reason" db:"reason"`
	Reference string    `json:"reference" db:"reference"` // order or dispute id
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PayoutStatus is the disbursement lifecycle.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutPaid    PayoutStatus = "paid"
	PayoutFailed  PayoutStatus = "failed"
)

// Payout is the disbursement of released escrow funds to a seller.
// Created only by escrow release; Amount = remaining − fee − deduction.
type Payout struct {
	ID        string       `json:"id" db:"id"`
	SellerID  string       `json:"seller_id" db:"seller_id"`
	OrderID   string       `json:"order_id" db:"order_id"`
	Amount    int64        `json:"amount" db:"amount"` // minor units
	Status    PayoutStatus `json:"status" db:"status"`
	Reference string       `json:"reference" db:"reference"` // ledger entry id
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// RiskOutcome is the risk gate verdict.
type RiskOutcome string

const (
	RiskAdmit RiskOutcome = "admit"
	RiskFlag  RiskOutcome = "flag"
	RiskBlock RiskOutcome = "block"
)

// RiskDecision is one immutable checkpoint evaluation. Each evaluation
// produces a new row; the state machine reacts to the latest only.
type RiskDecision struct {
	ID        string      `json:"id" db:"id"`
	OrderID   string      `json:"order_id" db:"order_id"`
	Score     int         `json:"score" db:"score"` // 0–100
	Factors   []string    `json:"factors"`
	Outcome   RiskOutcome `json:"outcome" db:"outcome"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
