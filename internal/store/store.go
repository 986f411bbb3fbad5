// Package store defines the persistence interface for the settlement core.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Status updates are compare-and-swap: the write succeeds only if the row
// still carries the expected status, otherwise settle.ErrConcurrencyConflict
// is returned and the caller retries under its lock.
type Store interface {
	// --- Orders ---

	// CreateOrder persists a new order with its line-item snapshot.
	CreateOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves an order with its items.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// UpdateOrderStatus moves an order from one status to another.
	// Sets delivered_at when to == OrderDelivered.
	UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error

	// SetOrderPaymentRef records the gateway capture reference.
	SetOrderPaymentRef(ctx context.Context, id, ref string) error

	// --- Escrow holds ---

	// CreateHold persists a new hold. Returns settle.ErrAlreadyHeld when a
	// non-terminal hold exists for the order.
	CreateHold(ctx context.Context, h *model.EscrowHold) error

	// GetHoldByOrder retrieves the hold for an order.
	GetHoldByOrder(ctx context.Context, orderID string) (*model.EscrowHold, error)

	// UpdateHold writes hold amounts/status, guarded by the expected
	// current status.
	UpdateHold(ctx context.Context, h *model.EscrowHold, expect model.HoldStatus) error

	// --- Shipments ---

	// GetShipmentByOrder retrieves the shipment for an order, or
	// (nil, nil) when none exists yet.
	GetShipmentByOrder(ctx context.Context, orderID string) (*model.Shipment, error)

	// UpsertShipment inserts or updates the order's shipment row.
	UpsertShipment(ctx context.Context, s *model.Shipment) error

	// --- Disputes ---

	// CreateDispute persists a new dispute.
	CreateDispute(ctx context.Context, d *model.Dispute) error

	// GetDispute retrieves a dispute by id.
	GetDispute(ctx context.Context, id string) (*model.Dispute, error)

	// GetActiveDisputeByOrder returns the order's non-terminal dispute, or
	// (nil, nil) when there is none.
	GetActiveDisputeByOrder(ctx context.Context, orderID string) (*model.Dispute, error)

	// GetLatestDisputeByOrder returns the most recent dispute for an order,
	// terminal or not, or (nil, nil) when the order never had one.
	GetLatestDisputeByOrder(ctx context.Context, orderID string) (*model.Dispute, error)

	// UpdateDispute writes dispute status/arbiter, guarded by the expected
	// current status.
	UpdateDispute(ctx context.Context, d *model.Dispute, expect model.DisputeStatus) error

	// AddDisputeNote appends an immutable note.
	AddDisputeNote(ctx context.Context, n *model.DisputeNote) error

	// GetDisputeNotes returns all notes for a dispute in creation order.
	GetDisputeNotes(ctx context.Context, disputeID string) ([]model.DisputeNote, error)

	// --- Wallets and ledger ---

	// CreateWallet persists a new wallet with zero balance.
	CreateWallet(ctx context.Context, w *model.Wallet) error

	// GetWalletByUser retrieves a user's wallet.
	GetWalletByUser(ctx context.Context, userID string) (*model.Wallet, error)

	// AppendLedgerEntry inserts an immutable entry and sets the wallet's
	// materialized balance in the same transaction.
	AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry, newBalance int64) error

	// GetLedgerEntries returns all entries for a wallet in creation order.
	GetLedgerEntries(ctx context.Context, walletID string) ([]model.LedgerEntry, error)

	// --- Payouts ---

	// CreatePayout persists a disbursement record.
	CreatePayout(ctx context.Context, p *model.Payout) error

	// GetPayoutByOrder returns the payout created by the order's release,
	// or (nil, nil) when none exists.
	GetPayoutByOrder(ctx context.Context, orderID string) (*model.Payout, error)

	// --- Risk decisions ---

	// InsertRiskDecision appends an immutable checkpoint decision.
	InsertRiskDecision(ctx context.Context, d *model.RiskDecision) error

	// LatestRiskDecision returns the newest decision for an order, or
	// (nil, nil) when the order was never evaluated.
	LatestRiskDecision(ctx context.Context, orderID string) (*model.RiskDecision, error)
}
