// Package escrow holds captured order funds until release or refund
// conditions are met and computes seller payouts net of fees and dispute
// deductions.
//
// Release and refund are idempotent: a retry after success returns the
// prior result instead of moving money twice, guarded by the hold status
// compare-and-swap in the store.
package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/ledger"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/settle"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/store"
)

// Policy carries the money-movement knobs.
type Policy struct {
	// FeeRate is the platform fee as a fraction of the captured amount
	// (e.g. 0.05). Applied once, at capture, floored to minor units.
	FeeRate decimal.Decimal

	// ReturnWindow is how long after delivery the buyer may still return
	// the item; release is not eligible before it elapses.
	ReturnWindow time.Duration
}

// Fee computes the platform fee for a captured amount in minor units.
func (p Policy) Fee(amount int64) int64 {
	return p.FeeRate.Mul(decimal.NewFromInt(amount)).Floor().IntPart()
}

// ReleaseOptions modify release behavior for privileged callers.
type ReleaseOptions struct {
	// AdminOverride lets an admin release past a standing flag decision.
	AdminOverride bool

	// ViaDispute marks the call as the dispute resolver executing a
	// verdict; it bypasses the active-dispute and return-window guards
	// because the arbiter's decision is the authority.
	ViaDispute bool

	// Residual marks the explicit second step after a partial refund.
	Residual bool

	// DisputeDeduction is withheld from the payout (kept by the platform)
	// on top of the fee. Zero by default.
	DisputeDeduction int64
}

// RefundOptions modify refund behavior for privileged callers.
type RefundOptions struct {
	// ViaDispute marks the call as the dispute resolver executing a
	// verdict; it bypasses the active-dispute guard.
	ViaDispute bool
}

// Manager is the escrow component. All calls for one order are expected to
// run under the order state machine's per-order lock.
type Manager struct {
	store   store.Store
	ledger  *ledger.Service
	gateway PaymentGateway
	policy  Policy
}

// NewManager creates an escrow manager.
func NewManager(st store.Store, led *ledger.Service, gw PaymentGateway, policy Policy) *Manager {
	return &Manager{store: st, ledger: led, gateway: gw, policy: policy}
}

// Policy exposes the active policy (read-only) for callers that need the
// fee to build responses.
func (m *Manager) Policy() Policy { return m.policy }

// Capture captures the order total at the gateway and creates the hold.
// All-or-nothing: a gateway failure leaves no hold behind. Returns the
// hold and the gateway payment reference.
func (m *Manager) Capture(ctx context.Context, o *model.Order, paymentMethodRef string) (*model.EscrowHold, string, error) {
	if o.Total <= 0 {
		return nil, "", fmt.Errorf("order %s total %d: %w", o.ID, o.Total, settle.ErrValidation)
	}

	ref, err := m.gateway.CapturePayment(ctx, o.Total, o.Currency, paymentMethodRef)
	if err != nil {
		return nil, "", err
	}

	hold := &model.EscrowHold{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		Amount:    o.Total,
		Remaining: o.Total,
		Fee:       m.policy.Fee(o.Total),
		Status:    model.HoldHeld,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateHold(ctx, hold); err != nil {
		// The capture succeeded but the hold conflicts: return the funds
		// so capture stays all-or-nothing.
		if rerr := m.gateway.RefundPayment(ctx, ref, o.Total); rerr != nil {
			slog.Error("capture rollback failed; funds captured without hold",
				"order_id", o.ID, "reference", ref, "err", rerr)
		}
		return nil, "", err
	}

	slog.Info("escrow captured",
		"order_id", o.ID, "amount", hold.Amount, "fee", hold.Fee, "reference", ref)
	return hold, ref, nil
}

// Release pays the remaining held funds to the seller net of fee and
// deduction. Guards, in order: hold must be live (a released hold returns
// the prior payout), no active dispute, order delivered past the return
// window, and no unresolved flag decision without an admin override.
func (m *Manager) Release(ctx context.Context, orderID string, opts ReleaseOptions) (*model.Payout, error) {
	hold, err := m.store.GetHoldByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if hold.Status == model.HoldReleased {
		// Idempotent retry: return the payout already made, no second credit.
		prior, err := m.store.GetPayoutByOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			slog.Info("release retry ignored", "order_id", orderID, "payout_id", prior.ID)
			return prior, nil
		}
		return nil, fmt.Errorf("order %s: %w", orderID, settle.ErrAlreadyFinalized)
	}
	if hold.Status == model.HoldRefunded {
		return nil, settle.Transition("hold", hold.ID, string(hold.Status), string(model.HoldHeld))
	}

	if !opts.ViaDispute {
		active, err := m.store.GetActiveDisputeByOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, fmt.Errorf("order %s dispute %s: %w", orderID, active.ID, settle.ErrEscrowLocked)
		}
	}

	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !opts.ViaDispute {
		if o.Status != model.OrderDelivered {
			return nil, settle.Transition("order", o.ID, string(o.Status), string(model.OrderDelivered))
		}
		if time.Since(o.DeliveredAt) < m.policy.ReturnWindow {
			return nil, fmt.Errorf("return window open until %s: %w",
				o.DeliveredAt.Add(m.policy.ReturnWindow).Format(time.RFC3339), settle.ErrInvalidTransition)
		}

		decision, err := m.store.LatestRiskDecision(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if decision != nil && decision.Outcome == model.RiskFlag && !opts.AdminOverride {
			return nil, fmt.Errorf("order %s flagged (score %d): %w", orderID, decision.Score, settle.ErrReviewPending)
		}
	}

	payoutAmount := hold.Remaining - hold.Fee - opts.DisputeDeduction
	if payoutAmount < 0 {
		return nil, fmt.Errorf("deduction %d exceeds remaining %d net of fee %d: %w",
			opts.DisputeDeduction, hold.Remaining, hold.Fee, settle.ErrValidation)
	}

	// A zero payout happens when the fee and deduction consume the whole
	// remaining amount (e.g. a near-full partial refund). The hold still
	// finalizes; only the ledger credit is skipped since the ledger rejects
	// zero deltas.
	var entryID string
	if payoutAmount > 0 {
		sellerWallet, err := m.ledger.EnsureWallet(ctx, o.SellerID, o.Currency)
		if err != nil {
			return nil, err
		}

		reason := ledger.ReasonEscrowRelease
		if opts.Residual {
			reason = ledger.ReasonResidualRelease
		}
		entry, err := m.ledger.RecordEntry(ctx, sellerWallet.ID, payoutAmount, reason, orderID)
		if err != nil {
			return nil, err
		}
		entryID = entry.ID
	}

	hold.Released += payoutAmount
	hold.Remaining = 0
	hold.Status = model.HoldReleased
	hold.FinalizedAt = time.Now().UTC()
	if err := m.store.UpdateHold(ctx, hold, model.HoldHeld); err != nil {
		return nil, err
	}

	payout := &model.Payout{
		ID:        uuid.New().String(),
		SellerID:  o.SellerID,
		OrderID:   orderID,
		Amount:    payoutAmount,
		Status:    model.PayoutPaid,
		Reference: entryID,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreatePayout(ctx, payout); err != nil {
		return nil, err
	}

	slog.Info("escrow released",
		"order_id", orderID,
		"seller", o.SellerID,
		"payout", payoutAmount,
		"fee", hold.Fee,
		"deduction", opts.DisputeDeduction,
		"residual", opts.Residual,
	)
	return payout, nil
}

// Refund returns amount to the buyer's wallet after refunding the gateway
// capture. A full refund finalizes the hold; a partial refund reduces the
// remaining amount and leaves the hold live until a second terminal action
// (the explicit residual release) closes it. Refunding an already-refunded
// hold is an idempotent no-op.
func (m *Manager) Refund(ctx context.Context, orderID string, amount int64, opts RefundOptions) error {
	hold, err := m.store.GetHoldByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if hold.Status == model.HoldRefunded {
		slog.Info("refund retry ignored", "order_id", orderID)
		return nil
	}
	if hold.Status == model.HoldReleased {
		return settle.Transition("hold", hold.ID, string(hold.Status), string(model.HoldHeld))
	}

	if amount <= 0 || amount > hold.Remaining {
		return fmt.Errorf("refund amount %d outside (0, %d]: %w", amount, hold.Remaining, settle.ErrValidation)
	}

	if !opts.ViaDispute {
		active, err := m.store.GetActiveDisputeByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("order %s dispute %s: %w", orderID, active.ID, settle.ErrEscrowLocked)
		}
	}

	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if err := m.gateway.RefundPayment(ctx, o.PaymentRef, amount); err != nil {
		return err
	}

	buyerWallet, err := m.ledger.EnsureWallet(ctx, o.BuyerID, o.Currency)
	if err != nil {
		return err
	}
	reason := ledger.ReasonEscrowRefund
	if opts.ViaDispute {
		reason = ledger.ReasonDisputeRefund
	}
	if _, err := m.ledger.RecordEntry(ctx, buyerWallet.ID, amount, reason, orderID); err != nil {
		return err
	}

	hold.Refunded += amount
	hold.Remaining -= amount
	if hold.Remaining == 0 {
		hold.Status = model.HoldRefunded
		hold.FinalizedAt = time.Now().UTC()
	}
	if err := m.store.UpdateHold(ctx, hold, model.HoldHeld); err != nil {
		return err
	}

	slog.Info("escrow refunded",
		"order_id", orderID,
		"buyer", o.BuyerID,
		"amount", amount,
		"remaining", hold.Remaining,
		"via_dispute", opts.ViaDispute,
	)
	return nil
}

// Hold returns the order's hold.
func (m *Manager) Hold(ctx context.Context, orderID string) (*model.EscrowHold, error) {
	return m.store.GetHoldByOrder(ctx, orderID)
}
