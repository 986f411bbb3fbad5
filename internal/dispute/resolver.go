// Package dispute implements the multi-party arbitration state machine
// bound 1:1 to an order while active.
//
// Lifecycle: open → under_review → {resolved_buyer, resolved_seller,
// refunded}. Every transition appends an immutable note; verdicts execute
// their money movement through the escrow manager before the dispute
// advances, so a failed movement leaves the case under review.
package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/escrow"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/settle"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/store"
)

// Verdict is the arbiter's decision on a case under review.
type Verdict string

const (
	VerdictBuyer   Verdict = "buyer"   // full refund to buyer
	VerdictSeller  Verdict = "seller"  // release to seller
	VerdictPartial Verdict = "partial" // partial refund; residual released later
)

var disputeNext = map[model.DisputeStatus]map[model.DisputeStatus]bool{
	model.DisputeOpen: {model.DisputeUnderReview: true},
	model.DisputeUnderReview: {
		model.DisputeResolvedBuyer:  true,
		model.DisputeResolvedSeller: true,
		model.DisputeRefunded:       true,
	},
}

// Resolver drives dispute state and executes verdicts through escrow.
// Callers serialize per order; the resolver itself takes no locks.
type Resolver struct {
	store  store.Store
	escrow *escrow.Manager
}

// NewResolver creates a dispute resolver.
func NewResolver(st store.Store, esc *escrow.Manager) *Resolver {
	return &Resolver{store: st, escrow: esc}
}

// Open creates a dispute on an order with a live hold. Opening freezes the
// escrow: no release or refund executes outside this resolver while the
// dispute is active. A second dispute after a terminal one is allowed; a
// concurrent active one is not.
func (r *Resolver) Open(ctx context.Context, orderID, openerID string, reason model.DisputeReason) (*model.Dispute, error) {
	if openerID == "" {
		return nil, fmt.Errorf("opener id is required: %w", settle.ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("reason is required: %w", settle.ErrValidation)
	}

	hold, err := r.store.GetHoldByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if hold.Status.Terminal() {
		return nil, settle.Transition("hold", hold.ID, string(hold.Status), string(model.HoldHeld))
	}

	d := &model.Dispute{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		OpenerID:  openerID,
		Reason:    reason,
		Status:    model.DisputeOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateDispute(ctx, d); err != nil {
		return nil, err
	}

	r.systemNote(ctx, d.ID, openerID, fmt.Sprintf("dispute opened: %s", reason))
	slog.Info("dispute opened", "dispute_id", d.ID, "order_id", orderID, "reason", reason)
	return d, nil
}

// Claim moves an open case to under_review with the claiming arbiter.
func (r *Resolver) Claim(ctx context.Context, disputeID, arbiterID string) (*model.Dispute, error) {
	d, err := r.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !disputeNext[d.Status][model.DisputeUnderReview] {
		return nil, settle.Transition("dispute", d.ID, string(d.Status), string(model.DisputeOpen))
	}

	d.Status = model.DisputeUnderReview
	d.ArbiterID = arbiterID
	if err := r.store.UpdateDispute(ctx, d, model.DisputeOpen); err != nil {
		return nil, err
	}

	r.systemNote(ctx, d.ID, arbiterID, "case claimed for review")
	slog.Info("dispute claimed", "dispute_id", d.ID, "arbiter", arbiterID)
	return d, nil
}

// Resolve executes the verdict on a case under review. For VerdictPartial,
// amount is the refund to the buyer; the residual stays held until an
// explicit ReleaseResidual directive; it is never auto-released.
func (r *Resolver) Resolve(ctx context.Context, disputeID string, verdict Verdict, amount int64, actorID string) (*model.Dispute, error) {
	d, err := r.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != model.DisputeUnderReview {
		return nil, settle.Transition("dispute", d.ID, string(d.Status), string(model.DisputeUnderReview))
	}

	hold, err := r.store.GetHoldByOrder(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}

	var target model.DisputeStatus
	var note string

	switch verdict {
	case VerdictBuyer:
		if err := r.escrow.Refund(ctx, d.OrderID, hold.Remaining, escrow.RefundOptions{ViaDispute: true}); err != nil {
			return nil, err
		}
		target = model.DisputeResolvedBuyer
		note = fmt.Sprintf("resolved for buyer: refunded %d", hold.Remaining)

	case VerdictSeller:
		payout, err := r.escrow.Release(ctx, d.OrderID, escrow.ReleaseOptions{ViaDispute: true})
		if err != nil {
			return nil, err
		}
		target = model.DisputeResolvedSeller
		note = fmt.Sprintf("resolved for seller: released %d", payout.Amount)

	case VerdictPartial:
		if amount <= 0 || amount >= hold.Remaining {
			return nil, fmt.Errorf("partial refund %d outside (0, %d): %w", amount, hold.Remaining, settle.ErrValidation)
		}
		if err := r.escrow.Refund(ctx, d.OrderID, amount, escrow.RefundOptions{ViaDispute: true}); err != nil {
			return nil, err
		}
		target = model.DisputeRefunded
		note = fmt.Sprintf("partial refund %d to buyer; residual %d held pending explicit release", amount, hold.Remaining-amount)

	default:
		return nil, fmt.Errorf("unknown verdict %q: %w", verdict, settle.ErrValidation)
	}

	d.Status = target
	d.ResolvedAt = time.Now().UTC()
	if err := r.store.UpdateDispute(ctx, d, model.DisputeUnderReview); err != nil {
		return nil, err
	}

	r.systemNote(ctx, d.ID, actorID, note)
	slog.Info("dispute resolved",
		"dispute_id", d.ID, "order_id", d.OrderID, "verdict", verdict, "status", target)
	return d, nil
}

// ReleaseResidual releases the funds left held after a partial refund.
// Valid only once the dispute is terminal with verdict partial.
func (r *Resolver) ReleaseResidual(ctx context.Context, disputeID, actorID string) (*model.Payout, error) {
	d, err := r.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != model.DisputeRefunded {
		return nil, settle.Transition("dispute", d.ID, string(d.Status), string(model.DisputeRefunded))
	}

	// The hold stays live after a partial verdict, so a new dispute may have
	// opened since. Its freeze applies to this release too: the residual
	// belongs to a closed case and moving it is not a resolution of the
	// active one.
	active, err := r.store.GetActiveDisputeByOrder(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("order %s dispute %s: %w", d.OrderID, active.ID, settle.ErrEscrowLocked)
	}

	payout, err := r.escrow.Release(ctx, d.OrderID, escrow.ReleaseOptions{ViaDispute: true, Residual: true})
	if err != nil {
		return nil, err
	}

	r.systemNote(ctx, d.ID, actorID, fmt.Sprintf("residual released: %d to seller", payout.Amount))
	slog.Info("residual released", "dispute_id", d.ID, "order_id", d.OrderID, "payout", payout.Amount)
	return payout, nil
}

// AddNote appends an immutable note from any actor. Notes are additive
// only, never edited or deleted.
func (r *Resolver) AddNote(ctx context.Context, disputeID, actorID, body string) (*model.DisputeNote, error) {
	if body == "" {
		return nil, fmt.Errorf("note body is required: %w", settle.ErrValidation)
	}
	if _, err := r.store.GetDispute(ctx, disputeID); err != nil {
		return nil, err
	}

	n := &model.DisputeNote{
		ID:        uuid.New().String(),
		DisputeID: disputeID,
		ActorID:   actorID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.AddDisputeNote(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Notes returns the dispute's audit trail in creation order.
func (r *Resolver) Notes(ctx context.Context, disputeID string) ([]model.DisputeNote, error) {
	return r.store.GetDisputeNotes(ctx, disputeID)
}

// Get returns a dispute by id.
func (r *Resolver) Get(ctx context.Context, disputeID string) (*model.Dispute, error) {
	return r.store.GetDispute(ctx, disputeID)
}

func (r *Resolver) systemNote(ctx context.Context, disputeID, actorID, body string) {
	n := &model.DisputeNote{
		ID:        uuid.New().String(),
		DisputeID: disputeID,
		ActorID:   actorID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.AddDisputeNote(ctx, n); err != nil {
		slog.Error("failed to append dispute note", "dispute_id", disputeID, "err", err)
	}
}
