package dispute_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/dispute"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/escrow"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/ledger"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/settle"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/store"
)

// newTestEnv builds a resolver over an in-memory store with a captured hold
// on one paid order.
func newTestEnv(t *testing.T) (*dispute.Resolver, *ledger.Service, *store.MemoryStore, *model.Order) {
	t.Helper()
	ms := store.NewMemoryStore()
	led := ledger.NewService(ms)
	mgr := escrow.NewManager(ms, led, escrow.StubGateway{}, escrow.Policy{
		FeeRate: decimal.NewFromFloat(0.05),
	})
	r := dispute.NewResolver(ms, mgr)

	now := time.Now().UTC()
	o := &model.Order{
		ID:        uuid.New().String(),
		BuyerID:   "buyer1",
		SellerID:  "seller1",
		Items:     []model.LineItem{{ProductID: "sku-1", Quantity: 2, UnitPrice: 50_000}},
		Total:     100_000,
		Currency:  "USD",
		Status:    model.OrderPaid,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ms.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	_, ref, err := mgr.Capture(context.Background(), o, "pm_test")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := ms.SetOrderPaymentRef(context.Background(), o.ID, ref); err != nil {
		t.Fatalf("set payment ref: %v", err)
	}
	return r, led, ms, o
}

func openAndClaim(t *testing.T, r *dispute.Resolver, orderID string) *model.Dispute {
	t.Helper()
	d, err := r.Open(context.Background(), orderID, "buyer1", model.ReasonDamaged)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d, err = r.Claim(context.Background(), d.ID, "arbiter1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return d
}

func TestOpen_RequiresLiveHold(t *testing.T) {
	r, _, ms, _ := newTestEnv(t)

	now := time.Now().UTC()
	noHold := &model.Order{
		ID: uuid.New().String(), BuyerID: "buyer1", SellerID: "seller1",
		Items:  []model.LineItem{{ProductID: "sku-2", Quantity: 1, UnitPrice: 1000}},
		Total:  1000, Currency: "USD", Status: model.OrderCreated,
		CreatedAt: now, UpdatedAt: now,
	}
	ms.CreateOrder(context.Background(), noHold)

	_, err := r.Open(context.Background(), noHold.ID, "buyer1", model.ReasonDamaged)
	if !errors.Is(err, settle.ErrNotFound) {
		t.Errorf("expected ErrNotFound without a hold, got %v", err)
	}
}

func TestOpen_SecondActiveDisputeRejected(t *testing.T) {
	r, _, _, o := newTestEnv(t)

	if _, err := r.Open(context.Background(), o.ID, "buyer1", model.ReasonDamaged); err != nil {
		t.Fatalf("first open: %v", err)
	}
	_, err := r.Open(context.Background(), o.ID, "seller1", model.ReasonSellerRequest)
	if !errors.Is(err, settle.ErrDisputeActive) {
		t.Errorf("expected ErrDisputeActive, got %v", err)
	}
}

func TestOpen_WritesSystemNote(t *testing.T) {
	r, _, _, o := newTestEnv(t)

	d, err := r.Open(context.Background(), o.ID, "buyer1", model.ReasonNotReceived)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	notes, err := r.Notes(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("notes: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected 1 system note, got %d", len(notes))
	}
}

func TestClaim_OnlyFromOpen(t *testing.T) {
	r, _, _, o := newTestEnv(t)
	d := openAndClaim(t, r, o.ID)

	_, err := r.Claim(context.Background(), d.ID, "arbiter2")
	if !errors.Is(err, settle.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second claim, got %v", err)
	}
}

func TestResolve_RequiresUnderReview(t *testing.T) {
	r, _, _, o := newTestEnv(t)
	d, _ := r.Open(context.Background(), o.ID, "buyer1", model.ReasonDamaged)

	_, err := r.Resolve(context.Background(), d.ID, dispute.VerdictBuyer, 0, "arbiter1")
	if !errors.Is(err, settle.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition before claim, got %v", err)
	}
}

func TestResolve_BuyerVerdictRefundsFull(t *testing.T) {
	r, led, ms, o := newTestEnv(t)
	d := openAndClaim(t, r, o.ID)

	resolved, err := r.Resolve(context.Background(), d.ID, dispute.VerdictBuyer, 0, "arbiter1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != model.DisputeResolvedBuyer {
		t.Errorf("expected resolved_buyer, got %s", resolved.Status)
	}

	balance, _ := led.Balance(context.Background(), "buyer1")
	if balance != 100_000 {
		t.Errorf("expected full refund 100000, got %d", balance)
	}
	hold, _ := ms.GetHoldByOrder(context.Background(), o.ID)
	if hold.Status != model.HoldRefunded {
		t.Errorf("expected refunded hold, got %s", hold.Status)
	}
}

func TestResolve_SellerVerdictReleases(t *testing.T) {
	r, led, ms, o := newTestEnv(t)
	d := openAndClaim(t, r, o.ID)

	// The order is only paid and the dispute is active, but the verdict is
	// the authority: release goes through anyway.
	resolved, err := r.Resolve(context.Background(), d.ID, dispute.VerdictSeller, 0, "arbiter1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != model.DisputeResolvedSeller {
		t.Errorf("expected resolved_seller, got %s", resolved.Status)
	}

	balance, _ := led.Balance(context.Background(), "seller1")
	if balance != 95_000 {
		t.Errorf("expected payout 95000 net of fee, got %d", balance)
	}
	payout, _ := ms.GetPayoutByOrder(context.Background(), o.ID)
	if payout == nil {
		t.Fatal("expected a payout record")
	}
}

func TestResolve_PartialRefundHoldsResidual(t *testing.T) {
	r, led, ms, o := newTestEnv(t)
	d := openAndClaim(t, r, o.ID)

	resolved, err := r.Resolve(context.Background(), d.ID, dispute.VerdictPartial, 40_000, "arbiter1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != model.DisputeRefunded {
		t.Errorf("expected refunded, got %s", resolved.Status)
	}

	buyerBal, _ := led.Balance(context.Background(), "buyer1")
	if buyerBal != 40_000 {
		t.Errorf("expected partial refund 40000, got %d", buyerBal)
	}

	// Residual is NOT auto-released.
	hold, _ := ms.GetHoldByOrder(context.Background(), o.ID)
	if hold.Status != model.HoldHeld || hold.Remaining != 60_000 {
		t.Errorf("residual should stay held: %+v", hold)
	}
	sellerBal, _ := led.Balance(context.Background(), "seller1")
	if sellerBal != 0 {
		t.Errorf("seller should not be paid yet, got %d", sellerBal)
	}
}

func TestResolve_PartialAmountBounds(t *testing.T) {
	r, _, _, o := newTestEnv(t)
	d := openAndClaim(t, r, o.ID)

	for _, amount := range []int64{0, -5, 100_000, 150_000} {
		_, err := r.Resolve(context.Background(), d.ID, dispute.VerdictPartial, amount, "arbiter1")
		if !errors.Is(err, settle.ErrValidation) {
			t.Errorf("amount %d: expected ErrValidation, got %v", amount, err)
		}
	}
}

func TestResolve_UnknownVerdictRejected(t *testing.T) {
	r, _, _, o := newTestEnv(t)
	d := openAndClaim(t, r, o.ID)

	_, err := r.Resolve(context.Background(), d.ID, dispute.Verdict("split"), 0, "arbiter1")
	if !errors.Is(err, settle.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestReleaseResidual_AfterPartialVerdict(t *testing.T) {
	r, led, ms, o := newTestEnv(t)
	d := openAndClaim(t, r, o.ID)

	if _, err := r.Resolve(context.Background(), d.ID, dispute.VerdictPartial, 40_000, "arbiter1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	payout, err := r.ReleaseResidual(context.Background(), d.ID, "arbiter1")
	if err != nil {
		t.Fatalf("release residual: %v", err)
	}
	if payout.Amount != 55_000 {
		t.Errorf("expected residual payout 55000, got %d", payout.Amount)
	}

	hold, _ := ms.GetHoldByOrder(context.Background(), o.ID)
	if got := hold.Released + hold.Refunded + hold.Fee; got != hold.Amount {
		t.Errorf("conservation violated: %+v", hold)
	}
	sellerBal, _ := led.Balance(context.Background(), "seller1")
	if sellerBal != 55_000 {
		t.Errorf("expected seller balance 55000, got %d", sellerBal)
	}
}

func TestReleaseResidual_BlockedByNewActiveDispute(t *testing.T) {
	r, led, ms, o := newTestEnv(t)
	d := openAndClaim(t, r, o.ID)

	if _, err := r.Resolve(context.Background(), d.ID, dispute.VerdictPartial, 40_000, "arbiter1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// The hold is still live, so a second dispute opens; its freeze must
	// cover the first case's residual too.
	if _, err := r.Open(context.Background(), o.ID, "seller1", model.ReasonSellerRequest); err != nil {
		t.Fatalf("second dispute: %v", err)
	}

	_, err := r.ReleaseResidual(context.Background(), d.ID, "arbiter1")
	if !errors.Is(err, settle.ErrEscrowLocked) {
		t.Fatalf("expected ErrEscrowLocked, got %v", err)
	}

	hold, _ := ms.GetHoldByOrder(context.Background(), o.ID)
	if hold.Status != model.HoldHeld || hold.Remaining != 60_000 {
		t.Errorf("residual must stay held under the new dispute: %+v", hold)
	}
	sellerBal, _ := led.Balance(context.Background(), "seller1")
	if sellerBal != 0 {
		t.Errorf("no money may move while the dispute is active, seller got %d", sellerBal)
	}
}

func TestReleaseResidual_OnlyAfterPartial(t *testing.T) {
	r, _, _, o := newTestEnv(t)
	d := openAndClaim(t, r, o.ID)

	if _, err := r.Resolve(context.Background(), d.ID, dispute.VerdictBuyer, 0, "arbiter1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, err := r.ReleaseResidual(context.Background(), d.ID, "arbiter1")
	if !errors.Is(err, settle.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestResolve_TerminalDisputeAllowsNewOne(t *testing.T) {
	r, _, _, o := newTestEnv(t)
	d := openAndClaim(t, r, o.ID)

	// Partial keeps the hold live, so a second dispute can open after the
	// first closes.
	if _, err := r.Resolve(context.Background(), d.ID, dispute.VerdictPartial, 10_000, "arbiter1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := r.Open(context.Background(), o.ID, "seller1", model.ReasonSellerRequest)
	if err != nil {
		t.Fatalf("second dispute after terminal first should open: %v", err)
	}
	if second.ID == d.ID {
		t.Error("expected a new dispute id")
	}
}

func TestAddNote_AppendOnly(t *testing.T) {
	r, _, _, o := newTestEnv(t)
	d, _ := r.Open(context.Background(), o.ID, "buyer1", model.ReasonDamaged)

	if _, err := r.AddNote(context.Background(), d.ID, "buyer1", "item arrived cracked"); err != nil {
		t.Fatalf("add note: %v", err)
	}
	if _, err := r.AddNote(context.Background(), d.ID, "seller1", "photos requested"); err != nil {
		t.Fatalf("add note: %v", err)
	}

	notes, _ := r.Notes(context.Background(), d.ID)
	// One system note from open plus the two added here, in order.
	if len(notes) != 3 {
		t.Fatalf("expected 3 notes, got %d", len(notes))
	}
	if notes[1].Body != "item arrived cracked" || notes[2].Body != "photos requested" {
		t.Errorf("notes out of order: %+v", notes)
	}
}

func TestAddNote_EmptyBodyRejected(t *testing.T) {
	r, _, _, o := newTestEnv(t)
	d, _ := r.Open(context.Background(), o.ID, "buyer1", model.ReasonDamaged)

	_, err := r.AddNote(context.Background(), d.ID, "buyer1", "")
	if !errors.Is(err, settle.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
