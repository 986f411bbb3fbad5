package order_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/dispute"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/escrow"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/events"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/ledger"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/order"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/risk"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/shipment"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/store"
)

// newTestEnv wires the full settlement stack over an in-memory store with
// the stub gateway, a zero return window, and an in-memory event publisher.
func newTestEnv(t *testing.T) (*store.MemoryStore, *events.MemoryPublisher, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	led := ledger.NewService(ms)
	mgr := escrow.NewManager(ms, led, escrow.StubGateway{}, escrow.Policy{
		FeeRate: decimal.NewFromFloat(0.05),
		// Zero return window so delivered orders are release-eligible
		// immediately.
	})
	pub := events.NewMemoryPublisher()
	svc := order.NewService(ms, risk.NewGate(ms), mgr, shipment.NewTracker(ms),
		dispute.NewResolver(ms, mgr), led, pub, "settlement-test", nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		svc.Routes(r)
	})
	return ms, pub, r
}

func cleanSignals() risk.Signals {
	return risk.Signals{AccountAgeDays: 365, PriorOrders: 10, OrdersLastHour: 1}
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var adminHeaders = map[string]string{"X-Actor-ID": "admin1", "X-Actor-Role": "admin"}
var arbiterHeaders = map[string]string{"X-Actor-ID": "arbiter1", "X-Actor-Role": "arbiter"}

// createOrder posts a standard two-line order totalling 100000 and returns
// the created order.
func createOrder(t *testing.T, router chi.Router, sig risk.Signals) *model.Order {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/orders", order.CreateInput{
		BuyerID:          "buyer1",
		SellerID:         "seller1",
		Currency:         "USD",
		PaymentMethodRef: "pm_test",
		Items: []model.LineItem{
			{ProductID: "sku-1", Quantity: 2, UnitPrice: 30_000},
			{ProductID: "sku-2", Quantity: 1, UnitPrice: 40_000},
		},
		RiskSignals: sig,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Order *model.Order `json:"order"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Order
}

func shipAndDeliver(t *testing.T, router chi.Router, orderID string) {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/orders/"+orderID+"/shipment-events",
		map[string]string{"carrier": "correos", "tracking_code": "TRK1", "status": "IN_TRANSIT"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("shipment event: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, "POST", "/api/v1/orders/"+orderID+"/shipment-events",
		map[string]string{"carrier": "correos", "tracking_code": "TRK1", "status": "DELIVERED"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delivered event: %d %s", w.Code, w.Body.String())
	}
}

// --- Order creation ---

func TestCreateOrder_HappyPath(t *testing.T) {
	ms, pub, router := newTestEnv(t)

	o := createOrder(t, router, cleanSignals())

	if o.Status != model.OrderPaid {
		t.Errorf("expected paid, got %s", o.Status)
	}
	if o.Total != 100_000 {
		t.Errorf("expected total 100000, got %d", o.Total)
	}
	if o.PaymentRef == "" {
		t.Error("expected payment ref after capture")
	}

	hold, err := ms.GetHoldByOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("expected hold: %v", err)
	}
	if hold.Amount != 100_000 || hold.Status != model.HoldHeld {
		t.Errorf("unexpected hold: %+v", hold)
	}

	if got := len(pub.Published(events.TopicOrderCreated)); got != 1 {
		t.Errorf("expected 1 order.created event, got %d", got)
	}
	if got := len(pub.Published(events.TopicOrderPaid)); got != 1 {
		t.Errorf("expected 1 order.paid event, got %d", got)
	}
}

func TestCreateOrder_ValidationFailures(t *testing.T) {
	_, _, router := newTestEnv(t)

	cases := []struct {
		name string
		in   order.CreateInput
	}{
		{"missing buyer", order.CreateInput{SellerID: "s", Items: []model.LineItem{{ProductID: "p", Quantity: 1, UnitPrice: 100}}}},
		{"no items", order.CreateInput{BuyerID: "b", SellerID: "s"}},
		{"zero quantity", order.CreateInput{BuyerID: "b", SellerID: "s", Items: []model.LineItem{{ProductID: "p", Quantity: 0, UnitPrice: 100}}}},
		{"negative price", order.CreateInput{BuyerID: "b", SellerID: "s", Items: []model.LineItem{{ProductID: "p", Quantity: 1, UnitPrice: -5}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/api/v1/orders", tc.in, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCreateOrder_RiskBlocked(t *testing.T) {
	ms, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/orders", order.CreateInput{
		BuyerID: "buyer1", SellerID: "seller1", PaymentMethodRef: "pm_test",
		Items: []model.LineItem{{ProductID: "sku-1", Quantity: 1, UnitPrice: 100_000}},
		RiskSignals: risk.Signals{
			AccountAgeDays:  1,
			PriorOrders:     0,
			PriorDisputes:   2,
			AddressMismatch: true,
		},
	}, nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for blocked order, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Order *model.Order        `json:"order"`
		Risk  *model.RiskDecision `json:"risk"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Risk == nil || resp.Risk.Outcome != model.RiskBlock {
		t.Fatalf("expected block decision, got %+v", resp.Risk)
	}

	// The rejected order is persisted as cancelled for audit; no hold.
	o, err := ms.GetOrder(context.Background(), resp.Order.ID)
	if err != nil {
		t.Fatalf("blocked order should persist: %v", err)
	}
	if o.Status != model.OrderCancelled {
		t.Errorf("expected cancelled, got %s", o.Status)
	}
	if _, err := ms.GetHoldByOrder(context.Background(), o.ID); err == nil {
		t.Error("blocked order must not have a hold")
	}
}

func TestCreateOrder_FlaggedStillPaid(t *testing.T) {
	ms, _, router := newTestEnv(t)

	sig := cleanSignals()
	sig.PriorDisputes = 2 // 50 points → flag band
	o := createOrder(t, router, sig)

	if o.Status != model.OrderPaid {
		t.Errorf("flagged orders still capture, got %s", o.Status)
	}
	decision, _ := ms.LatestRiskDecision(context.Background(), o.ID)
	if decision == nil || decision.Outcome != model.RiskFlag {
		t.Errorf("expected flag decision, got %+v", decision)
	}
}

// --- Order state ---

func TestGetOrder_AssemblesState(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())
	shipAndDeliver(t, router, o.ID)

	w := doJSON(t, router, "GET", "/api/v1/orders/"+o.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var st order.State
	json.Unmarshal(w.Body.Bytes(), &st)
	if st.Order == nil || st.Order.Status != model.OrderDelivered {
		t.Errorf("expected delivered order, got %+v", st.Order)
	}
	if st.Hold == nil {
		t.Error("expected hold in state")
	}
	if st.Shipment == nil || st.Shipment.Status != model.ShipmentDelivered {
		t.Errorf("expected delivered shipment, got %+v", st.Shipment)
	}
	if st.Risk == nil {
		t.Error("expected risk decision in state")
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/orders/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Shipment-driven transitions ---

func TestShipmentEvents_AdvanceOrder(t *testing.T) {
	ms, pub, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())

	doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/shipment-events",
		map[string]string{"carrier": "correos", "tracking_code": "TRK1", "status": "PICKED_UP"}, nil)

	got, _ := ms.GetOrder(context.Background(), o.ID)
	if got.Status != model.OrderShipped {
		t.Errorf("expected shipped after pickup, got %s", got.Status)
	}

	doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/shipment-events",
		map[string]string{"carrier": "correos", "tracking_code": "TRK1", "status": "DELIVERED"}, nil)

	got, _ = ms.GetOrder(context.Background(), o.ID)
	if got.Status != model.OrderDelivered {
		t.Errorf("expected delivered, got %s", got.Status)
	}
	if got.DeliveredAt.IsZero() {
		t.Error("expected delivered_at to be set")
	}

	if got := len(pub.Published(events.TopicOrderShipped)); got != 1 {
		t.Errorf("expected 1 order.shipped event, got %d", got)
	}
	if got := len(pub.Published(events.TopicOrderDelivered)); got != 1 {
		t.Errorf("expected 1 order.delivered event, got %d", got)
	}
}

func TestShipmentEvents_DuplicateDoesNotDoubleTransition(t *testing.T) {
	_, pub, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())

	for i := 0; i < 3; i++ {
		w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/shipment-events",
			map[string]string{"carrier": "correos", "tracking_code": "TRK1", "status": "IN_TRANSIT"}, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("duplicate %d: %d %s", i, w.Code, w.Body.String())
		}
	}

	if got := len(pub.Published(events.TopicOrderShipped)); got != 1 {
		t.Errorf("expected exactly 1 order.shipped event, got %d", got)
	}
}

func TestShipmentEvents_UnknownStatusRejected(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/shipment-events",
		map[string]string{"carrier": "correos", "status": "TELEPORTED"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown carrier status, got %d", w.Code)
	}
}

func TestConfirmDelivery_FromShipped(t *testing.T) {
	ms, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())

	doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/shipment-events",
		map[string]string{"carrier": "correos", "tracking_code": "TRK1", "status": "IN_TRANSIT"}, nil)

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/confirm-delivery", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got, _ := ms.GetOrder(context.Background(), o.ID)
	if got.Status != model.OrderDelivered {
		t.Errorf("expected delivered, got %s", got.Status)
	}
}

func TestConfirmDelivery_FromPaidRejected(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/confirm-delivery", nil, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for paid → delivered, got %d", w.Code)
	}
}

// --- Cancellation ---

func TestCancel_PaidOrderRefundsBuyer(t *testing.T) {
	ms, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/cancel", nil, adminHeaders)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got, _ := ms.GetOrder(context.Background(), o.ID)
	if got.Status != model.OrderCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	hold, _ := ms.GetHoldByOrder(context.Background(), o.ID)
	if hold.Status != model.HoldRefunded {
		t.Errorf("expected refunded hold, got %s", hold.Status)
	}

	wb := doJSON(t, router, "GET", "/api/v1/wallets/buyer1/balance", nil, nil)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	json.Unmarshal(wb.Body.Bytes(), &bal)
	if bal.Balance != 100_000 {
		t.Errorf("expected full refund 100000, got %d", bal.Balance)
	}
}

func TestCancel_PaidOrderRequiresAdmin(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/cancel", nil, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 without admin role, got %d", w.Code)
	}
}

func TestCancel_DeliveredOrderRejected(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())
	shipAndDeliver(t, router, o.ID)

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/cancel", nil, adminHeaders)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for delivered cancel, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Escrow admin endpoints ---

func TestReleaseEscrow_AfterDelivery(t *testing.T) {
	_, pub, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())
	shipAndDeliver(t, router, o.ID)

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/escrow/release", nil, adminHeaders)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var payout model.Payout
	json.Unmarshal(w.Body.Bytes(), &payout)
	if payout.Amount != 95_000 {
		t.Errorf("expected payout 95000 net of 5%% fee, got %d", payout.Amount)
	}

	wb := doJSON(t, router, "GET", "/api/v1/wallets/seller1/balance", nil, nil)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	json.Unmarshal(wb.Body.Bytes(), &bal)
	if bal.Balance != 95_000 {
		t.Errorf("expected seller balance 95000, got %d", bal.Balance)
	}

	if got := len(pub.Published(events.TopicPayoutReleased)); got != 1 {
		t.Errorf("expected 1 payout.released event, got %d", got)
	}
}

func TestReleaseEscrow_RequiresAdmin(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())
	shipAndDeliver(t, router, o.ID)

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/escrow/release", nil, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestReleaseEscrow_FlaggedNeedsOverride(t *testing.T) {
	_, _, router := newTestEnv(t)
	sig := cleanSignals()
	sig.PriorDisputes = 2 // flag band
	o := createOrder(t, router, sig)
	shipAndDeliver(t, router, o.ID)

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/escrow/release", nil, adminHeaders)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while flag pending, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/escrow/release",
		map[string]bool{"override": true}, adminHeaders)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with override, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRefundEscrow_Partial(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/escrow/refund",
		map[string]int64{"amount": 25_000}, adminHeaders)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var hold model.EscrowHold
	json.Unmarshal(w.Body.Bytes(), &hold)
	if hold.Remaining != 75_000 || hold.Status != model.HoldHeld {
		t.Errorf("unexpected hold: %+v", hold)
	}
}

func TestRefundEscrow_FullRefundCancelsOrder(t *testing.T) {
	ms, pub, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/escrow/refund",
		map[string]int64{"amount": 100_000}, adminHeaders)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got, _ := ms.GetOrder(context.Background(), o.ID)
	if got.Status != model.OrderCancelled {
		t.Errorf("full refund should cancel the order, got %s", got.Status)
	}
	hold, _ := ms.GetHoldByOrder(context.Background(), o.ID)
	if hold.Status != model.HoldRefunded {
		t.Errorf("expected refunded hold, got %s", hold.Status)
	}
	if got := len(pub.Published(events.TopicOrderCancelled)); got != 1 {
		t.Errorf("expected 1 order.cancelled event, got %d", got)
	}
}

// --- Dispute flow over HTTP ---

func TestDisputeFlow_BuyerWins(t *testing.T) {
	ms, pub, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())
	shipAndDeliver(t, router, o.ID)

	// Buyer opens.
	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/disputes",
		map[string]string{"reason": "damaged"}, map[string]string{"X-Actor-ID": "buyer1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("open dispute: %d %s", w.Code, w.Body.String())
	}
	var d model.Dispute
	json.Unmarshal(w.Body.Bytes(), &d)

	// Escrow is frozen while the dispute is active.
	w = doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/escrow/release", nil, adminHeaders)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 with active dispute, got %d", w.Code)
	}

	// Arbiter claims and resolves for the buyer.
	w = doJSON(t, router, "POST", "/api/v1/disputes/"+d.ID+"/claim", nil, arbiterHeaders)
	if w.Code != http.StatusOK {
		t.Fatalf("claim: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, "POST", "/api/v1/disputes/"+d.ID+"/resolve",
		map[string]string{"verdict": "buyer"}, arbiterHeaders)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", w.Code, w.Body.String())
	}

	hold, _ := ms.GetHoldByOrder(context.Background(), o.ID)
	if hold.Status != model.HoldRefunded {
		t.Errorf("expected refunded hold, got %s", hold.Status)
	}

	wb := doJSON(t, router, "GET", "/api/v1/wallets/buyer1/balance", nil, nil)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	json.Unmarshal(wb.Body.Bytes(), &bal)
	if bal.Balance != 100_000 {
		t.Errorf("expected buyer refunded 100000, got %d", bal.Balance)
	}

	if got := len(pub.Published(events.TopicDisputeResolved)); got != 1 {
		t.Errorf("expected 1 dispute.resolved event, got %d", got)
	}
}

func TestDisputeFlow_PartialThenResidual(t *testing.T) {
	ms, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())
	shipAndDeliver(t, router, o.ID)

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/disputes",
		map[string]string{"reason": "not_as_listed"}, map[string]string{"X-Actor-ID": "buyer1"})
	var d model.Dispute
	json.Unmarshal(w.Body.Bytes(), &d)

	doJSON(t, router, "POST", "/api/v1/disputes/"+d.ID+"/claim", nil, arbiterHeaders)
	w = doJSON(t, router, "POST", "/api/v1/disputes/"+d.ID+"/resolve",
		map[string]any{"verdict": "partial", "amount": 40_000}, arbiterHeaders)
	if w.Code != http.StatusOK {
		t.Fatalf("partial resolve: %d %s", w.Code, w.Body.String())
	}

	// Residual stays held until the explicit second directive.
	hold, _ := ms.GetHoldByOrder(context.Background(), o.ID)
	if hold.Status != model.HoldHeld || hold.Remaining != 60_000 {
		t.Fatalf("residual should stay held: %+v", hold)
	}

	w = doJSON(t, router, "POST", "/api/v1/disputes/"+d.ID+"/release-residual", nil, arbiterHeaders)
	if w.Code != http.StatusOK {
		t.Fatalf("release residual: %d %s", w.Code, w.Body.String())
	}
	var payout model.Payout
	json.Unmarshal(w.Body.Bytes(), &payout)
	if payout.Amount != 55_000 {
		t.Errorf("expected residual payout 55000, got %d", payout.Amount)
	}

	hold, _ = ms.GetHoldByOrder(context.Background(), o.ID)
	if got := hold.Released + hold.Refunded + hold.Fee; got != hold.Amount {
		t.Errorf("conservation violated: %+v", hold)
	}
}

func TestDispute_ClaimRequiresArbiterRole(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/disputes",
		map[string]string{"reason": "damaged"}, map[string]string{"X-Actor-ID": "buyer1"})
	var d model.Dispute
	json.Unmarshal(w.Body.Bytes(), &d)

	w = doJSON(t, router, "POST", "/api/v1/disputes/"+d.ID+"/claim", nil,
		map[string]string{"X-Actor-ID": "buyer1", "X-Actor-Role": "buyer"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestDispute_NotesOverHTTP(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())

	w := doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/disputes",
		map[string]string{"reason": "damaged"}, map[string]string{"X-Actor-ID": "buyer1"})
	var d model.Dispute
	json.Unmarshal(w.Body.Bytes(), &d)

	w = doJSON(t, router, "POST", "/api/v1/disputes/"+d.ID+"/notes",
		map[string]string{"body": "box was crushed"}, map[string]string{"X-Actor-ID": "buyer1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add note: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "GET", "/api/v1/disputes/"+d.ID+"/notes", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list notes: %d", w.Code)
	}
	var notes []model.DisputeNote
	json.Unmarshal(w.Body.Bytes(), &notes)
	// System note from open plus the added one.
	if len(notes) != 2 {
		t.Errorf("expected 2 notes, got %d", len(notes))
	}
}

// --- Wallet endpoints ---

func TestWalletLedger_History(t *testing.T) {
	_, _, router := newTestEnv(t)
	o := createOrder(t, router, cleanSignals())
	shipAndDeliver(t, router, o.ID)
	doJSON(t, router, "POST", "/api/v1/orders/"+o.ID+"/escrow/release", nil, adminHeaders)

	w := doJSON(t, router, "GET", "/api/v1/wallets/seller1/ledger", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []model.LedgerEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Delta != 95_000 || entries[0].Reason != ledger.ReasonEscrowRelease {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestWalletBalance_UnknownUser(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/wallets/nobody/balance", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
