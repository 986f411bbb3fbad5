package order

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/dispute"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/settle"
)

// Actor identity travels in headers; the auth layer in front of this
// service validates them before they reach us.
const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"

	roleAdmin   = "admin"
	roleArbiter = "arbiter"
)

func actorID(r *http.Request) string   { return r.Header.Get(headerActorID) }
func actorRole(r *http.Request) string { return r.Header.Get(headerActorRole) }

// Routes mounts the settlement API onto a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", s.HandleCreateOrder)
		r.Get("/{orderID}", s.HandleGetOrder)
		r.Post("/{orderID}/cancel", s.HandleCancel)
		r.Post("/{orderID}/confirm-delivery", s.HandleConfirmDelivery)
		r.Post("/{orderID}/shipment-events", s.HandleShipmentEvent)
		r.Post("/{orderID}/disputes", s.HandleOpenDispute)
		r.Post("/{orderID}/escrow/release", s.HandleReleaseEscrow)
		r.Post("/{orderID}/escrow/refund", s.HandleRefundEscrow)
	})
	r.Route("/disputes/{disputeID}", func(r chi.Router) {
		r.Post("/claim", s.HandleClaimDispute)
		r.Post("/resolve", s.HandleResolveDispute)
		r.Post("/release-residual", s.HandleReleaseResidual)
		r.Post("/notes", s.HandleAddNote)
		r.Get("/notes", s.HandleListNotes)
	})
	r.Route("/wallets/{userID}", func(r chi.Router) {
		r.Get("/balance", s.HandleWalletBalance)
		r.Get("/ledger", s.HandleWalletLedger)
	})
}

type createOrderResponse struct {
	Order *model.Order        `json:"order"`
	Risk  *model.RiskDecision `json:"risk,omitempty"`
}

// HandleCreateOrder handles POST /api/v1/orders.
func (s *Service) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, decision, err := s.Create(r.Context(), in)
	if err != nil {
		if errors.Is(err, settle.ErrRiskBlocked) {
			// The rejected order is returned so the caller has the audit id.
			writeJSON(w, http.StatusConflict, createOrderResponse{Order: o, Risk: decision})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{Order: o, Risk: decision})
}

// HandleGetOrder handles GET /api/v1/orders/{orderID}.
func (s *Service) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	st, err := s.GetState(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleCancel handles POST /api/v1/orders/{orderID}/cancel. Cancelling a
// paid or shipped order moves money, so past created it is admin only.
func (s *Service) HandleCancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	o, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if o.Status != model.OrderCreated && actorRole(r) != roleAdmin {
		writeError(w, http.StatusForbidden, "cancelling a paid order requires the admin role")
		return
	}

	o, err = s.Cancel(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// HandleConfirmDelivery handles POST /api/v1/orders/{orderID}/confirm-delivery.
func (s *Service) HandleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	o, err := s.ConfirmDelivery(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type shipmentEventRequest struct {
	Carrier      string `json:"carrier"`
	TrackingCode string `json:"tracking_code"`
	Status       string `json:"status"`
}

// HandleShipmentEvent handles POST /api/v1/orders/{orderID}/shipment-events,
// the carrier webhook ingestion point.
func (s *Service) HandleShipmentEvent(w http.ResponseWriter, r *http.Request) {
	var req shipmentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := s.ApplyShipmentEvent(r.Context(), chi.URLParam(r, "orderID"), req.Carrier, req.TrackingCode, req.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

type openDisputeRequest struct {
	Reason model.DisputeReason `json:"reason"`
}

// HandleOpenDispute handles POST /api/v1/orders/{orderID}/disputes.
func (s *Service) HandleOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req openDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	opener := actorID(r)
	if opener == "" {
		writeError(w, http.StatusBadRequest, headerActorID+" header is required")
		return
	}

	d, err := s.OpenDispute(r.Context(), chi.URLParam(r, "orderID"), opener, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type releaseRequest struct {
	Override bool `json:"override"`
}

// HandleReleaseEscrow handles POST /api/v1/orders/{orderID}/escrow/release.
// Admin only; override releases past a standing flag decision.
func (s *Service) HandleReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	if actorRole(r) != roleAdmin {
		writeError(w, http.StatusForbidden, "escrow release requires the admin role")
		return
	}
	var req releaseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	payout, err := s.ReleaseEscrow(r.Context(), chi.URLParam(r, "orderID"), req.Override)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

type refundRequest struct {
	Amount int64 `json:"amount"`
}

// HandleRefundEscrow handles POST /api/v1/orders/{orderID}/escrow/refund.
func (s *Service) HandleRefundEscrow(w http.ResponseWriter, r *http.Request) {
	if actorRole(r) != roleAdmin {
		writeError(w, http.StatusForbidden, "escrow refund requires the admin role")
		return
	}
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.RefundEscrow(r.Context(), chi.URLParam(r, "orderID"), req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	hold, err := s.escrow.Hold(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

// HandleClaimDispute handles POST /api/v1/disputes/{disputeID}/claim.
func (s *Service) HandleClaimDispute(w http.ResponseWriter, r *http.Request) {
	if role := actorRole(r); role != roleArbiter && role != roleAdmin {
		writeError(w, http.StatusForbidden, "claiming a case requires the arbiter role")
		return
	}

	d, err := s.ClaimDispute(r.Context(), chi.URLParam(r, "disputeID"), actorID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type resolveRequest struct {
	Verdict dispute.Verdict `json:"verdict"`
	Amount  int64           `json:"amount,omitempty"` // partial verdicts only
}

// HandleResolveDispute handles POST /api/v1/disputes/{disputeID}/resolve.
func (s *Service) HandleResolveDispute(w http.ResponseWriter, r *http.Request) {
	if role := actorRole(r); role != roleArbiter && role != roleAdmin {
		writeError(w, http.StatusForbidden, "resolving a case requires the arbiter role")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := s.ResolveDispute(r.Context(), chi.URLParam(r, "disputeID"), req.Verdict, req.Amount, actorID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// HandleReleaseResidual handles POST /api/v1/disputes/{disputeID}/release-residual.
func (s *Service) HandleReleaseResidual(w http.ResponseWriter, r *http.Request) {
	if role := actorRole(r); role != roleArbiter && role != roleAdmin {
		writeError(w, http.StatusForbidden, "releasing a residual requires the arbiter role")
		return
	}

	payout, err := s.ReleaseResidual(r.Context(), chi.URLParam(r, "disputeID"), actorID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

type addNoteRequest struct {
	Body string `json:"body"`
}

// HandleAddNote handles POST /api/v1/disputes/{disputeID}/notes.
func (s *Service) HandleAddNote(w http.ResponseWriter, r *http.Request) {
	var req addNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusBadRequest, headerActorID+" header is required")
		return
	}

	n, err := s.AddDisputeNote(r.Context(), chi.URLParam(r, "disputeID"), actor, req.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// HandleListNotes handles GET /api/v1/disputes/{disputeID}/notes.
func (s *Service) HandleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.resolver.Notes(r.Context(), chi.URLParam(r, "disputeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

// HandleWalletBalance handles GET /api/v1/wallets/{userID}/balance.
func (s *Service) HandleWalletBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balance, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

// HandleWalletLedger handles GET /api/v1/wallets/{userID}/ledger.
func (s *Service) HandleWalletLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.History(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the typed error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settle.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, settle.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, settle.ErrInvalidTransition),
		errors.Is(err, settle.ErrEscrowLocked),
		errors.Is(err, settle.ErrDisputeActive),
		errors.Is(err, settle.ErrInsufficientFunds),
		errors.Is(err, settle.ErrConcurrencyConflict),
		errors.Is(err, settle.ErrRiskBlocked),
		errors.Is(err, settle.ErrReviewPending),
		errors.Is(err, settle.ErrAlreadyHeld),
		errors.Is(err, settle.ErrAlreadyFinalized):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, settle.ErrExternalDependency):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
