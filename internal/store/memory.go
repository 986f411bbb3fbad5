package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/settle"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]*model.Order
	holds     map[string]*model.EscrowHold // keyed by order id
	shipments map[string]*model.Shipment   // keyed by order id
	disputes  map[string]*model.Dispute
	notes     []model.DisputeNote
	wallets   map[string]*model.Wallet // keyed by user id
	ledger    []model.LedgerEntry
	payouts   map[string]*model.Payout // keyed by order id
	decisions []model.RiskDecision
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*model.Order),
		holds:     make(map[string]*model.EscrowHold),
		shipments: make(map[string]*model.Shipment),
		disputes:  make(map[string]*model.Dispute),
		wallets:   make(map[string]*model.Wallet),
		payouts:   make(map[string]*model.Payout),
	}
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	cp := *o
	cp.Items = append([]model.LineItem(nil), o.Items...)
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, settle.ErrNotFound)
	}
	cp := *o
	cp.Items = append([]model.LineItem(nil), o.Items...)
	return &cp, nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id string, from, to model.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, settle.ErrNotFound)
	}
	if o.Status != from {
		return fmt.Errorf("order %s status is %s not %s: %w", id, o.Status, from, settle.ErrConcurrencyConflict)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	if to == model.OrderDelivered {
		o.DeliveredAt = o.UpdatedAt
	}
	return nil
}

func (s *MemoryStore) SetOrderPaymentRef(_ context.Context, id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, settle.ErrNotFound)
	}
	o.PaymentRef = ref
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Escrow holds ---

func (s *MemoryStore) CreateHold(_ context.Context, h *model.EscrowHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.holds[h.OrderID]; ok && !existing.Status.Terminal() {
		return fmt.Errorf("order %s: %w", h.OrderID, settle.ErrAlreadyHeld)
	}
	cp := *h
	s.holds[h.OrderID] = &cp
	return nil
}

func (s *MemoryStore) GetHoldByOrder(_ context.Context, orderID string) (*model.EscrowHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holds[orderID]
	if !ok {
		return nil, fmt.Errorf("hold for order %s: %w", orderID, settle.ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) UpdateHold(_ context.Context, h *model.EscrowHold, expect model.HoldStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.holds[h.OrderID]
	if !ok {
		return fmt.Errorf("hold for order %s: %w", h.OrderID, settle.ErrNotFound)
	}
	if cur.Status != expect {
		return fmt.Errorf("hold for order %s status is %s not %s: %w", h.OrderID, cur.Status, expect, settle.ErrConcurrencyConflict)
	}
	cp := *h
	s.holds[h.OrderID] = &cp
	return nil
}

// --- Shipments ---

func (s *MemoryStore) GetShipmentByOrder(_ context.Context, orderID string) (*model.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.shipments[orderID]
	if !ok {
		return nil, nil
	}
	cp := *sh
	return &cp, nil
}

func (s *MemoryStore) UpsertShipment(_ context.Context, sh *model.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sh
	s.shipments[sh.OrderID] = &cp
	return nil
}

// --- Disputes ---

func (s *MemoryStore) CreateDispute(_ context.Context, d *model.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.disputes {
		if existing.OrderID == d.OrderID && !existing.Status.Terminal() {
			return fmt.Errorf("order %s: %w", d.OrderID, settle.ErrDisputeActive)
		}
	}
	cp := *d
	s.disputes[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDispute(_ context.Context, id string) (*model.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.disputes[id]
	if !ok {
		return nil, fmt.Errorf("dispute %s: %w", id, settle.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) GetActiveDisputeByOrder(_ context.Context, orderID string) (*model.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.disputes {
		if d.OrderID == orderID && !d.Status.Terminal() {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetLatestDisputeByOrder(_ context.Context, orderID string) (*model.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Dispute
	for _, d := range s.disputes {
		if d.OrderID != orderID {
			continue
		}
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
			latest = d
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) UpdateDispute(_ context.Context, d *model.Dispute, expect model.DisputeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.disputes[d.ID]
	if !ok {
		return fmt.Errorf("dispute %s: %w", d.ID, settle.ErrNotFound)
	}
	if cur.Status != expect {
		return fmt.Errorf("dispute %s status is %s not %s: %w", d.ID, cur.Status, expect, settle.ErrConcurrencyConflict)
	}
	cp := *d
	s.disputes[d.ID] = &cp
	return nil
}

func (s *MemoryStore) AddDisputeNote(_ context.Context, n *model.DisputeNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notes = append(s.notes, *n)
	return nil
}

func (s *MemoryStore) GetDisputeNotes(_ context.Context, disputeID string) ([]model.DisputeNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.DisputeNote
	for _, n := range s.notes {
		if n.DisputeID == disputeID {
			result = append(result, n)
		}
	}
	return result, nil
}

// --- Wallets and ledger ---

func (s *MemoryStore) CreateWallet(_ context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.wallets[w.UserID]; exists {
		return fmt.Errorf("wallet for user %s already exists", w.UserID)
	}
	cp := *w
	s.wallets[w.UserID] = &cp
	return nil
}

func (s *MemoryStore) GetWalletByUser(_ context.Context, userID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet for user %s: %w", userID, settle.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) AppendLedgerEntry(_ context.Context, e *model.LedgerEntry, newBalance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var w *model.Wallet
	for _, cand := range s.wallets {
		if cand.ID == e.WalletID {
			w = cand
			break
		}
	}
	if w == nil {
		return fmt.Errorf("wallet %s: %w", e.WalletID, settle.ErrNotFound)
	}
	s.ledger = append(s.ledger, *e)
	w.Balance = newBalance
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetLedgerEntries(_ context.Context, walletID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.WalletID == walletID {
			result = append(result, e)
		}
	}
	return result, nil
}

// --- Payouts ---

func (s *MemoryStore) CreatePayout(_ context.Context, p *model.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payouts[p.OrderID]; exists {
		return fmt.Errorf("payout for order %s already exists", p.OrderID)
	}
	cp := *p
	s.payouts[p.OrderID] = &cp
	return nil
}

func (s *MemoryStore) GetPayoutByOrder(_ context.Context, orderID string) (*model.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payouts[orderID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// --- Risk decisions ---

func (s *MemoryStore) InsertRiskDecision(_ context.Context, d *model.RiskDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	cp.Factors = append([]string(nil), d.Factors...)
	s.decisions = append(s.decisions, cp)
	return nil
}

func (s *MemoryStore) LatestRiskDecision(_ context.Context, orderID string) (*model.RiskDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []model.RiskDecision
	for _, d := range s.decisions {
		if d.OrderID == orderID {
			matches = append(matches, d)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	latest := matches[len(matches)-1]
	return &latest, nil
}
