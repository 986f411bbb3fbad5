package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths (order state, wallet balance). Writes go to
// the primary store and invalidate the cache; reads check Redis first then
// fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// --- Orders (read-through) ---

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.CreateOrder(ctx, o); err != nil {
		return err
	}
	s.cacheOrder(ctx, o)
	return nil
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	data, err := s.rdb.Get(ctx, orderKey(id)).Bytes()
	if err == nil {
		var o model.Order
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	o, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	return o, nil
}

func (s *CachedStore) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error {
	if err := s.primary.UpdateOrderStatus(ctx, id, from, to); err != nil {
		return err
	}
	s.rdb.Del(ctx, orderKey(id))
	return nil
}

func (s *CachedStore) SetOrderPaymentRef(ctx context.Context, id, ref string) error {
	if err := s.primary.SetOrderPaymentRef(ctx, id, ref); err != nil {
		return err
	}
	s.rdb.Del(ctx, orderKey(id))
	return nil
}

// --- Wallets (read-through) ---

func (s *CachedStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	if err := s.primary.CreateWallet(ctx, w); err != nil {
		return err
	}
	s.cacheWallet(ctx, w)
	return nil
}

func (s *CachedStore) GetWalletByUser(ctx context.Context, userID string) (*model.Wallet, error) {
	data, err := s.rdb.Get(ctx, walletKey(userID)).Bytes()
	if err == nil {
		var w model.Wallet
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	w, err := s.primary.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheWallet(ctx, w)
	return w, nil
}

func (s *CachedStore) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry, newBalance int64) error {
	if err := s.primary.AppendLedgerEntry(ctx, e, newBalance); err != nil {
		return err
	}
	// The balance cache is keyed by user id; resolve it through the
	// wallet-id mapping. A missed invalidation self-heals at TTL expiry.
	if userID, err := s.rdb.Get(ctx, walletByIDKey(e.WalletID)).Result(); err == nil {
		s.rdb.Del(ctx, walletKey(userID))
	}
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateHold(ctx context.Context, h *model.EscrowHold) error {
	return s.primary.CreateHold(ctx, h)
}

func (s *CachedStore) GetHoldByOrder(ctx context.Context, orderID string) (*model.EscrowHold, error) {
	return s.primary.GetHoldByOrder(ctx, orderID)
}

func (s *CachedStore) UpdateHold(ctx context.Context, h *model.EscrowHold, expect model.HoldStatus) error {
	return s.primary.UpdateHold(ctx, h, expect)
}

func (s *CachedStore) GetShipmentByOrder(ctx context.Context, orderID string) (*model.Shipment, error) {
	return s.primary.GetShipmentByOrder(ctx, orderID)
}

func (s *CachedStore) UpsertShipment(ctx context.Context, sh *model.Shipment) error {
	return s.primary.UpsertShipment(ctx, sh)
}

func (s *CachedStore) CreateDispute(ctx context.Context, d *model.Dispute) error {
	return s.primary.CreateDispute(ctx, d)
}

func (s *CachedStore) GetDispute(ctx context.Context, id string) (*model.Dispute, error) {
	return s.primary.GetDispute(ctx, id)
}

func (s *CachedStore) GetActiveDisputeByOrder(ctx context.Context, orderID string) (*model.Dispute, error) {
	return s.primary.GetActiveDisputeByOrder(ctx, orderID)
}

func (s *CachedStore) GetLatestDisputeByOrder(ctx context.Context, orderID string) (*model.Dispute, error) {
	return s.primary.GetLatestDisputeByOrder(ctx, orderID)
}

func (s *CachedStore) UpdateDispute(ctx context.Context, d *model.Dispute, expect model.DisputeStatus) error {
	return s.primary.UpdateDispute(ctx, d, expect)
}

func (s *CachedStore) AddDisputeNote(ctx context.Context, n *model.DisputeNote) error {
	return s.primary.AddDisputeNote(ctx, n)
}

func (s *CachedStore) GetDisputeNotes(ctx context.Context, disputeID string) ([]model.DisputeNote, error) {
	return s.primary.GetDisputeNotes(ctx, disputeID)
}

func (s *CachedStore) GetLedgerEntries(ctx context.Context, walletID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntries(ctx, walletID)
}

func (s *CachedStore) CreatePayout(ctx context.Context, p *model.Payout) error {
	return s.primary.CreatePayout(ctx, p)
}

func (s *CachedStore) GetPayoutByOrder(ctx context.Context, orderID string) (*model.Payout, error) {
	return s.primary.GetPayoutByOrder(ctx, orderID)
}

func (s *CachedStore) InsertRiskDecision(ctx context.Context, d *model.RiskDecision) error {
	return s.primary.InsertRiskDecision(ctx, d)
}

func (s *CachedStore) LatestRiskDecision(ctx context.Context, orderID string) (*model.RiskDecision, error) {
	return s.primary.LatestRiskDecision(ctx, orderID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheOrder(ctx context.Context, o *model.Order) {
	if data, err := json.Marshal(o); err == nil {
		s.rdb.Set(ctx, orderKey(o.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheWallet(ctx context.Context, w *model.Wallet) {
	if data, err := json.Marshal(w); err == nil {
		s.rdb.Set(ctx, walletKey(w.UserID), data, s.ttl)
		s.rdb.Set(ctx, walletByIDKey(w.ID), w.UserID, s.ttl)
	}
}

func orderKey(id string) string        { return fmt.Sprintf("order:%s", id) }
func walletKey(userID string) string   { return fmt.Sprintf("wallet:user:%s", userID) }
func walletByIDKey(id string) string   { return fmt.Sprintf("wallet:id:%s", id) }
