// Package ledger owns wallet balances and immutable monetary movements.
//
// Every movement is an append-only LedgerEntry; the wallet balance is a
// materialized view written in the same store call as the entry and
// recomputable from the entry log at any time.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/locking"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/settle"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/store"
)

// Reason codes for ledger entries.
const (
	ReasonEscrowRelease   = "escrow_release"
	ReasonEscrowRefund    = "escrow_refund"
	ReasonDisputeRefund   = "dispute_refund"
	ReasonResidualRelease = "residual_release"
	ReasonTopup           = "wallet_topup"
)

// Service records entries and answers balance queries. Writes to the same
// wallet serialize on a per-wallet lock so the materialized balance never
// diverges from the entry log under concurrent payouts.
type Service struct {
	store store.Store
	locks *locking.KeyedMutex
}

// NewService creates a ledger service.
func NewService(st store.Store) *Service {
	return &Service{store: st, locks: locking.NewKeyedMutex()}
}

// EnsureWallet returns the user's wallet, creating it with a zero balance
// on first use.
func (s *Service) EnsureWallet(ctx context.Context, userID, currency string) (*model.Wallet, error) {
	w, err := s.store.GetWalletByUser(ctx, userID)
	if err == nil {
		return w, nil
	}

	now := time.Now().UTC()
	w = &model.Wallet{
		ID:        uuid.New().String(),
		UserID:    userID,
		Balance:   0,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		// Lost a race to another creator; re-read.
		if existing, getErr := s.store.GetWalletByUser(ctx, userID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return w, nil
}

// RecordEntry appends a signed movement to a wallet and updates its
// materialized balance. A debit that would drive the balance negative is
// rejected with ErrInsufficientFunds: debits run against wallet balances
// only, never against escrowed funds.
func (s *Service) RecordEntry(ctx context.Context, walletID string, delta int64, reason, reference string) (*model.LedgerEntry, error) {
	if walletID == "" {
		return nil, fmt.Errorf("wallet id is required: %w", settle.ErrValidation)
	}
	if delta == 0 {
		return nil, fmt.Errorf("delta must be non-zero: %w", settle.ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("reason code is required: %w", settle.ErrValidation)
	}

	s.locks.Lock(walletID)
	defer s.locks.Unlock(walletID)

	balance, err := s.balanceFromEntries(ctx, walletID)
	if err != nil {
		return nil, err
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return nil, fmt.Errorf("wallet %s balance %d, debit %d: %w",
			walletID, balance, delta, settle.ErrInsufficientFunds)
	}

	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		WalletID:  walletID,
		Delta:     delta,
		Reason:    reason,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendLedgerEntry(ctx, entry, newBalance); err != nil {
		return nil, err
	}

	slog.Info("ledger entry recorded",
		"entry_id", entry.ID,
		"wallet", walletID,
		"delta", delta,
		"reason", reason,
		"reference", reference,
		"balance", newBalance,
	)
	return entry, nil
}

// Balance returns the wallet's current balance for a user.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	w, err := s.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// History returns all entries for a user's wallet in creation order.
func (s *Service) History(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	w, err := s.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.GetLedgerEntries(ctx, w.ID)
}

// Reconcile recomputes the balance from the entry log and reports drift
// against the materialized value. The cached balance is advisory; the
// entry log is the source of truth.
func (s *Service) Reconcile(ctx context.Context, userID string) (drift int64, err error) {
	w, err := s.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	s.locks.Lock(w.ID)
	defer s.locks.Unlock(w.ID)

	computed, err := s.balanceFromEntries(ctx, w.ID)
	if err != nil {
		return 0, err
	}

	drift = w.Balance - computed
	if drift != 0 {
		slog.Error("ledger drift detected",
			"wallet", w.ID, "materialized", w.Balance, "computed", computed)
	}
	return drift, nil
}

func (s *Service) balanceFromEntries(ctx context.Context, walletID string) (int64, error) {
	entries, err := s.store.GetLedgerEntries(ctx, walletID)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	return sum, nil
}
