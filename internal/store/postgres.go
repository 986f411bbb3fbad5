package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/settle"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as BIGINT minor units. Status updates use
// conditional UPDATEs so concurrent writers surface ErrConcurrencyConflict
// instead of clobbering each other.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Orders ---

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, buyer_id, seller_id, total, currency, address_id, status, payment_ref, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.BuyerID, o.SellerID, o.Total, o.Currency, o.AddressID,
		o.Status, o.PaymentRef, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4)`,
			o.ID, it.ProductID, it.Quantity, it.UnitPrice,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	var paymentRef sql.NullString
	var deliveredAt sql.NullTime

	err := s.pool.QueryRow(ctx,
		`SELECT id, buyer_id, seller_id, total, currency, address_id, status, payment_ref, created_at, updated_at, delivered_at
		 FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.Total, &o.Currency, &o.AddressID,
			&o.Status, &paymentRef, &o.CreatedAt, &o.UpdatedAt, &deliveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, settle.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	o.PaymentRef = paymentRef.String
	if deliveredAt.Valid {
		o.DeliveredAt = deliveredAt.Time
	}

	rows, err := s.pool.Query(ctx,
		`SELECT product_id, quantity, unit_price FROM order_items WHERE order_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var it model.LineItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $3, updated_at = $4,
		     delivered_at = CASE WHEN $3 = 'delivered' THEN $4 ELSE delivered_at END
		 WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s not in status %s: %w", id, from, settle.ErrConcurrencyConflict)
	}
	return nil
}

func (s *PostgresStore) SetOrderPaymentRef(ctx context.Context, id, ref string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE orders SET payment_ref = $2, updated_at = $3 WHERE id = $1`,
		id, ref, time.Now().UTC(),
	)
	return err
}

// --- Escrow holds ---

func (s *PostgresStore) CreateHold(ctx context.Context, h *model.EscrowHold) error {
	// Partial unique index on escrow_holds(order_id) WHERE status = 'held'
	// backs the one-live-hold-per-order invariant.
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM escrow_holds WHERE order_id = $1 AND status = 'held')`,
		h.OrderID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("order %s: %w", h.OrderID, settle.ErrAlreadyHeld)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO escrow_holds (id, order_id, amount, remaining, released, refunded, fee, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.ID, h.OrderID, h.Amount, h.Remaining, h.Released, h.Refunded, h.Fee, h.Status, h.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetHoldByOrder(ctx context.Context, orderID string) (*model.EscrowHold, error) {
	var h model.EscrowHold
	var finalizedAt sql.NullTime

	err := s.pool.QueryRow(ctx,
		`SELECT id, order_id, amount, remaining, released, refunded, fee, status, created_at, finalized_at
		 FROM escrow_holds WHERE order_id = $1
		 ORDER BY created_at DESC LIMIT 1`, orderID).
		Scan(&h.ID, &h.OrderID, &h.Amount, &h.Remaining, &h.Released, &h.Refunded,
			&h.Fee, &h.Status, &h.CreatedAt, &finalizedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("hold for order %s: %w", orderID, settle.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get hold for order %s: %w", orderID, err)
	}
	if finalizedAt.Valid {
		h.FinalizedAt = finalizedAt.Time
	}
	return &h, nil
}

func (s *PostgresStore) UpdateHold(ctx context.Context, h *model.EscrowHold, expect model.HoldStatus) error {
	var finalizedAt interface{}
	if !h.FinalizedAt.IsZero() {
		finalizedAt = h.FinalizedAt
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE escrow_holds
		 SET remaining = $3, released = $4, refunded = $5, status = $6, finalized_at = $7
		 WHERE id = $1 AND status = $2`,
		h.ID, expect, h.Remaining, h.Released, h.Refunded, h.Status, finalizedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("hold %s not in status %s: %w", h.ID, expect, settle.ErrConcurrencyConflict)
	}
	return nil
}

// --- Shipments ---

func (s *PostgresStore) GetShipmentByOrder(ctx context.Context, orderID string) (*model.Shipment, error) {
	var sh model.Shipment
	err := s.pool.QueryRow(ctx,
		`SELECT id, order_id, carrier, tracking_code, status, updated_at
		 FROM shipments WHERE order_id = $1`, orderID).
		Scan(&sh.ID, &sh.OrderID, &sh.Carrier, &sh.TrackingCode, &sh.Status, &sh.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shipment for order %s: %w", orderID, err)
	}
	return &sh, nil
}

func (s *PostgresStore) UpsertShipment(ctx context.Context, sh *model.Shipment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO shipments (id, order_id, carrier, tracking_code, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (order_id) DO UPDATE
		 SET carrier = $3, tracking_code = $4, status = $5, updated_at = $6`,
		sh.ID, sh.OrderID, sh.Carrier, sh.TrackingCode, sh.Status, sh.UpdatedAt,
	)
	return err
}

// --- Disputes ---

func (s *PostgresStore) CreateDispute(ctx context.Context, d *model.Dispute) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM disputes WHERE order_id = $1 AND status IN ('open', 'under_review'))`,
		d.OrderID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("order %s: %w", d.OrderID, settle.ErrDisputeActive)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO disputes (id, order_id, opener_id, arbiter_id, reason, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.OrderID, d.OpenerID, d.ArbiterID, d.Reason, d.Status, d.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetDispute(ctx context.Context, id string) (*model.Dispute, error) {
	d, err := s.scanDispute(ctx, `SELECT id, order_id, opener_id, arbiter_id, reason, status, created_at, resolved_at
		 FROM disputes WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("dispute %s: %w", id, settle.ErrNotFound)
	}
	return d, nil
}

func (s *PostgresStore) GetActiveDisputeByOrder(ctx context.Context, orderID string) (*model.Dispute, error) {
	return s.scanDispute(ctx, `SELECT id, order_id, opener_id, arbiter_id, reason, status, created_at, resolved_at
		 FROM disputes WHERE order_id = $1 AND status IN ('open', 'under_review')
		 ORDER BY created_at DESC LIMIT 1`, orderID)
}

func (s *PostgresStore) GetLatestDisputeByOrder(ctx context.Context, orderID string) (*model.Dispute, error) {
	return s.scanDispute(ctx, `SELECT id, order_id, opener_id, arbiter_id, reason, status, created_at, resolved_at
		 FROM disputes WHERE order_id = $1
		 ORDER BY created_at DESC LIMIT 1`, orderID)
}

func (s *PostgresStore) scanDispute(ctx context.Context, query string, arg string) (*model.Dispute, error) {
	var d model.Dispute
	var arbiter sql.NullString
	var resolvedAt sql.NullTime

	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&d.ID, &d.OrderID, &d.OpenerID, &arbiter, &d.Reason, &d.Status, &d.CreatedAt, &resolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.ArbiterID = arbiter.String
	if resolvedAt.Valid {
		d.ResolvedAt = resolvedAt.Time
	}
	return &d, nil
}

func (s *PostgresStore) UpdateDispute(ctx context.Context, d *model.Dispute, expect model.DisputeStatus) error {
	var resolvedAt interface{}
	if !d.ResolvedAt.IsZero() {
		resolvedAt = d.ResolvedAt
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE disputes SET status = $3, arbiter_id = $4, resolved_at = $5
		 WHERE id = $1 AND status = $2`,
		d.ID, expect, d.Status, d.ArbiterID, resolvedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispute %s not in status %s: %w", d.ID, expect, settle.ErrConcurrencyConflict)
	}
	return nil
}

func (s *PostgresStore) AddDisputeNote(ctx context.Context, n *model.DisputeNote) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dispute_notes (id, dispute_id, actor_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		n.ID, n.DisputeID, n.ActorID, n.Body, n.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetDisputeNotes(ctx context.Context, disputeID string) ([]model.DisputeNote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, dispute_id, actor_id, body, created_at
		 FROM dispute_notes WHERE dispute_id = $1 ORDER BY created_at`, disputeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []model.DisputeNote
	for rows.Next() {
		var n model.DisputeNote
		if err := rows.Scan(&n.ID, &n.DisputeID, &n.ActorID, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// --- Wallets and ledger ---

func (s *PostgresStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (id, user_id, balance, currency, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.UserID, w.Balance, w.Currency, w.CreatedAt, w.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetWalletByUser(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, balance, currency, created_at, updated_at
		 FROM wallets WHERE user_id = $1`, userID).
		Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wallet for user %s: %w", userID, settle.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet for user %s: %w", userID, err)
	}
	return &w, nil
}

func (s *PostgresStore) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry, newBalance int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, wallet_id, delta, reason, reference, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.WalletID, e.Delta, e.Reason, e.Reference, e.CreatedAt,
	)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = $2, updated_at = $3 WHERE id = $1`,
		e.WalletID, newBalance, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", e.WalletID, settle.ErrNotFound)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetLedgerEntries(ctx context.Context, walletID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, wallet_id, delta, reason, reference, created_at
		 FROM ledger_entries WHERE wallet_id = $1 ORDER BY created_at`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Delta, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Payouts ---

func (s *PostgresStore) CreatePayout(ctx context.Context, p *model.Payout) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payouts (id, seller_id, order_id, amount, status, reference, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.SellerID, p.OrderID, p.Amount, p.Status, p.Reference, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPayoutByOrder(ctx context.Context, orderID string) (*model.Payout, error) {
	var p model.Payout
	err := s.pool.QueryRow(ctx,
		`SELECT id, seller_id, order_id, amount, status, reference, created_at
		 FROM payouts WHERE order_id = $1 ORDER BY created_at LIMIT 1`, orderID).
		Scan(&p.ID, &p.SellerID, &p.OrderID, &p.Amount, &p.Status, &p.Reference, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payout for order %s: %w", orderID, err)
	}
	return &p, nil
}

// --- Risk decisions ---

func (s *PostgresStore) InsertRiskDecision(ctx context.Context, d *model.RiskDecision) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO risk_decisions (id, order_id, score, factors, outcome, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.OrderID, d.Score, d.Factors, d.Outcome, d.CreatedAt,
	)
	return err
}

func (s *PostgresStore) LatestRiskDecision(ctx context.Context, orderID string) (*model.RiskDecision, error) {
	var d model.RiskDecision
	err := s.pool.QueryRow(ctx,
		`SELECT id, order_id, score, factors, outcome, created_at
		 FROM risk_decisions WHERE order_id = $1
		 ORDER BY created_at DESC LIMIT 1`, orderID).
		Scan(&d.ID, &d.OrderID, &d.Score, &d.Factors, &d.Outcome, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get risk decision for order %s: %w", orderID, err)
	}
	return &d, nil
}
