// Package risk implements the synchronous risk checkpoint consulted at
// order creation and before payout.
//
// Scoring is a pure function of the caller-supplied signals so every
// decision is replayable in tests; the only side effect of Evaluate is
// persisting the immutable decision record. A fresh evaluation is a new
// decision, never a retry of an old one.
package risk

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/model"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/store"
)

// Signals is the input the scoring engine consumes. Collaborator services
// (auth, order history) populate it; the gate does not fetch anything.
type Signals struct {
	AmountMinorUnits int64 `json:"amount_minor_units"`
	AccountAgeDays   int   `json:"account_age_days"`
	PriorOrders      int   `json:"prior_orders"`
	PriorDisputes    int   `json:"prior_disputes"`
	AddressMismatch  bool  `json:"address_mismatch"`
	OrdersLastHour   int   `json:"orders_last_hour"`
}

// Factor tags attached to decisions for the review queue.
const (
	FactorHighAmount      = "high_amount"
	FactorNewAccount      = "new_account"
	FactorNoHistory       = "no_history"
	FactorDisputeHistory  = "dispute_history"
	FactorAddressMismatch = "address_mismatch"
	FactorVelocity        = "velocity"
)

// Gate scores signals into admit/flag/block bands.
//
// Default bands follow the platform policy: score < FlagThreshold admits,
// [FlagThreshold, BlockThreshold) flags for manual review, ≥ BlockThreshold
// blocks order creation outright.
type Gate struct {
	store store.Store

	// FlagThreshold is the lowest score that queues the order for review.
	FlagThreshold int

	// BlockThreshold is the lowest score that rejects the order.
	BlockThreshold int

	// HighAmount is the minor-unit total above which the amount factor
	// starts contributing.
	HighAmount int64
}

// NewGate creates a gate with the default bands (40/80).
func NewGate(st store.Store) *Gate {
	return &Gate{
		store:          st,
		FlagThreshold:  40,
		BlockThreshold: 80,
		HighAmount:     50_000, // 500.00 in minor units
	}
}

// Rule weights. Tuned against the fraud team's labeled backfill; a real
// model can replace this table without touching the state machine.
var (
	weightHighAmount      = decimal.NewFromInt(15)
	weightAmountScale     = decimal.NewFromFloat(0.0001) // per minor unit above HighAmount
	weightNewAccount      = decimal.NewFromInt(20)
	weightNoHistory       = decimal.NewFromInt(10)
	weightPerDispute      = decimal.NewFromInt(25)
	weightAddressMismatch = decimal.NewFromInt(20)
	weightPerRapidOrder   = decimal.NewFromInt(10)
)

// Score computes the 0–100 risk score and the factor tags that fired.
// Pure: same signals, same result.
func (g *Gate) Score(sig Signals) (int, []string) {
	total := decimal.Zero
	var factors []string

	if sig.AmountMinorUnits > g.HighAmount {
		excess := decimal.NewFromInt(sig.AmountMinorUnits - g.HighAmount)
		total = total.Add(weightHighAmount).Add(excess.Mul(weightAmountScale))
		factors = append(factors, FactorHighAmount)
	}
	if sig.AccountAgeDays < 7 {
		total = total.Add(weightNewAccount)
		factors = append(factors, FactorNewAccount)
	}
	if sig.PriorOrders == 0 {
		total = total.Add(weightNoHistory)
		factors = append(factors, FactorNoHistory)
	}
	if sig.PriorDisputes > 0 {
		total = total.Add(weightPerDispute.Mul(decimal.NewFromInt(int64(sig.PriorDisputes))))
		factors = append(factors, FactorDisputeHistory)
	}
	if sig.AddressMismatch {
		total = total.Add(weightAddressMismatch)
		factors = append(factors, FactorAddressMismatch)
	}
	if sig.OrdersLastHour > 2 {
		rapid := decimal.NewFromInt(int64(sig.OrdersLastHour - 2))
		total = total.Add(weightPerRapidOrder.Mul(rapid))
		factors = append(factors, FactorVelocity)
	}

	score := int(total.Round(0).IntPart())
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, factors
}

// Outcome maps a score onto the decision bands.
func (g *Gate) Outcome(score int) model.RiskOutcome {
	switch {
	case score >= g.BlockThreshold:
		return model.RiskBlock
	case score >= g.FlagThreshold:
		return model.RiskFlag
	default:
		return model.RiskAdmit
	}
}

// Evaluate scores the signals and persists the immutable decision record.
func (g *Gate) Evaluate(ctx context.Context, orderID string, sig Signals) (*model.RiskDecision, error) {
	score, factors := g.Score(sig)

	decision := &model.RiskDecision{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Score:     score,
		Factors:   factors,
		Outcome:   g.Outcome(score),
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.InsertRiskDecision(ctx, decision); err != nil {
		return nil, err
	}
	return decision, nil
}

// Latest returns the newest decision for an order, or nil when the order
// was never evaluated.
func (g *Gate) Latest(ctx context.Context, orderID string) (*model.RiskDecision, error) {
	return g.store.LatestRiskDecision(ctx, orderID)
}
