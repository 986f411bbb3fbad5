// Package settle defines the shared error taxonomy of the settlement core.
//
// Guard failures are returned synchronously with enough detail to act; no
// error path leaves partially applied state behind.
package settle

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input, rejected before any state change.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks a state-machine guard failure.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrAlreadyHeld is returned when capturing escrow for an order that
	// already has a live hold.
	ErrAlreadyHeld = errors.New("escrow already held for order")

	// ErrAlreadyFinalized marks a retry of a completed terminal action.
	// Callers treat it as idempotent success, not a failure.
	ErrAlreadyFinalized = errors.New("already finalized")

	// ErrEscrowLocked is returned when a release or refund is attempted
	// while a dispute is active on the order.
	ErrEscrowLocked = errors.New("escrow locked by active dispute")

	// ErrDisputeActive is returned when opening a dispute on an order that
	// already has a non-terminal one.
	ErrDisputeActive = errors.New("order already has an active dispute")

	// ErrInsufficientFunds is returned when a ledger debit would drive a
	// wallet balance negative. Never auto-retried.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRiskBlocked is returned when the risk gate blocks order creation.
	ErrRiskBlocked = errors.New("order blocked by risk gate")

	// ErrReviewPending is returned when escrow release is attempted while a
	// standing flag decision awaits manual review and no override was given.
	ErrReviewPending = errors.New("release requires manual review or admin override")

	// ErrExternalDependency marks a payment gateway or carrier failure that
	// survived bounded retries. The order is left in its pre-call state.
	ErrExternalDependency = errors.New("external dependency failure")

	// ErrConcurrencyConflict marks lock or compare-and-swap contention.
	// Safe for the caller to retry immediately.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// TransitionError reports a guard failure with the state the entity is in
// and the state the operation requires, so callers can act on it.
type TransitionError struct {
	Entity   string // "order", "hold", "dispute", "shipment"
	ID       string
	Current  string
	Required string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s is %s, requires %s", e.Entity, e.ID, e.Current, e.Required)
}

// Unwrap makes every TransitionError match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Transition builds a TransitionError.
func Transition(entity, id, current, required string) error {
	return &TransitionError{Entity: entity, ID: id, Current: current, Required: required}
}
