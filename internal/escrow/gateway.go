package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/settle"
)

// PaymentGateway is the external payment collaborator. Capture is
// all-or-nothing: on any error no hold is created and the order stays in
// its pre-call state.
type PaymentGateway interface {
	// CapturePayment captures funds and returns the gateway reference.
	CapturePayment(ctx context.Context, amount int64, currency, methodRef string) (string, error)

	// RefundPayment refunds part or all of a prior capture.
	RefundPayment(ctx context.Context, reference string, amount int64) error
}

// RetryingGateway wraps a PaymentGateway with a per-attempt timeout and
// bounded retries with backoff. After the attempt budget is spent the
// failure surfaces as ErrExternalDependency; it is never retried further
// here. A slow gateway degrades latency, not correctness.
type RetryingGateway struct {
	inner    PaymentGateway
	attempts int
	timeout  time.Duration
	backoff  time.Duration
}

// NewRetryingGateway wraps inner with retry/timeout discipline.
func NewRetryingGateway(inner PaymentGateway, attempts int, timeout, backoff time.Duration) *RetryingGateway {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingGateway{inner: inner, attempts: attempts, timeout: timeout, backoff: backoff}
}

func (g *RetryingGateway) CapturePayment(ctx context.Context, amount int64, currency, methodRef string) (string, error) {
	var lastErr error
	for i := 0; i < g.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("capture aborted: %w", settle.ErrExternalDependency)
			case <-time.After(g.backoff * time.Duration(i)):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		ref, err := g.inner.CapturePayment(attemptCtx, amount, currency, methodRef)
		cancel()
		if err == nil {
			return ref, nil
		}
		lastErr = err
		slog.Warn("payment capture attempt failed", "attempt", i+1, "err", err)
	}
	return "", fmt.Errorf("capture failed after %d attempts: %v: %w", g.attempts, lastErr, settle.ErrExternalDependency)
}

func (g *RetryingGateway) RefundPayment(ctx context.Context, reference string, amount int64) error {
	var lastErr error
	for i := 0; i < g.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("refund aborted: %w", settle.ErrExternalDependency)
			case <-time.After(g.backoff * time.Duration(i)):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		err := g.inner.RefundPayment(attemptCtx, reference, amount)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("payment refund attempt failed", "attempt", i+1, "reference", reference, "err", err)
	}
	return fmt.Errorf("refund failed after %d attempts: %v: %w", g.attempts, lastErr, settle.ErrExternalDependency)
}

// StubGateway approves every capture and refund. Used in development and
// tests when no real gateway is configured.
type StubGateway struct{}

func (StubGateway) CapturePayment(_ context.Context, _ int64, _, _ string) (string, error) {
	return "cap_" + uuid.New().String(), nil
}

func (StubGateway) RefundPayment(_ context.Context, _ string, _ int64) error {
	return nil
}
