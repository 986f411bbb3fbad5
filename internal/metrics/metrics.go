// Package metrics provides Prometheus instrumentation for the settlement core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersCreated counts orders accepted by the state machine.
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_orders_created_total",
		Help: "Total orders created",
	})

	// OrderTransitions counts order status transitions.
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_order_transitions_total",
		Help: "Order status transitions",
	}, []string{"from", "to"})

	// RiskDecisions counts gate outcomes.
	RiskDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_risk_decisions_total",
		Help: "Risk gate decisions by outcome",
	}, []string{"outcome"})

	// EscrowReleased counts escrow releases (full and residual).
	EscrowReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_escrow_released_total",
		Help: "Escrow holds released to sellers",
	})

	// EscrowRefunded counts escrow refunds (full and partial).
	EscrowRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_escrow_refunded_total",
		Help: "Escrow refunds to buyers",
	})

	// OpenDisputes tracks currently active disputes.
	OpenDisputes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_open_disputes",
		Help: "Number of non-terminal disputes",
	})

	// CaptureLatency tracks payment gateway capture duration.
	CaptureLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_capture_latency_seconds",
		Help:    "Payment capture latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected dashboard clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; routes here are flat enough to
		// stay under cardinality limits.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
