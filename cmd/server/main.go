package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/annavenegas79-ai/plataxv7-sub001/internal/config"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/dispute"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/escrow"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/events"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/ledger"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/metrics"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/order"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/risk"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/shipment"
	"github.com/annavenegas79-ai/plataxv7-sub001/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Event publisher ---
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers)
		cleanup = append(cleanup, func() { kp.Close() })
		publisher = kp
		slog.Info("Kafka publisher enabled", "brokers", cfg.KafkaBrokers)
	} else {
		slog.Warn("KAFKA_BROKERS not set, domain events will be dropped")
	}

	// --- Payment gateway ---
	// No real gateway integration ships in this binary; the stub approves
	// everything. The retry wrapper still applies so timeouts and backoff
	// behave the same once a real gateway is plugged in.
	gateway := escrow.NewRetryingGateway(escrow.StubGateway{},
		cfg.GatewayAttempts, cfg.GatewayTimeout, cfg.GatewayBackoff)

	// --- Settlement components ---
	ledgerSvc := ledger.NewService(st)
	escrowMgr := escrow.NewManager(st, ledgerSvc, gateway, escrow.Policy{
		FeeRate:      cfg.FeeRate,
		ReturnWindow: cfg.ReturnWindow,
	})
	tracker := shipment.NewTracker(st)
	resolver := dispute.NewResolver(st, escrowMgr)

	gate := risk.NewGate(st)
	gate.FlagThreshold = cfg.RiskFlagThreshold
	gate.BlockThreshold = cfg.RiskBlockThreshold

	// --- WebSocket hub ---
	wsHub := order.NewWSHub()
	go wsHub.Run()

	// --- Order service ---
	orderSvc := order.NewService(st, gate, escrowMgr, tracker, resolver, ledgerSvc,
		publisher, cfg.ServiceName, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor-ID, X-Actor-Role")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"` + cfg.ServiceName + `"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for live settlement activity.
		r.Get("/ws", wsHub.HandleWS)

		orderSvc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("settlement core listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down settlement core...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("settlement core stopped")
}
