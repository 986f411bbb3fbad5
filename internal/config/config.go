// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config carries every knob the settlement core reads at startup.
type Config struct {
	HTTPAddr     string
	DatabaseURL  string // empty → in-memory store
	RedisURL     string // empty → no cache layer
	KafkaBrokers []string
	ServiceName  string

	CacheTTL time.Duration

	// FeeRate is the platform fee fraction applied at capture.
	FeeRate decimal.Decimal

	// ReturnWindow delays escrow release eligibility after delivery.
	ReturnWindow time.Duration

	// Gateway retry discipline.
	GatewayAttempts int
	GatewayTimeout  time.Duration
	GatewayBackoff  time.Duration

	// Risk gate bands.
	RiskFlagThreshold  int
	RiskBlockThreshold int
}

// Load reads the environment with defaults suitable for development.
func Load() Config {
	feeRate, err := decimal.NewFromString(getenv("FEE_RATE", "0.05"))
	if err != nil {
		feeRate = decimal.NewFromFloat(0.05)
	}

	return Config{
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
		ServiceName:  getenv("SERVICE_NAME", "settlement-core"),

		CacheTTL: getdur("CACHE_TTL", 30*time.Second),

		FeeRate:      feeRate,
		ReturnWindow: getdur("RETURN_WINDOW", 14*24*time.Hour),

		GatewayAttempts: getint("GATEWAY_ATTEMPTS", 3),
		GatewayTimeout:  getdur("GATEWAY_TIMEOUT", 5*time.Second),
		GatewayBackoff:  getdur("GATEWAY_BACKOFF", 500*time.Millisecond),

		RiskFlagThreshold:  getint("RISK_FLAG_THRESHOLD", 40),
		RiskBlockThreshold: getint("RISK_BLOCK_THRESHOLD", 80),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
