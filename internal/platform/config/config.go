package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process level configuration. FromEnv builds it from
// environment variables so main stays lean.
type Server struct {
	Addr     string
	LogLevel string

	// MasterSecret seeds macaroon root key derivation. Must be overridden in
	// production.
	MasterSecret  string
	TokenLocation string
	TokenTTL      time.Duration

	// PostFeeSats is the flat platform fee added on top of a job's reward
	// when charging for job creation.
	PostFeeSats int64
	Currency    string

	// LND settlement backend. Empty host means the deterministic fake oracle
	// is used (demo environment).
	LNDHost         string
	LNDMacaroonHex  string
	LNDTimeout      time.Duration

	// Stores. Empty URLs fall back to in-memory implementations.
	DatabaseURL string
	RedisURL    string

	// Kafka claim event stream. Empty brokers disable publishing.
	KafkaBrokers string
	KafkaTopic   string

	// Claim endpoint rate limiting.
	ClaimRateLimit  int
	ClaimRateWindow time.Duration
}

const defaultTokenTTL = time.Hour

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:            envOr("GANAMOS_ADDR", ":8080"),
		LogLevel:        envOr("GANAMOS_LOG_LEVEL", "info"),
		MasterSecret:    envOr("GANAMOS_MASTER_SECRET", "dev-secret-change-in-production"),
		TokenLocation:   envOr("GANAMOS_TOKEN_LOCATION", "ganamos"),
		TokenTTL:        envDurationOr("GANAMOS_TOKEN_TTL", defaultTokenTTL),
		PostFeeSats:     envInt64Or("GANAMOS_POST_FEE_SATS", 10),
		Currency:        envOr("GANAMOS_CURRENCY", "BTC"),
		LNDHost:         os.Getenv("GANAMOS_LND_HOST"),
		LNDMacaroonHex:  os.Getenv("GANAMOS_LND_MACAROON_HEX"),
		LNDTimeout:      envDurationOr("GANAMOS_LND_TIMEOUT", 10*time.Second),
		DatabaseURL:     os.Getenv("GANAMOS_DATABASE_URL"),
		RedisURL:        os.Getenv("GANAMOS_REDIS_URL"),
		KafkaBrokers:    os.Getenv("GANAMOS_KAFKA_BROKERS"),
		KafkaTopic:      envOr("GANAMOS_KAFKA_TOPIC", "ganamos.jobs.claimed"),
		ClaimRateLimit:  envIntOr("GANAMOS_CLAIM_RATE_LIMIT", 30),
		ClaimRateWindow: envDurationOr("GANAMOS_CLAIM_RATE_WINDOW", time.Minute),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
