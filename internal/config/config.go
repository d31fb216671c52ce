// Package config loads engine settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds every tunable the engine reads at startup.
type Config struct {
	Environment  string
	Port         string
	DatabasePath string

	JWTSecret      string
	InternalAPIKey string

	// NATSUrl selects the event transport. Empty means events are
	// written to the log instead of a broker.
	NATSUrl string

	FeeRateBps   int64
	BurnShareBps int64

	// SnipeWindow is how close to the end a bid must land to trigger an
	// extension; SnipeExtension is how far the close moves out.
	SnipeWindow    time.Duration
	SnipeExtension time.Duration

	// DeliveryWindow is how long a buyer has to confirm delivery before
	// escrow auto-releases to the seller.
	DeliveryWindow     time.Duration
	AutoReleaseEnabled bool

	CloseSweepInterval   time.Duration
	ReleaseSweepInterval time.Duration
	DispatchInterval     time.Duration
}

// Load reads the environment and returns a fully populated Config. Every
// setting has a development default so a bare `go run` works.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment")
	}

	return &Config{
		Environment:  envStr("ENV", "development"),
		Port:         envStr("PORT", "8080"),
		DatabasePath: envStr("DATABASE_PATH", "auction.db"),

		JWTSecret:      envStr("JWT_SECRET", "auction-engine-secret"),
		InternalAPIKey: envStr("INTERNAL_API_KEY", "internal-service-key"),

		NATSUrl: envStr("NATS_URL", ""),

		FeeRateBps:   envInt64("FEE_RATE_BPS", 300),
		BurnShareBps: envInt64("BURN_SHARE_BPS", 5000),

		SnipeWindow:    envDuration("SNIPE_WINDOW", 5*time.Minute),
		SnipeExtension: envDuration("SNIPE_EXTENSION", 5*time.Minute),

		DeliveryWindow:     envDuration("DELIVERY_WINDOW", 7*24*time.Hour),
		AutoReleaseEnabled: envBool("AUTO_RELEASE_ENABLED", true),

		CloseSweepInterval:   envDuration("CLOSE_SWEEP_INTERVAL", 2*time.Second),
		ReleaseSweepInterval: envDuration("RELEASE_SWEEP_INTERVAL", 30*time.Second),
		DispatchInterval:     envDuration("DISPATCH_INTERVAL", time.Second),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean in environment, using default")
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using default")
		return fallback
	}
	return d
}
