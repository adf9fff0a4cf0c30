// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string
	LogFmt   string

	// Ledger settings
	RPCURL        string
	EscrowProgram string // base58 program key of the escrow program
	PrivateKey    string // base58-encoded 64-byte ed25519 key
	Commitment    string

	// Off-chain index service
	IndexURL string

	// Submission tuning
	ConfirmTimeout  time.Duration
	SendMaxRetries  int
	MinPayerBalance uint64 // lamports required before account creation

	// Reconciliation sweep
	ReconcileInterval time.Duration

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultRPCURL            = "http://127.0.0.1:8899"
	DefaultCommitment        = "confirmed"
	DefaultConfirmTimeout    = 60 * time.Second
	DefaultSendMaxRetries    = 5
	DefaultMinPayerBalance   = 10_000_000 // 0.01 in native units; covers rent + fees
	DefaultReconcileInterval = 5 * time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFmt:            getEnv("LOG_FORMAT", "text"),
		RPCURL:            getEnv("RPC_URL", DefaultRPCURL),
		EscrowProgram:     os.Getenv("ESCROW_PROGRAM"), // Required, no default
		PrivateKey:        os.Getenv("PRIVATE_KEY"),    // Required, no default
		Commitment:        getEnv("COMMITMENT", DefaultCommitment),
		IndexURL:          os.Getenv("INDEX_URL"),
		ConfirmTimeout:    getEnvDuration("CONFIRM_TIMEOUT", DefaultConfirmTimeout),
		SendMaxRetries:    int(getEnvInt64("SEND_MAX_RETRIES", DefaultSendMaxRetries)),
		MinPayerBalance:   uint64(getEnvInt64("MIN_PAYER_BALANCE", DefaultMinPayerBalance)),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.EscrowProgram == "" {
		return fmt.Errorf("ESCROW_PROGRAM is required")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.IndexURL == "" {
		return fmt.Errorf("INDEX_URL is required")
	}
	switch c.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("COMMITMENT must be processed, confirmed, or finalized")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
