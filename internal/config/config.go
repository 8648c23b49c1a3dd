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

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Optional; when set, idempotency records live in Redis

	// Provider credentials
	MockWebhookSecret    string
	StripeAPIKey         string
	StripeWebhookSecret  string
	Safe2PayAPIKey       string
	Safe2PayAPIURL       string
	Safe2PayWebhookToken string
	StoneAPIKey          string
	StoneAPIURL          string
	StoneWebhookToken    string

	// Engine tuning
	ProviderTimeout   time.Duration // Outbound invoice-creation call budget
	CommitTimeout     time.Duration // Atomic scope budget
	InProgressWait    time.Duration // How long a duplicate request waits on IN_PROGRESS
	IdempotencyTTL    time.Duration // Redis record expiry (stale-record sweep)
	PIXExpiry         time.Duration // Lifetime of PIX invoices created by the mock provider
	MaxPaymentAmount  string        // Upper bound accepted by initiation
	WebhookMaxBodyKiB int64
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultSafe2PayAPIURL = "https://api.safe2pay.com.br/v2"
	DefaultStoneAPIURL    = "https://api.openbank.stone.com.br"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:             os.Getenv("REDIS_URL"),
		MockWebhookSecret:    getEnv("MOCK_WEBHOOK_SECRET", "dev-mock-secret"),
		StripeAPIKey:         os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Safe2PayAPIKey:       os.Getenv("SAFE2PAY_API_KEY"),
		Safe2PayAPIURL:       getEnv("SAFE2PAY_API_URL", DefaultSafe2PayAPIURL),
		Safe2PayWebhookToken: os.Getenv("SAFE2PAY_WEBHOOK_TOKEN"),
		StoneAPIKey:          os.Getenv("STONE_API_KEY"),
		StoneAPIURL:          getEnv("STONE_API_URL", DefaultStoneAPIURL),
		StoneWebhookToken:    os.Getenv("STONE_WEBHOOK_TOKEN"),
		ProviderTimeout:      getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second),
		CommitTimeout:        getEnvDuration("COMMIT_TIMEOUT", 5*time.Second),
		InProgressWait:       getEnvDuration("IN_PROGRESS_WAIT", 2*time.Second),
		IdempotencyTTL:       getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		PIXExpiry:            getEnvDuration("PIX_EXPIRY", 30*time.Minute),
		MaxPaymentAmount:     getEnv("MAX_PAYMENT_AMOUNT", "1000000"),
		WebhookMaxBodyKiB:    getEnvInt64("WEBHOOK_MAX_BODY_KIB", 256),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.StripeAPIKey != "" && c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_API_KEY is set")
		}
		if c.Safe2PayAPIKey != "" && c.Safe2PayWebhookToken == "" {
			return fmt.Errorf("SAFE2PAY_WEBHOOK_TOKEN is required when SAFE2PAY_API_KEY is set")
		}
		if c.StoneAPIKey != "" && c.StoneWebhookToken == "" {
			return fmt.Errorf("STONE_WEBHOOK_TOKEN is required when STONE_API_KEY is set")
		}
	}

	if c.InProgressWait <= 0 {
		return fmt.Errorf("IN_PROGRESS_WAIT must be positive")
	}
	if c.CommitTimeout <= 0 {
		return fmt.Errorf("COMMIT_TIMEOUT must be positive")
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
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
