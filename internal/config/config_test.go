package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "")
	setEnv(t, "PORT", "")
	setEnv(t, "DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 15*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 5*time.Second, cfg.CommitTimeout)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "1000000", cfg.MaxPaymentAmount)
	assert.Equal(t, int64(256), cfg.WebhookMaxBodyKiB)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "ENV", "staging")
	setEnv(t, "PORT", "9090")
	setEnv(t, "PROVIDER_TIMEOUT", "3s")
	setEnv(t, "MAX_PAYMENT_AMOUNT", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 3*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "500", cfg.MaxPaymentAmount)
	assert.False(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{
			Env:            "development",
			InProgressWait: time.Second,
			CommitTimeout:  time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid development config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name: "production requires database",
			mutate: func(c *Config) {
				c.Env = "production"
			},
			wantErr: "DATABASE_URL is required",
		},
		{
			name: "stripe key without webhook secret",
			mutate: func(c *Config) {
				c.Env = "production"
				c.DatabaseURL = "postgres://localhost/pagera"
				c.StripeAPIKey = "sk_test_123"
			},
			wantErr: "STRIPE_WEBHOOK_SECRET is required",
		},
		{
			name: "safe2pay key without webhook token",
			mutate: func(c *Config) {
				c.Env = "production"
				c.DatabaseURL = "postgres://localhost/pagera"
				c.Safe2PayAPIKey = "s2p_123"
			},
			wantErr: "SAFE2PAY_WEBHOOK_TOKEN is required",
		},
		{
			name: "non-positive in-progress wait",
			mutate: func(c *Config) {
				c.InProgressWait = 0
			},
			wantErr: "IN_PROGRESS_WAIT must be positive",
		},
		{
			name: "non-positive commit timeout",
			mutate: func(c *Config) {
				c.CommitTimeout = -time.Second
			},
			wantErr: "COMMIT_TIMEOUT must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
