package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.False(t, config.Prod)
	assert.Equal(t, DefaultBrokerID, config.BrokerID)
	assert.Equal(t, "USD", config.Currency)
	assert.Equal(t, "BTC", config.CryptoCurrency)
	assert.Equal(t, 10*time.Second, config.Timeout)
	assert.Zero(t, config.RateLimitRequests)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, EnvironmentSandbox, config.Environment())
	assert.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid_config",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid_url",
			mutate:  func(c *Config) { c.URL = "not a url" },
			wantErr: true,
			errMsg:  "URL",
		},
		{
			name:    "unsupported_currency",
			mutate:  func(c *Config) { c.Currency = "EUR" },
			wantErr: true,
			errMsg:  "Currency",
		},
		{
			name:    "negative_broker",
			mutate:  func(c *Config) { c.BrokerID = -1 },
			wantErr: true,
			errMsg:  "BrokerID",
		},
		{
			name:    "invalid_timeout",
			mutate:  func(c *Config) { c.Timeout = 0 },
			wantErr: true,
			errMsg:  "Timeout",
		},
		{
			name:    "credentials_missing_secret",
			mutate:  func(c *Config) { c.Credentials = &Credentials{APIKey: "key"} },
			wantErr: true,
			errMsg:  "APISecret",
		},
		{
			name:    "rate_limit_without_period",
			mutate:  func(c *Config) { c.RateLimitRequests = 10 },
			wantErr: true,
			errMsg:  "RateLimitPeriod",
		},
		{
			name:    "breaker_without_timeout",
			mutate:  func(c *Config) { c.BreakerThreshold = 3 },
			wantErr: true,
			errMsg:  "BreakerTimeout",
		},
		{
			name:    "invalid_log_level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: true,
			errMsg:  "LogLevel",
		},
		{
			name: "custom_url_and_credentials",
			mutate: func(c *Config) {
				c.WithURL("https://broker.example.com").WithCredentials("key", "secret")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.errMsg), "error %q should mention %q", err, tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_Chaining(t *testing.T) {
	config := DefaultConfig().
		WithProd(true).
		WithBrokerID(11).
		WithCurrency("BRL").
		WithTimeout(5*time.Second).
		WithRateLimit(10, time.Second).
		WithCircuitBreaker(3, time.Minute).
		WithCredentials("key", "secret")

	assert.True(t, config.Prod)
	assert.Equal(t, EnvironmentProduction, config.Environment())
	assert.Equal(t, 11, config.BrokerID)
	assert.Equal(t, "BRL", config.Currency)
	assert.Equal(t, 5*time.Second, config.Timeout)
	assert.Equal(t, 10, config.RateLimitRequests)
	assert.Equal(t, 3, config.BreakerThreshold)
	assert.Equal(t, time.Minute, config.BreakerTimeout)
	assert.Equal(t, "key", config.Credentials.APIKey)
	assert.NoError(t, config.Validate())
}

func TestConfig_Clone(t *testing.T) {
	config := DefaultConfig().WithCredentials("key", "secret")
	clone := config.Clone()

	config.Credentials.APIKey = "changed"
	config.BrokerID = 99

	assert.Equal(t, "key", clone.Credentials.APIKey)
	assert.Equal(t, DefaultBrokerID, clone.BrokerID)
}
