package core

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// ExchangeName identifies BlinkTrade in errors and logs.
const ExchangeName = "blinktrade"

// DefaultBrokerID is the broker used when none is configured.
const DefaultBrokerID = 5

// Credentials holds the API key pair used to sign REST trade requests.
// The WebSocket transport authenticates with username/password instead.
type Credentials struct {
	// APIKey is the public API key identifier.
	APIKey string `json:"api_key" validate:"required"`
	// APISecret is the private key used for signing the request nonce.
	APISecret string `json:"api_secret" validate:"required"`
}

// Config contains every construction parameter for the REST and WebSocket transports.
// Transports copy the config on construction, so later mutation has no effect on them.
type Config struct {
	// URL overrides the default endpoint for the selected environment.
	URL string `json:"url,omitempty" validate:"omitempty,url"`
	// Prod selects the production environment; the sandbox is used otherwise.
	Prod bool `json:"prod"`
	// BrokerID partitions the exchange's multi-tenant backend.
	BrokerID int `json:"broker_id" validate:"min=0"`

	// Credentials are required only by REST trade endpoints.
	Credentials *Credentials `json:"credentials,omitempty"`
	// Currency is the fiat currency used by the public REST endpoints.
	Currency string `json:"currency,omitempty" validate:"omitempty,oneof=USD BRL VEF CLP VND PKR"`
	// CryptoCurrency is the asset queried by the public REST endpoints.
	CryptoCurrency string `json:"crypto_currency,omitempty" validate:"omitempty,alpha"`

	// Timeout is the maximum duration for HTTP requests and the websocket handshake.
	Timeout time.Duration `json:"timeout" validate:"min=1ms"`

	// RateLimitRequests enables client-side throttling when positive.
	RateLimitRequests int           `json:"rate_limit_requests" validate:"min=0"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" validate:"min=0"`

	// BreakerThreshold opens the REST circuit breaker after that many
	// consecutive network or server failures. Zero disables it.
	BreakerThreshold int           `json:"breaker_threshold" validate:"min=0"`
	BreakerTimeout   time.Duration `json:"breaker_timeout" validate:"min=0"`

	PingInterval time.Duration `json:"ping_interval" validate:"min=0"`
	PongWait     time.Duration `json:"pong_wait" validate:"min=0"`
	BufferSize   int           `json:"buffer_size" validate:"min=0"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=trace debug info warn error disabled"`
}

// DefaultConfig returns a sandbox Config for the default broker.
// Default values: 10s timeout, USD/BTC public market, no client-side throttling,
// 30s websocket ping interval.
func DefaultConfig() *Config {
	return &Config{
		Prod:           false,
		BrokerID:       DefaultBrokerID,
		Currency:       "USD",
		CryptoCurrency: "BTC",
		Timeout:        10 * time.Second,
		PingInterval:   30 * time.Second,
		PongWait:       30 * time.Second,
		BufferSize:     256,
		LogLevel:       "info",
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.RateLimitRequests > 0 && c.RateLimitPeriod <= 0 {
		return errors.New("RateLimitPeriod must be positive when RateLimitRequests is set")
	}
	if c.BreakerThreshold > 0 && c.BreakerTimeout <= 0 {
		return errors.New("BreakerTimeout must be positive when BreakerThreshold is set")
	}
	return nil
}

// Environment returns the environment selected by the Prod flag.
func (c *Config) Environment() Environment {
	if c.Prod {
		return EnvironmentProduction
	}
	return EnvironmentSandbox
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	cp := *c
	if c.Credentials != nil {
		creds := *c.Credentials
		cp.Credentials = &creds
	}
	return &cp
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(key, secret string) *Config {
	c.Credentials = &Credentials{APIKey: key, APISecret: secret}
	return c
}

// WithProd toggles the production environment and returns the config for chaining.
func (c *Config) WithProd(prod bool) *Config {
	c.Prod = prod
	return c
}

// WithURL sets a custom backend URL and returns the config for chaining.
func (c *Config) WithURL(url string) *Config {
	c.URL = url
	return c
}

// WithBrokerID sets the broker and returns the config for chaining.
func (c *Config) WithBrokerID(id int) *Config {
	c.BrokerID = id
	return c
}

// WithCurrency sets the public market currency and returns the config for chaining.
func (c *Config) WithCurrency(currency string) *Config {
	c.Currency = currency
	return c
}

// WithTimeout sets the request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRateLimit enables client-side throttling and returns the config for chaining.
func (c *Config) WithRateLimit(requests int, period time.Duration) *Config {
	c.RateLimitRequests = requests
	c.RateLimitPeriod = period
	return c
}

// WithCircuitBreaker makes REST calls fail fast with ErrCircuitOpen for timeout
// after threshold consecutive failures, and returns the config for chaining.
func (c *Config) WithCircuitBreaker(threshold int, timeout time.Duration) *Config {
	c.BreakerThreshold = threshold
	c.BreakerTimeout = timeout
	return c
}
