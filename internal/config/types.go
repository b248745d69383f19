package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses durations expressed as Go-style strings or bare
// numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(raw + "s")
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config aggregates file and environment configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	X402           X402Config           `yaml:"x402"`
	Paywall        PaywallConfig        `yaml:"paywall"`
	Cache          CacheConfig          `yaml:"cache"`
	Queue          QueueConfig          `yaml:"queue"`
	Webhooks       WebhooksConfig       `yaml:"webhooks"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Client         ClientConfig         `yaml:"client"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// X402Config holds protocol and ledger configuration.
type X402Config struct {
	RecipientWallet string   `yaml:"recipient_wallet"`
	Network         string   `yaml:"network"` // devnet | mainnet-beta
	RPCURL          string   `yaml:"rpc_url"`
	Commitment      string   `yaml:"commitment"` // processed | confirmed | finalized
	MaxPaymentAge   Duration `yaml:"max_payment_age"`
}

// PaywallConfig declares the protected resources.
type PaywallConfig struct {
	Resources map[string]PaywallResource `yaml:"resources"`
}

// PaywallResource defines a single protected resource with pricing.
type PaywallResource struct {
	Path        string  `yaml:"path"`
	PriceUSD    float64 `yaml:"price_usd"`
	Description string  `yaml:"description"`
	MimeType    string  `yaml:"mime_type"`
	TimeoutSecs int     `yaml:"timeout_seconds"`
}

// CacheConfig selects the verification cache backend.
type CacheConfig struct {
	Backend  string `yaml:"backend"` // memory | redis
	RedisURL string `yaml:"redis_url"`
}

// QueueConfig selects the webhook queue backend.
type QueueConfig struct {
	Backend     string `yaml:"backend"` // memory | redis | postgres
	RedisURL    string `yaml:"redis_url"`
	PostgresURL string `yaml:"postgres_url"`
}

// WebhooksConfig holds subscriber and delivery settings.
type WebhooksConfig struct {
	Subscribers    []WebhookSubscriber `yaml:"subscribers"`
	AttemptTimeout Duration            `yaml:"attempt_timeout"`
	PollInterval   Duration            `yaml:"poll_interval"`
	Retry          WebhookRetryConfig  `yaml:"retry"`
}

// WebhookSubscriber is one delivery destination.
type WebhookSubscriber struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// WebhookRetryConfig configures delivery retries.
type WebhookRetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	Backoff      string   `yaml:"backoff"` // exponential | linear
}

// RateLimitConfig bounds request rates on the payment surface.
type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled"`
	Limit   int      `yaml:"limit"` // requests per window per IP
	Window  Duration `yaml:"window"`
}

// CircuitBreakerConfig configures the service breakers.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	LedgerRPC BreakerServiceConfig `yaml:"ledger_rpc"`
	Webhook   BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig configures one circuit breaker.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// ClientConfig holds the paying client's settings. The private key is only
// ever read from the environment.
type ClientConfig struct {
	WalletPrivateKey string `yaml:"-"`
}
