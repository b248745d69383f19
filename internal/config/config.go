// Package config aggregates application configuration from a YAML file and
// environment variables. Environment variables win.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file (optional) and applies
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		X402: X402Config{
			Network:       "devnet",
			RPCURL:        "https://api.devnet.solana.com",
			Commitment:    "confirmed",
			MaxPaymentAge: Duration{Duration: 5 * time.Minute},
		},
		Paywall: PaywallConfig{
			Resources: map[string]PaywallResource{},
		},
		Cache: CacheConfig{
			Backend: "memory",
		},
		Queue: QueueConfig{
			Backend: "memory",
		},
		Webhooks: WebhooksConfig{
			AttemptTimeout: Duration{Duration: 10 * time.Second},
			PollInterval:   Duration{Duration: time.Second},
			Retry: WebhookRetryConfig{
				MaxAttempts:  3,
				InitialDelay: Duration{Duration: 100 * time.Millisecond},
				MaxDelay:     Duration{Duration: 30 * time.Second},
				Backoff:      "exponential",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   120,
			Window:  Duration{Duration: time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			LedgerRPC: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

func (c *Config) parseFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
