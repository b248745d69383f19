package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("address = %s", cfg.Server.Address)
	}
	if cfg.X402.Network != "devnet" {
		t.Errorf("network = %s", cfg.X402.Network)
	}
	if cfg.X402.MaxPaymentAge.Duration != 5*time.Minute {
		t.Errorf("max payment age = %v", cfg.X402.MaxPaymentAge.Duration)
	}
	if cfg.Cache.Backend != "memory" || cfg.Queue.Backend != "memory" {
		t.Errorf("backends = %s/%s, want memory/memory", cfg.Cache.Backend, cfg.Queue.Backend)
	}
	if cfg.Webhooks.Retry.MaxAttempts != 3 {
		t.Errorf("webhook max attempts = %d, want 3", cfg.Webhooks.Retry.MaxAttempts)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
x402:
  recipient_wallet: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
  network: mainnet-beta
  rpc_url: https://rpc.example.com
  max_payment_age: 10m
paywall:
  resources:
    premium:
      path: /api/premium
      price_usd: 0.001
      description: Premium data
webhooks:
  subscribers:
    - url: https://example.com/hook
      secret: whsec_abc
  retry:
    max_attempts: 5
    initial_delay: 200ms
    backoff: linear
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %s", cfg.Server.Address)
	}
	if cfg.X402.Network != "mainnet-beta" {
		t.Errorf("network = %s", cfg.X402.Network)
	}
	if cfg.X402.MaxPaymentAge.Duration != 10*time.Minute {
		t.Errorf("max payment age = %v", cfg.X402.MaxPaymentAge.Duration)
	}
	res, ok := cfg.Paywall.Resources["premium"]
	if !ok {
		t.Fatal("premium resource missing")
	}
	if res.PriceUSD != 0.001 || res.Path != "/api/premium" {
		t.Errorf("resource = %+v", res)
	}
	if cfg.Webhooks.Retry.Backoff != "linear" || cfg.Webhooks.Retry.InitialDelay.Duration != 200*time.Millisecond {
		t.Errorf("retry = %+v", cfg.Webhooks.Retry)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://env-rpc.example.com")
	t.Setenv("RECIPIENT_WALLET", "EnvWallet1111111111111111111111111111111111")
	t.Setenv("NETWORK", "mainnet-beta")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.X402.RPCURL != "https://env-rpc.example.com" {
		t.Errorf("rpc url = %s", cfg.X402.RPCURL)
	}
	if cfg.X402.RecipientWallet != "EnvWallet1111111111111111111111111111111111" {
		t.Errorf("wallet = %s", cfg.X402.RecipientWallet)
	}
	if cfg.X402.Network != "mainnet-beta" {
		t.Errorf("network = %s", cfg.X402.Network)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisURL == "" {
		t.Errorf("cache = %+v, want redis backend", cfg.Cache)
	}
	if cfg.Queue.Backend != "redis" {
		t.Errorf("queue backend = %s, want redis", cfg.Queue.Backend)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad network", mutate: func(c *Config) { c.X402.Network = "testnet" }},
		{name: "empty rpc", mutate: func(c *Config) { c.X402.RPCURL = "" }},
		{name: "zero price", mutate: func(c *Config) {
			c.Paywall.Resources["x"] = PaywallResource{Path: "/x", PriceUSD: 0}
		}},
		{name: "redis cache without url", mutate: func(c *Config) { c.Cache.Backend = "redis" }},
		{name: "postgres queue without url", mutate: func(c *Config) { c.Queue.Backend = "postgres" }},
		{name: "unknown backoff", mutate: func(c *Config) { c.Webhooks.Retry.Backoff = "fibonacci" }},
		{name: "subscriber without secret", mutate: func(c *Config) {
			c.Webhooks.Subscribers = []WebhookSubscriber{{URL: "https://example.com"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}

func TestDurationYAML(t *testing.T) {
	path := writeConfig(t, `
x402:
  max_payment_age: 300
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.X402.MaxPaymentAge.Duration != 300*time.Second {
		t.Errorf("bare number = %v, want 300s", cfg.X402.MaxPaymentAge.Duration)
	}
}
