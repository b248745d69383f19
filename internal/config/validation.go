package config

import (
	"fmt"
)

// Validate checks cross-field consistency after file and env merging.
func (c *Config) Validate() error {
	switch c.X402.Network {
	case "devnet", "mainnet-beta":
	default:
		return fmt.Errorf("config: network must be devnet or mainnet-beta, got %q", c.X402.Network)
	}

	if c.X402.RPCURL == "" {
		return fmt.Errorf("config: rpc_url (SOLANA_RPC_URL) required")
	}

	switch c.X402.Commitment {
	case "", "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("config: commitment %q not recognized", c.X402.Commitment)
	}

	for name, res := range c.Paywall.Resources {
		if res.Path == "" {
			return fmt.Errorf("config: resource %q has no path", name)
		}
		if res.PriceUSD <= 0 {
			return fmt.Errorf("config: resource %q price must be positive, got %f", name, res.PriceUSD)
		}
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("config: cache backend redis requires redis_url (REDIS_URL)")
		}
	default:
		return fmt.Errorf("config: cache backend %q not recognized", c.Cache.Backend)
	}

	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Queue.RedisURL == "" {
			return fmt.Errorf("config: queue backend redis requires redis_url (REDIS_URL)")
		}
	case "postgres":
		if c.Queue.PostgresURL == "" {
			return fmt.Errorf("config: queue backend postgres requires postgres_url (POSTGRES_URL)")
		}
	default:
		return fmt.Errorf("config: queue backend %q not recognized", c.Queue.Backend)
	}

	switch c.Webhooks.Retry.Backoff {
	case "", "exponential", "linear":
	default:
		return fmt.Errorf("config: webhook backoff %q not recognized", c.Webhooks.Retry.Backoff)
	}

	for i, sub := range c.Webhooks.Subscribers {
		if sub.URL == "" {
			return fmt.Errorf("config: webhook subscriber %d has no url", i)
		}
		if sub.Secret == "" {
			return fmt.Errorf("config: webhook subscriber %d has no secret", i)
		}
	}

	return nil
}
