package config

import "os"

// applyEnvOverrides applies environment variables over the file values.
// These are the recognized configuration surface:
//
//	SOLANA_RPC_URL     ledger endpoint (server and client)
//	RECIPIENT_WALLET   server's receiving wallet
//	WALLET_PRIVATE_KEY client's payer key (base58 or JSON array)
//	NETWORK            devnet | mainnet-beta
//	REDIS_URL          durable cache/queue backend
//	POSTGRES_URL       durable queue backend
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.X402.RPCURL, "SOLANA_RPC_URL")
	setIfEnv(&c.X402.RecipientWallet, "RECIPIENT_WALLET")
	setIfEnv(&c.X402.Network, "NETWORK")
	setIfEnv(&c.Client.WalletPrivateKey, "WALLET_PRIVATE_KEY")

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Cache.Backend = "redis"
		c.Cache.RedisURL = redisURL
		if c.Queue.Backend == "" || c.Queue.Backend == "memory" {
			c.Queue.Backend = "redis"
		}
		c.Queue.RedisURL = redisURL
	}
	if postgresURL := os.Getenv("POSTGRES_URL"); postgresURL != "" {
		c.Queue.Backend = "postgres"
		c.Queue.PostgresURL = postgresURL
	}

	setIfEnv(&c.Server.Address, "SERVER_ADDRESS")
	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")
}

func setIfEnv(target *string, name string) {
	if value := os.Getenv(name); value != "" {
		*target = value
	}
}
