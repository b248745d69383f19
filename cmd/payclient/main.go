// Command payclient fetches a payment-gated URL, paying the 402 challenge
// with the wallet in WALLET_PRIVATE_KEY.
//
// Usage:
//
//	WALLET_PRIVATE_KEY=... SOLANA_RPC_URL=... NETWORK=devnet payclient <url>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/gate402/server/internal/client"
	"github.com/gate402/server/internal/config"
	"github.com/gate402/server/internal/logger"
	solanautil "github.com/gate402/server/internal/solana"
	"github.com/gate402/server/pkg/x402"
	x402solana "github.com/gate402/server/pkg/x402/solana"
)

func main() {
	_ = godotenv.Load()

	timeout := flag.Duration("timeout", 5*time.Minute, "overall request timeout")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: payclient [-timeout 5m] <url>")
		os.Exit(2)
	}
	url := flag.Arg(0)

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("payclient.config_failed")
	}
	baseLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      "console",
		Service:     "payclient",
		Environment: cfg.X402.Network,
	})

	if cfg.Client.WalletPrivateKey == "" {
		baseLogger.Fatal().Msg("payclient.wallet_key_missing")
	}
	key, err := solanautil.ParsePrivateKey(cfg.Client.WalletPrivateKey)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("payclient.wallet_key_invalid")
	}

	network, err := x402.NetworkForCluster(cfg.X402.Network)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("payclient.network_invalid")
	}

	sender, err := x402solana.NewWalletSender(cfg.X402.RPCURL, key, cfg.X402.Commitment)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("payclient.sender_failed")
	}
	agent, err := client.New(sender, network)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("payclient.agent_failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, baseLogger)

	baseLogger.Info().
		Str("url", url).
		Str("wallet", logger.TruncateAddress(sender.Wallet())).
		Str("network", network).
		Msg("payclient.fetching")

	resp, err := agent.Get(ctx, url)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("payclient.fetch_failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("payclient.read_failed")
	}

	if settlement, ok := client.ReadSettlement(resp); ok {
		baseLogger.Info().
			Str("transaction", logger.TruncateAddress(settlement.Transaction)).
			Str("payer", logger.TruncateAddress(settlement.Payer)).
			Str("network", settlement.Network).
			Msg("payclient.payment_settled")
	}

	baseLogger.Info().Int("status", resp.StatusCode).Msg("payclient.done")
	fmt.Println(string(body))
}
