package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gate402/server/internal/callbacks"
	"github.com/gate402/server/internal/circuitbreaker"
	"github.com/gate402/server/internal/config"
	"github.com/gate402/server/internal/httpserver"
	"github.com/gate402/server/internal/lifecycle"
	"github.com/gate402/server/internal/logger"
	"github.com/gate402/server/internal/metrics"
	"github.com/gate402/server/internal/paywall"
	"github.com/gate402/server/internal/storage"
	"github.com/gate402/server/internal/verifycache"
	"github.com/gate402/server/pkg/x402"
	x402solana "github.com/gate402/server/pkg/x402/solana"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("server.config_load_failed")
	}

	baseLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "gate402",
		Environment: cfg.X402.Network,
	})
	log.Logger = baseLogger

	if cfg.X402.RecipientWallet == "" {
		baseLogger.Fatal().Msg("server.recipient_wallet_missing")
	}

	resourceManager := lifecycle.NewManager()
	defer func() {
		if err := resourceManager.Close(); err != nil {
			baseLogger.Error().Err(err).Msg("server.shutdown_cleanup_failed")
		}
	}()

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	breaker := circuitbreaker.NewManager(circuitbreaker.Config{
		Enabled:   cfg.CircuitBreaker.Enabled,
		LedgerRPC: breakerConfig(cfg.CircuitBreaker.LedgerRPC),
		Webhook:   breakerConfig(cfg.CircuitBreaker.Webhook),
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStart()

	cache := buildCache(startCtx, cfg, baseLogger)
	resourceManager.Register("verification_cache", cache)

	queue := buildQueue(startCtx, cfg, baseLogger)
	resourceManager.Register("webhook_queue", queue)

	network, err := x402.NetworkForCluster(cfg.X402.Network)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("server.network_invalid")
	}
	mint, err := x402.USDCMintForNetwork(network)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("server.mint_lookup_failed")
	}

	ledger, err := x402solana.NewRPCLedger(cfg.X402.RPCURL,
		x402solana.WithCommitment(cfg.X402.Commitment),
		x402solana.WithBreaker(breaker),
		x402solana.WithMetrics(metricsCollector, network),
	)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("server.ledger_client_failed")
	}

	verifier, err := x402solana.NewVerifier(x402solana.VerifierConfig{
		Ledger:        ledger,
		Cache:         cache,
		Mint:          mint,
		Network:       network,
		MaxPaymentAge: cfg.X402.MaxPaymentAge.Duration,
		Metrics:       metricsCollector,
	})
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("server.verifier_failed")
	}

	generator, err := x402.NewChallengeGenerator(cfg.X402.RecipientWallet, network)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("server.challenge_generator_failed")
	}
	baseLogger.Info().
		Str("wallet", logger.TruncateAddress(cfg.X402.RecipientWallet)).
		Str("token_account", logger.TruncateAddress(generator.RecipientTokenAccount())).
		Str("network", network).
		Msg("server.receiving_account_derived")

	service, err := paywall.NewService(paywall.ServiceOptions{
		Generator:   generator,
		Verifier:    verifier,
		Queue:       queue,
		Subscribers: subscribers(cfg),
	})
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("server.paywall_failed")
	}

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	dispatcher := callbacks.NewDispatcher(callbacks.DispatcherOptions{
		Queue:          queue,
		Logger:         baseLogger,
		Metrics:        metricsCollector,
		Breaker:        breaker,
		PollInterval:   cfg.Webhooks.PollInterval.Duration,
		AttemptTimeout: cfg.Webhooks.AttemptTimeout.Duration,
	})
	dispatcher.Start(dispatcherCtx)
	resourceManager.RegisterFunc("webhook_dispatcher", dispatcher.Stop)

	server := httpserver.New(httpserver.Options{
		Config:    cfg,
		Logger:    baseLogger,
		Paywall:   service,
		Resources: resources(cfg),
	})

	errChan := make(chan error, 1)
	go func() {
		baseLogger.Info().Str("address", cfg.Server.Address).Msg("server.listening")
		errChan <- server.ListenAndServe()
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		baseLogger.Info().Str("signal", sig.String()).Msg("server.shutdown_requested")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Error().Err(err).Msg("server.listen_failed")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := httpserver.Shutdown(shutdownCtx, server); err != nil {
		baseLogger.Error().Err(err).Msg("server.shutdown_failed")
	}
}

// buildCache selects the verification cache backend from config.
func buildCache(ctx context.Context, cfg *config.Config, baseLogger zerolog.Logger) verifycache.Cache {
	switch cfg.Cache.Backend {
	case "redis":
		cache, err := verifycache.NewRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			baseLogger.Fatal().Err(err).Msg("server.cache_redis_failed")
		}
		baseLogger.Info().Msg("server.cache_backend_redis")
		return cache
	default:
		baseLogger.Warn().Msg("server.cache_backend_memory")
		return verifycache.NewMemory()
	}
}

// buildQueue selects the webhook queue backend from config.
func buildQueue(ctx context.Context, cfg *config.Config, baseLogger zerolog.Logger) storage.Queue {
	switch cfg.Queue.Backend {
	case "redis":
		queue, err := storage.NewRedisQueue(ctx, cfg.Queue.RedisURL)
		if err != nil {
			baseLogger.Fatal().Err(err).Msg("server.queue_redis_failed")
		}
		baseLogger.Info().Msg("server.queue_backend_redis")
		return queue
	case "postgres":
		queue, err := storage.NewPostgresQueue(ctx, cfg.Queue.PostgresURL)
		if err != nil {
			baseLogger.Fatal().Err(err).Msg("server.queue_postgres_failed")
		}
		baseLogger.Info().Msg("server.queue_backend_postgres")
		return queue
	default:
		baseLogger.Warn().Msg("server.queue_backend_memory")
		return storage.NewMemoryQueue()
	}
}

func breakerConfig(cfg config.BreakerServiceConfig) circuitbreaker.BreakerConfig {
	return circuitbreaker.BreakerConfig{
		MaxRequests:         cfg.MaxRequests,
		Interval:            cfg.Interval.Duration,
		Timeout:             cfg.Timeout.Duration,
		ConsecutiveFailures: cfg.ConsecutiveFailures,
		FailureRatio:        cfg.FailureRatio,
		MinRequests:         cfg.MinRequests,
	}
}

// subscribers converts configured webhook destinations, attaching the shared
// retry policy to each.
func subscribers(cfg *config.Config) []callbacks.Subscriber {
	retry := storage.RetryPolicy{
		MaxAttempts:  cfg.Webhooks.Retry.MaxAttempts,
		InitialDelay: cfg.Webhooks.Retry.InitialDelay.Duration,
		MaxDelay:     cfg.Webhooks.Retry.MaxDelay.Duration,
		Backoff:      storage.BackoffStrategy(cfg.Webhooks.Retry.Backoff),
	}
	subs := make([]callbacks.Subscriber, 0, len(cfg.Webhooks.Subscribers))
	for _, sub := range cfg.Webhooks.Subscribers {
		subs = append(subs, callbacks.Subscriber{
			URL:    sub.URL,
			Secret: sub.Secret,
			Retry:  retry,
		})
	}
	return subs
}

// resources converts configured paywall resources.
func resources(cfg *config.Config) []paywall.Resource {
	list := make([]paywall.Resource, 0, len(cfg.Paywall.Resources))
	for _, res := range cfg.Paywall.Resources {
		list = append(list, paywall.Resource{
			Path:        res.Path,
			PriceUSD:    res.PriceUSD,
			Description: res.Description,
			MimeType:    res.MimeType,
			TimeoutSecs: res.TimeoutSecs,
		})
	}
	return list
}
