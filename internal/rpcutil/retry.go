// Package rpcutil wraps ledger RPC operations with bounded retry and
// exponential backoff for transient failures.
package rpcutil

import (
	"context"
	"strings"
	"time"

	"github.com/gate402/server/internal/logger"
)

// Config defines retry behavior for RPC operations.
type Config struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // backoff cap
}

// DefaultConfig is the standard policy for ledger fetches: three attempts,
// 100ms doubling up to 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// WithRetry runs operation with the default policy.
func WithRetry[T any](ctx context.Context, operation func() (T, error)) (T, error) {
	return WithRetryConfig(ctx, DefaultConfig(), operation)
}

// WithRetryConfig runs operation, retrying transient errors with exponential
// backoff. Non-retryable errors and context cancellation return immediately.
func WithRetryConfig[T any](ctx context.Context, cfg Config, operation func() (T, error)) (T, error) {
	var result T
	var err error

	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err = operation()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return result, err
		}
		if !IsRetryable(err) {
			return result, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("retry_delay", delay).
			Msg("rpc.operation_retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return result, err
}

// IsRetryable reports whether an error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	// Network errors
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure") ||
		strings.Contains(msg, "network") {
		return true
	}

	// Rate limiting
	if strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "throttle") {
		return true
	}

	// Server-side errors
	if strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "gateway timeout") {
		return true
	}

	return false
}
