// Package ratelimit bounds request rates on the payment surface. Challenge
// issuance is cheap but verification hits the ledger RPC, so abusive clients
// are cut off per IP before they reach the verifier.
package ratelimit

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/gate402/server/pkg/responders"
)

// Config holds rate limiting configuration.
type Config struct {
	Enabled bool
	Limit   int           // requests per window per IP
	Window  time.Duration // time window
}

// DefaultConfig allows two requests per second averaged over a minute.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Limit:   120,
		Window:  time.Minute,
	}
}

// Middleware returns a per-IP limiter, or a pass-through when disabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultConfig().Limit
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultConfig().Window
	}

	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			responders.JSON(w, http.StatusTooManyRequests, map[string]any{
				"error":               "rate limit exceeded",
				"retry_after_seconds": int(window.Seconds()),
			})
		}),
	)
}
