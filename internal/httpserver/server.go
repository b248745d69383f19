// Package httpserver assembles the chi router and HTTP server for the
// payment-gating facilitator.
package httpserver

import (
	"context"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gate402/server/internal/config"
	"github.com/gate402/server/internal/logger"
	"github.com/gate402/server/internal/paywall"
	"github.com/gate402/server/internal/ratelimit"
	"github.com/gate402/server/pkg/responders"
)

// Options assembles the server.
type Options struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Paywall   *paywall.Service
	Resources []paywall.Resource
}

// New builds the HTTP server with all middleware and routes mounted.
func New(opts Options) *http.Server {
	router := chi.NewRouter()

	router.Use(chimiddleware.Recoverer)
	router.Use(logger.Middleware(opts.Logger))
	if len(opts.Config.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.Config.Server.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-PAYMENT", "X-Request-ID"},
			ExposedHeaders: []string{"X-PAYMENT-RESPONSE", "X-Request-ID"},
		}))
	}
	router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled: opts.Config.RateLimit.Enabled,
		Limit:   opts.Config.RateLimit.Limit,
		Window:  opts.Config.RateLimit.Window.Duration,
	}))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		responders.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	mountResources(router, opts.Paywall, opts.Resources)

	return &http.Server{
		Addr:         opts.Config.Server.Address,
		Handler:      router,
		ReadTimeout:  opts.Config.Server.ReadTimeout.Duration,
		WriteTimeout: opts.Config.Server.WriteTimeout.Duration,
		IdleTimeout:  opts.Config.Server.IdleTimeout.Duration,
	}
}

// mountResources registers one gated route per configured resource. The
// handler behind the gate returns a payment receipt along with the resource
// body; embedders mount their own handlers the same way.
func mountResources(router chi.Router, service *paywall.Service, resources []paywall.Resource) {
	sort.Slice(resources, func(i, j int) bool { return resources[i].Path < resources[j].Path })

	for _, res := range resources {
		res := res
		router.With(service.Middleware(res)).Get(res.Path, func(w http.ResponseWriter, r *http.Request) {
			payment, _ := paywall.PaymentFromContext(r.Context())
			responders.JSON(w, http.StatusOK, map[string]any{
				"resource": res.Path,
				"payment": map[string]any{
					"payer":     payment.Payer,
					"amount":    payment.Amount,
					"amountUsd": payment.AmountUSD,
					"signature": payment.Signature,
					"slot":      payment.Slot,
				},
			})
		})
	}
}

// Shutdown gracefully stops a server.
func Shutdown(ctx context.Context, server *http.Server) error {
	return server.Shutdown(ctx)
}
