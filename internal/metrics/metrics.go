// Package metrics exposes Prometheus collectors for payment verification,
// ledger RPC traffic, the verification cache, and webhook delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the process registers.
type Metrics struct {
	// Payment verification
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	PaymentAmountTotal   *prometheus.CounterVec

	// Ledger RPC
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec

	// Verification cache
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Webhook delivery
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDLQTotal     *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec
}

// New creates and registers all collectors on the given registerer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_verifications_total",
				Help: "Payment verification attempts by outcome code.",
			},
			[]string{"outcome", "network"},
		),
		VerificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_verification_duration_seconds",
				Help:    "Time spent verifying a payment end to end.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome", "network"},
		),
		PaymentAmountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_payment_amount_micro_total",
				Help: "Sum of verified payment amounts in token micro-units.",
			},
			[]string{"network"},
		),
		RPCCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_rpc_calls_total",
				Help: "Ledger RPC calls by method and result.",
			},
			[]string{"method", "network", "result"},
		),
		RPCCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_rpc_call_duration_seconds",
				Help:    "Ledger RPC call latency.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "network"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_verification_cache_hits_total",
				Help: "Verification cache hits by backend.",
			},
			[]string{"backend"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_verification_cache_misses_total",
				Help: "Verification cache misses by backend.",
			},
			[]string{"backend"},
		),
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_webhooks_total",
				Help: "Webhook delivery attempts by event and result.",
			},
			[]string{"event", "result"},
		),
		WebhookRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_webhook_retries_total",
				Help: "Webhook deliveries scheduled for retry.",
			},
			[]string{"event"},
		),
		WebhookDLQTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_webhook_dlq_total",
				Help: "Webhooks dropped after exhausting retries or on permanent 4xx.",
			},
			[]string{"event"},
		),
		WebhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_webhook_duration_seconds",
				Help:    "Webhook POST latency.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"event"},
		),
	}

	registry.MustRegister(
		m.VerificationsTotal,
		m.VerificationDuration,
		m.PaymentAmountTotal,
		m.RPCCallsTotal,
		m.RPCCallDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.WebhooksTotal,
		m.WebhookRetriesTotal,
		m.WebhookDLQTotal,
		m.WebhookDuration,
	)

	return m
}

// ObserveVerification records a verification outcome. Nil-safe.
func (m *Metrics) ObserveVerification(outcome, network string, duration time.Duration, amountMicro uint64) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(outcome, network).Inc()
	m.VerificationDuration.WithLabelValues(outcome, network).Observe(duration.Seconds())
	if amountMicro > 0 {
		m.PaymentAmountTotal.WithLabelValues(network).Add(float64(amountMicro))
	}
}

// ObserveRPCCall records one ledger RPC round trip. Nil-safe.
func (m *Metrics) ObserveRPCCall(method, network string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RPCCallsTotal.WithLabelValues(method, network, result).Inc()
	m.RPCCallDuration.WithLabelValues(method, network).Observe(duration.Seconds())
}

// ObserveCacheLookup records a cache hit or miss. Nil-safe.
func (m *Metrics) ObserveCacheLookup(backend string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(backend).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(backend).Inc()
	}
}

// ObserveWebhook records a delivery attempt outcome. Nil-safe.
func (m *Metrics) ObserveWebhook(event, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(event, result).Inc()
	m.WebhookDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// ObserveWebhookRetry records a scheduled retry. Nil-safe.
func (m *Metrics) ObserveWebhookRetry(event string) {
	if m == nil {
		return
	}
	m.WebhookRetriesTotal.WithLabelValues(event).Inc()
}

// ObserveWebhookDLQ records a dead-lettered webhook. Nil-safe.
func (m *Metrics) ObserveWebhookDLQ(event string) {
	if m == nil {
		return
	}
	m.WebhookDLQTotal.WithLabelValues(event).Inc()
}
