// Package circuitbreaker isolates the two external services this process
// talks to — ledger RPC and webhook subscribers — behind independent
// breakers, so a failing subscriber cannot brown out payment verification.
package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// ServiceType identifies an external service boundary.
type ServiceType string

const (
	ServiceLedgerRPC ServiceType = "ledger_rpc"
	ServiceWebhook   ServiceType = "webhook"
)

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32        // requests allowed through while half-open
	Interval            time.Duration // closed-state counter reset period
	Timeout             time.Duration // open-state duration before half-open
	ConsecutiveFailures uint32        // trip threshold
	FailureRatio        float64       // alternative trip: failure ratio over MinRequests
	MinRequests         uint32
}

// Config holds breaker configuration for all services.
type Config struct {
	Enabled   bool
	LedgerRPC BreakerConfig
	Webhook   BreakerConfig
}

// Manager owns one breaker per service.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
}

// NewManager creates a breaker manager. When disabled, Execute passes through.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
	}
	if !cfg.Enabled {
		return m
	}
	m.breakers[ServiceLedgerRPC] = gobreaker.NewCircuitBreaker(settings(string(ServiceLedgerRPC), cfg.LedgerRPC))
	m.breakers[ServiceWebhook] = gobreaker.NewCircuitBreaker(settings(string(ServiceWebhook), cfg.Webhook))
	return m
}

// Execute wraps fn with the service's breaker, or calls it directly when the
// manager is disabled.
func (m *Manager) Execute(service ServiceType, fn func() (any, error)) (any, error) {
	if m == nil || !m.enabled {
		return fn()
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

func settings(name string, cfg BreakerConfig) gobreaker.Settings {
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = 60 * time.Second
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	consecutive := cfg.ConsecutiveFailures
	if consecutive == 0 {
		consecutive = 5
	}
	ratio := cfg.FailureRatio
	if ratio == 0 {
		ratio = 0.5
	}
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 10
	}

	return gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= consecutive {
				return true
			}
			if counts.Requests >= minRequests {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= ratio
			}
			return false
		},
	}
}
