// Package storage persists the webhook delivery queue. Entries survive in
// one of three backends — process memory, Redis, or Postgres — behind a
// single Queue interface; the dispatcher never knows which is in use.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the webhook is not in the queue.
var ErrNotFound = errors.New("storage: webhook not found")

// BackoffStrategy selects how retry delays grow.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
)

// Retry defaults.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 100 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
)

// RetryPolicy controls delivery retries for a single webhook.
type RetryPolicy struct {
	MaxAttempts  int             `json:"maxAttempts"`
	InitialDelay time.Duration   `json:"initialDelay"`
	MaxDelay     time.Duration   `json:"maxDelay"`
	Backoff      BackoffStrategy `json:"backoff"`
}

// Normalize fills zero fields with defaults.
func (p RetryPolicy) Normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Backoff != BackoffLinear {
		p.Backoff = BackoffExponential
	}
	return p
}

// Delay returns the wait before the next attempt, given the number of
// attempts already made. Exponential doubles from InitialDelay; linear grows
// by InitialDelay per attempt. Both cap at MaxDelay.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	p = p.Normalize()
	if attempts < 0 {
		attempts = 0
	}

	var delay time.Duration
	switch p.Backoff {
	case BackoffLinear:
		delay = p.InitialDelay * time.Duration(attempts+1)
	default:
		delay = p.InitialDelay
		for i := 0; i < attempts; i++ {
			delay *= 2
			if delay >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay
}

// WebhookConfig is the per-subscriber delivery configuration carried with
// each queued entry.
type WebhookConfig struct {
	URL    string      `json:"url"`
	Secret string      `json:"secret"`
	Retry  RetryPolicy `json:"retry"`
}

// QueuedWebhook is one pending delivery.
type QueuedWebhook struct {
	ID          string          `json:"id"`
	Config      WebhookConfig   `json:"config"`
	Payload     json.RawMessage `json:"payload"`
	Event       string          `json:"event"` // payload event name, for logs and metrics
	Attempts    int             `json:"attempts"`
	NextAttempt time.Time       `json:"nextAttempt"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Queue is the webhook delivery queue. All implementations are safe for
// concurrent use. Dequeue hands out at most one ready entry at a time; the
// dispatcher finishes it with either Retry or Remove.
type Queue interface {
	// Enqueue stores a new entry, assigning an ID when absent, and returns the ID.
	Enqueue(ctx context.Context, webhook QueuedWebhook) (string, error)

	// Dequeue returns the next entry whose NextAttempt is due, or nil when
	// none is ready.
	Dequeue(ctx context.Context) (*QueuedWebhook, error)

	// Retry records a failed attempt and reschedules the entry per its
	// retry policy.
	Retry(ctx context.Context, webhook QueuedWebhook, errorMsg string) error

	// Remove deletes an entry, whether delivered or dead-lettered.
	Remove(ctx context.Context, id string) error

	// Size returns the number of entries currently queued.
	Size(ctx context.Context) (int, error)

	Close() error
}

// newWebhookID creates a unique identifier for a queued webhook.
func newWebhookID() string {
	return "wh_" + uuid.NewString()
}

// normalizeEnqueue fills defaults on a freshly enqueued entry.
func normalizeEnqueue(webhook *QueuedWebhook, now time.Time) error {
	if webhook.Config.URL == "" {
		return fmt.Errorf("storage: webhook url required")
	}
	if webhook.ID == "" {
		webhook.ID = newWebhookID()
	}
	webhook.Config.Retry = webhook.Config.Retry.Normalize()
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = now
	}
	if webhook.NextAttempt.IsZero() {
		webhook.NextAttempt = now
	}
	return nil
}
