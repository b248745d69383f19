// Package callbacks delivers signed webhook notifications for verified
// payments: event shapes, HMAC signing, and the dispatcher loop draining the
// storage queue.
package callbacks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gate402/server/internal/storage"
)

// Event names carried in webhook payloads.
const (
	EventPaymentVerified = "payment.verified"
	EventPaymentFailed   = "payment.failed"
)

// Outbound webhook headers.
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
)

// EventData describes the payment the event is about.
type EventData struct {
	EventID   string  `json:"eventId"` // idempotency key for consumers
	Signature string  `json:"signature"`
	Payer     string  `json:"payer,omitempty"`
	Amount    uint64  `json:"amount"` // micro-units
	AmountUSD float64 `json:"amountUsd"`
	Resource  string  `json:"resource,omitempty"`
	Network   string  `json:"network,omitempty"`
	ErrorCode string  `json:"errorCode,omitempty"` // set on payment.failed
}

// Event is the JSON body POSTed to subscribers.
type Event struct {
	Event     string    `json:"event"`
	Timestamp int64     `json:"timestamp"` // unix milliseconds
	Data      EventData `json:"data"`
}

// Subscriber is one webhook destination with its signing secret and retry
// policy.
type Subscriber struct {
	URL    string
	Secret string
	Retry  storage.RetryPolicy
}

// NewEvent stamps an event with the current time and an idempotency ID.
func NewEvent(name string, data EventData) Event {
	if data.EventID == "" {
		data.EventID = "evt_" + uuid.NewString()
	}
	return Event{
		Event:     name,
		Timestamp: time.Now().UTC().UnixMilli(),
		Data:      data,
	}
}

// QueueEntry converts an event into a storage entry for the subscriber.
func QueueEntry(sub Subscriber, event Event) (storage.QueuedWebhook, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return storage.QueuedWebhook{}, fmt.Errorf("callbacks: marshal event: %w", err)
	}
	return storage.QueuedWebhook{
		Config: storage.WebhookConfig{
			URL:    sub.URL,
			Secret: sub.Secret,
			Retry:  sub.Retry,
		},
		Payload: payload,
		Event:   event.Event,
	}, nil
}
