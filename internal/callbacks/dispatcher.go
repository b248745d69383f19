package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/gate402/server/internal/circuitbreaker"
	"github.com/gate402/server/internal/httputil"
	"github.com/gate402/server/internal/metrics"
	"github.com/gate402/server/internal/storage"
)

// Dispatcher timing defaults.
const (
	// DefaultAttemptTimeout bounds each delivery POST. Subscribers must
	// answer within it.
	DefaultAttemptTimeout = 10 * time.Second

	// defaultPollInterval is how often the loop checks for due entries.
	defaultPollInterval = time.Second
)

// Dispatcher drains the webhook queue from a single goroutine: pop one ready
// entry, POST it signed, classify the result, retry or drop.
type Dispatcher struct {
	queue        storage.Queue
	httpClient   *http.Client
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	breaker      *circuitbreaker.Manager
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Queue          storage.Queue
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	Breaker        *circuitbreaker.Manager
	PollInterval   time.Duration // default 1s
	AttemptTimeout time.Duration // default 10s
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	attemptTimeout := opts.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	return &Dispatcher{
		queue:        opts.Queue,
		httpClient:   httputil.NewClient(attemptTimeout),
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		breaker:      opts.Breaker,
		pollInterval: opts.PollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start launches the dispatcher loop.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Stop signals the loop to exit and blocks until it has. Entries still due
// are not delivered first; they stay in the queue.
func (d *Dispatcher) Stop() error {
	close(d.stopChan)
	<-d.doneChan
	return nil
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.doneChan)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.logger.Info().Dur("poll_interval", d.pollInterval).Msg("webhook.dispatcher_started")

	for {
		select {
		case <-d.stopChan:
			d.logger.Info().Msg("webhook.dispatcher_stopping")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// drain delivers every currently-due entry before going back to sleep.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		entry, err := d.queue.Dequeue(ctx)
		if err != nil {
			d.logger.Error().Err(err).Msg("webhook.dequeue_failed")
			return
		}
		if entry == nil {
			return
		}
		d.deliver(ctx, *entry)
	}
}

// deliver performs one delivery attempt and settles the entry's fate.
func (d *Dispatcher) deliver(ctx context.Context, entry storage.QueuedWebhook) {
	start := time.Now()
	status, err := d.post(ctx, entry)
	duration := time.Since(start)

	switch classify(status, err) {
	case outcomeSuccess:
		if removeErr := d.queue.Remove(ctx, entry.ID); removeErr != nil {
			d.logger.Error().Err(removeErr).Str("webhook_id", entry.ID).Msg("webhook.remove_failed")
		}
		d.metrics.ObserveWebhook(entry.Event, "success", duration)
		d.logger.Info().
			Str("webhook_id", entry.ID).
			Str("event", entry.Event).
			Int("attempts", entry.Attempts+1).
			Dur("duration", duration).
			Msg("webhook.delivered")

	case outcomePermanent:
		// 4xx other than 408/429: the subscriber rejected the payload and
		// will keep rejecting it. Dead-letter by log.
		if removeErr := d.queue.Remove(ctx, entry.ID); removeErr != nil {
			d.logger.Error().Err(removeErr).Str("webhook_id", entry.ID).Msg("webhook.remove_failed")
		}
		d.metrics.ObserveWebhook(entry.Event, "rejected", duration)
		d.metrics.ObserveWebhookDLQ(entry.Event)
		d.logger.Warn().
			Str("webhook_id", entry.ID).
			Str("event", entry.Event).
			Str("url", entry.Config.URL).
			Int("status", status).
			Msg("webhook.rejected_permanently")

	case outcomeRetry:
		errMsg := deliveryError(status, err)
		if entry.Attempts+1 >= entry.Config.Retry.Normalize().MaxAttempts {
			if removeErr := d.queue.Remove(ctx, entry.ID); removeErr != nil {
				d.logger.Error().Err(removeErr).Str("webhook_id", entry.ID).Msg("webhook.remove_failed")
			}
			d.metrics.ObserveWebhook(entry.Event, "exhausted", duration)
			d.metrics.ObserveWebhookDLQ(entry.Event)
			d.logger.Warn().
				Str("webhook_id", entry.ID).
				Str("event", entry.Event).
				Str("url", entry.Config.URL).
				Int("attempts", entry.Attempts+1).
				Str("last_error", errMsg).
				Msg("webhook.retries_exhausted")
			return
		}
		if retryErr := d.queue.Retry(ctx, entry, errMsg); retryErr != nil {
			d.logger.Error().Err(retryErr).Str("webhook_id", entry.ID).Msg("webhook.retry_failed")
			return
		}
		d.metrics.ObserveWebhook(entry.Event, "retry", duration)
		d.metrics.ObserveWebhookRetry(entry.Event)
		d.logger.Warn().
			Str("webhook_id", entry.ID).
			Str("event", entry.Event).
			Int("attempts", entry.Attempts+1).
			Str("error", errMsg).
			Msg("webhook.delivery_retry_scheduled")
	}
}

// post signs and sends one webhook. Returns the HTTP status (0 on transport
// failure) and the transport error, if any.
func (d *Dispatcher) post(ctx context.Context, entry storage.QueuedWebhook) (int, error) {
	body := []byte(entry.Payload)

	execute := func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, entry.Config.URL, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, Sign(entry.Config.Secret, body))
		req.Header.Set(TimestampHeader, strconv.FormatInt(time.Now().UnixMilli(), 10))

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		return resp.StatusCode, nil
	}

	var raw any
	var err error
	if d.breaker != nil {
		raw, err = d.breaker.Execute(circuitbreaker.ServiceWebhook, execute)
	} else {
		raw, err = execute()
	}
	if err != nil {
		return 0, err
	}
	status, _ := raw.(int)
	return status, nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomePermanent
	outcomeRetry
)

// classify maps a delivery result to its fate: 2xx succeeds, 4xx (except
// 408 and 429) is permanent, everything else retries.
func classify(status int, err error) outcome {
	if err != nil {
		return outcomeRetry
	}
	switch {
	case status >= 200 && status < 300:
		return outcomeSuccess
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return outcomeRetry
	case status >= 400 && status < 500:
		return outcomePermanent
	default:
		return outcomeRetry
	}
}

func deliveryError(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("received status %d", status)
}
