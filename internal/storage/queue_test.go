package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func testWebhook(url string) QueuedWebhook {
	return QueuedWebhook{
		Config: WebhookConfig{
			URL:    url,
			Secret: "shh",
			Retry: RetryPolicy{
				MaxAttempts:  3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     time.Second,
				Backoff:      BackoffExponential,
			},
		},
		Payload: json.RawMessage(`{"event":"payment.verified"}`),
		Event:   "payment.verified",
	}
}

func newTestQueue(now time.Time) (*MemoryQueue, *time.Time) {
	current := now
	q := NewMemoryQueue()
	q.clock = func() time.Time { return current }
	return q, &current
}

func TestMemoryQueueEnqueueDequeue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q, _ := newTestQueue(now)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testWebhook("https://example.com/hook"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("Enqueue returned empty id")
	}

	entry, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if entry == nil {
		t.Fatal("Dequeue returned nil for ready entry")
	}
	if entry.ID != id {
		t.Errorf("entry.ID = %s, want %s", entry.ID, id)
	}

	// The entry is leased until finished; a second dequeue sees nothing.
	if second, _ := q.Dequeue(ctx); second != nil {
		t.Errorf("Dequeue returned leased entry %s", second.ID)
	}

	if err := q.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n, _ := q.Size(ctx); n != 0 {
		t.Errorf("Size = %d after Remove, want 0", n)
	}
}

func TestMemoryQueueDequeueRespectsNextAttempt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q, current := newTestQueue(now)
	ctx := context.Background()

	webhook := testWebhook("https://example.com/hook")
	webhook.NextAttempt = now.Add(time.Minute)
	if _, err := q.Enqueue(ctx, webhook); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if entry, _ := q.Dequeue(ctx); entry != nil {
		t.Fatal("Dequeue returned entry before NextAttempt")
	}

	*current = current.Add(2 * time.Minute)
	if entry, _ := q.Dequeue(ctx); entry == nil {
		t.Fatal("Dequeue returned nil after NextAttempt passed")
	}
}

func TestMemoryQueueRetrySchedulesBackoff(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q, current := newTestQueue(now)
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, testWebhook("https://example.com/hook"))

	entry, _ := q.Dequeue(ctx)
	if err := q.Retry(ctx, *entry, "503 from subscriber"); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	// First retry waits the initial delay.
	if got, _ := q.Dequeue(ctx); got != nil {
		t.Fatal("entry ready before backoff elapsed")
	}
	*current = current.Add(150 * time.Millisecond)
	entry, _ = q.Dequeue(ctx)
	if entry == nil {
		t.Fatal("entry not ready after backoff elapsed")
	}
	if entry.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", entry.Attempts)
	}
	if entry.LastError != "503 from subscriber" {
		t.Errorf("LastError = %q", entry.LastError)
	}
	_ = q.Remove(ctx, id)
}

func TestMemoryQueueOrdersByNextAttempt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q, current := newTestQueue(now)
	ctx := context.Background()

	later := testWebhook("https://example.com/later")
	later.NextAttempt = now.Add(2 * time.Second)
	earlier := testWebhook("https://example.com/earlier")
	earlier.NextAttempt = now.Add(time.Second)

	laterID, _ := q.Enqueue(ctx, later)
	earlierID, _ := q.Enqueue(ctx, earlier)

	*current = current.Add(3 * time.Second)
	first, _ := q.Dequeue(ctx)
	if first == nil || first.ID != earlierID {
		t.Fatalf("first dequeue = %+v, want earlier entry %s", first, earlierID)
	}
	_ = q.Remove(ctx, first.ID)

	second, _ := q.Dequeue(ctx)
	if second == nil || second.ID != laterID {
		t.Fatalf("second dequeue = %+v, want later entry %s", second, laterID)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	exp := RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Backoff:      BackoffExponential,
	}
	wantExp := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second, // capped
		time.Second,
	}
	for attempts, want := range wantExp {
		if got := exp.Delay(attempts); got != want {
			t.Errorf("exponential Delay(%d) = %v, want %v", attempts, got, want)
		}
	}

	// Monotonically non-decreasing up to the cap.
	prev := time.Duration(0)
	for attempts := 0; attempts < 100; attempts++ {
		got := exp.Delay(attempts)
		if got < prev {
			t.Fatalf("exponential Delay(%d) = %v decreased from %v", attempts, got, prev)
		}
		if got > exp.MaxDelay {
			t.Fatalf("exponential Delay(%d) = %v exceeds cap", attempts, got)
		}
		prev = got
	}

	lin := RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     350 * time.Millisecond,
		Backoff:      BackoffLinear,
	}
	wantLin := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		350 * time.Millisecond, // capped
	}
	for attempts, want := range wantLin {
		if got := lin.Delay(attempts); got != want {
			t.Errorf("linear Delay(%d) = %v, want %v", attempts, got, want)
		}
	}
}

func TestRetryPolicyNormalize(t *testing.T) {
	p := RetryPolicy{}.Normalize()
	if p.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", p.MaxAttempts, DefaultMaxAttempts)
	}
	if p.InitialDelay != DefaultInitialDelay {
		t.Errorf("InitialDelay = %v, want %v", p.InitialDelay, DefaultInitialDelay)
	}
	if p.Backoff != BackoffExponential {
		t.Errorf("Backoff = %q, want exponential default", p.Backoff)
	}
}
