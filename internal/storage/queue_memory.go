package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue keeps pending webhooks in a map and scans lazily on Dequeue.
// Entries handed out by Dequeue are leased until Retry or Remove finishes
// them, so overlapping dispatch loops never double-deliver.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]QueuedWebhook
	leased  map[string]bool
	clock   func() time.Time
}

// NewMemoryQueue creates an in-memory webhook queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		entries: make(map[string]QueuedWebhook),
		leased:  make(map[string]bool),
		clock:   time.Now,
	}
}

// Enqueue stores a new entry.
func (q *MemoryQueue) Enqueue(ctx context.Context, webhook QueuedWebhook) (string, error) {
	if err := normalizeEnqueue(&webhook, q.clock().UTC()); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[webhook.ID] = webhook
	return webhook.ID, nil
}

// Dequeue returns the ready entry with the earliest NextAttempt, or nil.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*QueuedWebhook, error) {
	now := q.clock()

	q.mu.Lock()
	defer q.mu.Unlock()

	var next *QueuedWebhook
	for id, entry := range q.entries {
		if q.leased[id] {
			continue
		}
		if entry.NextAttempt.After(now) {
			continue
		}
		if next == nil || entry.NextAttempt.Before(next.NextAttempt) {
			candidate := entry
			next = &candidate
		}
	}
	if next == nil {
		return nil, nil
	}
	q.leased[next.ID] = true
	return next, nil
}

// Retry reschedules a failed entry per its policy and releases the lease.
func (q *MemoryQueue) Retry(ctx context.Context, webhook QueuedWebhook, errorMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[webhook.ID]
	if !ok {
		return ErrNotFound
	}
	delay := entry.Config.Retry.Delay(entry.Attempts)
	entry.Attempts++
	entry.LastError = errorMsg
	entry.NextAttempt = q.clock().UTC().Add(delay)
	q.entries[webhook.ID] = entry
	delete(q.leased, webhook.ID)
	return nil
}

// Remove deletes an entry.
func (q *MemoryQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[id]; !ok {
		return ErrNotFound
	}
	delete(q.entries, id)
	delete(q.leased, id)
	return nil
}

// Size returns the number of queued entries.
func (q *MemoryQueue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

// Close is a no-op for the in-memory backend.
func (q *MemoryQueue) Close() error {
	return nil
}
