package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisQueueKey  = "webhook:queue"  // sorted set: member = id, score = NextAttempt unix ms
	redisEntryKey  = "webhook:entry:" // JSON-encoded QueuedWebhook per id
	redisLeaseSlip = 60 * time.Second // score bump while an entry is being delivered
)

// RedisQueue is a durable webhook queue. Entries live in a sorted set keyed
// by their next-attempt time, so Dequeue is a single range read. Dequeued
// entries have their score pushed into the future as a delivery lease;
// Retry and Remove settle the final state.
type RedisQueue struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisQueue creates a Redis-backed queue from a connection URL.
func NewRedisQueue(ctx context.Context, url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("storage: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage: ping redis: %w", err)
	}
	return NewRedisQueueWithClient(client), nil
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, clock: time.Now}
}

// Enqueue stores a new entry.
func (q *RedisQueue) Enqueue(ctx context.Context, webhook QueuedWebhook) (string, error) {
	if err := normalizeEnqueue(&webhook, q.clock().UTC()); err != nil {
		return "", err
	}
	if err := q.write(ctx, webhook); err != nil {
		return "", err
	}
	return webhook.ID, nil
}

// Dequeue pops the earliest ready entry, or nil when none is due.
func (q *RedisQueue) Dequeue(ctx context.Context) (*QueuedWebhook, error) {
	now := q.clock()
	ids, err := q.client.ZRangeByScore(ctx, redisQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: range queue: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	id := ids[0]

	data, err := q.client.Get(ctx, redisEntryKey+id).Bytes()
	if errors.Is(err, redis.Nil) {
		// Orphaned index member; drop it and report empty.
		q.client.ZRem(ctx, redisQueueKey, id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get entry %s: %w", id, err)
	}
	var webhook QueuedWebhook
	if err := json.Unmarshal(data, &webhook); err != nil {
		return nil, fmt.Errorf("storage: decode entry %s: %w", id, err)
	}

	// Lease: push the score forward so a concurrent dispatcher cannot pick
	// the same entry while this delivery is in flight.
	lease := now.Add(redisLeaseSlip)
	if err := q.client.ZAdd(ctx, redisQueueKey, redis.Z{Score: float64(lease.UnixMilli()), Member: id}).Err(); err != nil {
		return nil, fmt.Errorf("storage: lease entry %s: %w", id, err)
	}
	return &webhook, nil
}

// Retry records a failed attempt and reschedules the entry.
func (q *RedisQueue) Retry(ctx context.Context, webhook QueuedWebhook, errorMsg string) error {
	delay := webhook.Config.Retry.Delay(webhook.Attempts)
	webhook.Attempts++
	webhook.LastError = errorMsg
	webhook.NextAttempt = q.clock().UTC().Add(delay)
	return q.write(ctx, webhook)
}

// Remove deletes an entry and its index member.
func (q *RedisQueue) Remove(ctx context.Context, id string) error {
	removed, err := q.client.ZRem(ctx, redisQueueKey, id).Result()
	if err != nil {
		return fmt.Errorf("storage: zrem %s: %w", id, err)
	}
	if err := q.client.Del(ctx, redisEntryKey+id).Err(); err != nil {
		return fmt.Errorf("storage: del %s: %w", id, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// Size returns the number of queued entries.
func (q *RedisQueue) Size(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, redisQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("storage: zcard: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) write(ctx context.Context, webhook QueuedWebhook) error {
	data, err := json.Marshal(webhook)
	if err != nil {
		return fmt.Errorf("storage: encode entry: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, redisEntryKey+webhook.ID, data, 0)
	pipe.ZAdd(ctx, redisQueueKey, redis.Z{
		Score:  float64(webhook.NextAttempt.UnixMilli()),
		Member: webhook.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storage: write entry %s: %w", webhook.ID, err)
	}
	return nil
}
