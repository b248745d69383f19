package verifycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces verdict keys so the cache can share a Redis instance
// with the webhook queue.
const keyPrefix = "verif:sig:"

// Redis is a durable verdict cache backed by Redis with native TTLs, so
// replay protection survives process restarts.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed cache from a connection URL and verifies
// connectivity before returning.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("verifycache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("verifycache: ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client (shared with the queue).
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the verdict for signature, or nil when absent. Expiration is
// handled natively by Redis.
func (r *Redis) Get(ctx context.Context, signature string) (*Verdict, error) {
	data, err := r.client.Get(ctx, keyPrefix+signature).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verifycache: get %s: %w", signature, err)
	}
	var verdict Verdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		return nil, fmt.Errorf("verifycache: decode verdict for %s: %w", signature, err)
	}
	return &verdict, nil
}

// Put stores a verdict with the given TTL.
func (r *Redis) Put(ctx context.Context, signature string, verdict Verdict, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("verifycache: encode verdict: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+signature, data, ttl).Err(); err != nil {
		return fmt.Errorf("verifycache: set %s: %w", signature, err)
	}
	return nil
}

// Has reports whether a verdict exists for signature.
func (r *Redis) Has(ctx context.Context, signature string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+signature).Result()
	if err != nil {
		return false, fmt.Errorf("verifycache: exists %s: %w", signature, err)
	}
	return n > 0, nil
}

// Delete removes the verdict for signature.
func (r *Redis) Delete(ctx context.Context, signature string) error {
	if err := r.client.Del(ctx, keyPrefix+signature).Err(); err != nil {
		return fmt.Errorf("verifycache: del %s: %w", signature, err)
	}
	return nil
}

// Close releases the underlying connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
