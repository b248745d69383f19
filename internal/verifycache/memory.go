package verifycache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	verdict   Verdict
	expiresAt time.Time
}

// Memory is an in-process cache with lazy expiration on access plus a
// periodic sweep so abandoned signatures do not accumulate.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	clock       func() time.Time
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewMemory creates an in-memory verdict cache and starts its sweeper.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates an in-memory cache with an injected clock.
func NewMemoryWithClock(clock func() time.Time) *Memory {
	m := &Memory{
		entries:     make(map[string]memoryEntry),
		clock:       clock,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Get returns the verdict for signature, or nil when absent or expired.
func (m *Memory) Get(ctx context.Context, signature string) (*Verdict, error) {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[signature]
	if !ok {
		return nil, nil
	}
	if now.After(entry.expiresAt) {
		delete(m.entries, signature)
		return nil, nil
	}
	verdict := entry.verdict
	return &verdict, nil
}

// Put stores a verdict with the given TTL. Non-positive TTLs use DefaultTTL.
func (m *Memory) Put(ctx context.Context, signature string, verdict Verdict, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[signature] = memoryEntry{
		verdict:   verdict,
		expiresAt: m.clock().Add(ttl),
	}
	return nil
}

// Has reports whether a non-expired verdict exists for signature.
func (m *Memory) Has(ctx context.Context, signature string) (bool, error) {
	verdict, err := m.Get(ctx, signature)
	return verdict != nil, err
}

// Delete removes the verdict for signature.
func (m *Memory) Delete(ctx context.Context, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, signature)
	return nil
}

// Close stops the sweeper goroutine.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCleanup)
		<-m.cleanupDone
	})
	return nil
}

func (m *Memory) cleanup() {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			now := m.clock()
			m.mu.Lock()
			for signature, entry := range m.entries {
				if now.After(entry.expiresAt) {
					delete(m.entries, signature)
				}
			}
			m.mu.Unlock()
		}
	}
}
