package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	evictEvery  = 1 * time.Minute
	bucketIdle  = 10 * time.Minute
	minimumCost = 1.0
)

// tokenBucket tracks the remaining allowance for one key.
type tokenBucket struct {
	remaining float64
	touched   time.Time
}

// take refills the bucket for the elapsed time, then tries to spend one token.
func (b *tokenBucket) take(now time.Time, rate, burst float64) bool {
	b.remaining += now.Sub(b.touched).Seconds() * rate
	if b.remaining > burst {
		b.remaining = burst
	}
	b.touched = now
	if b.remaining < minimumCost {
		return false
	}
	b.remaining -= minimumCost
	return true
}

// MemoryLimiter implements Limiter with an in-memory token bucket per key.
// Buckets refill continuously at rate tokens per second up to burst capacity.
// A background goroutine drops buckets idle longer than ten minutes.
type MemoryLimiter struct {
	rate  float64
	burst float64

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a token bucket limiter with the given sustained
// rate (requests per second per key) and burst capacity. Call Close to stop
// the eviction goroutine.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*tokenBucket),
		done:    make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Allow spends one token from the bucket for key. It never returns an error;
// the signature satisfies Limiter.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		// New key starts with a full bucket.
		b = &tokenBucket{remaining: m.burst, touched: now}
		m.buckets[key] = b
	}
	return b.take(now, m.rate, m.burst), nil
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) evictLoop() {
	ticker := time.NewTicker(evictEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	cutoff := time.Now().Add(-bucketIdle)

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		if b.touched.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
