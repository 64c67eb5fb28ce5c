// Package ratelimit throttles credential submissions to the local API per
// client address.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter decides whether a request keyed by key may proceed.
type Limiter interface {
	Allow(key string) bool
}

// Unlimited lets everything through.
type Unlimited struct{}

// Allow always returns true.
func (Unlimited) Allow(string) bool { return true }

// Bucket is a per-key token bucket refilled at attempts per window.
type Bucket struct {
	rate     float64 // tokens per second
	capacity float64
	idle     time.Duration
	now      func() time.Time

	mu      sync.Mutex
	keys    map[string]*tokens
	swept time.Time
}

type tokens struct {
	left float64
	at   time.Time
}

// NewBucket allows a burst of attempts per key that refills over window.
// Keys untouched for two windows are dropped.
func NewBucket(attempts int, window time.Duration) *Bucket {
	if attempts < 1 {
		attempts = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Bucket{
		rate:     float64(attempts) / window.Seconds(),
		capacity: float64(attempts),
		idle:     2 * window,
		now:      time.Now,
		keys:     make(map[string]*tokens),
	}
}

// Allow takes one token from key's bucket.
func (b *Bucket) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.sweepLocked(now)

	t, ok := b.keys[key]
	if !ok {
		t = &tokens{left: b.capacity, at: now}
		b.keys[key] = t
	}
	if dt := now.Sub(t.at); dt > 0 {
		t.left = min(b.capacity, t.left+dt.Seconds()*b.rate)
		t.at = now
	}
	if t.left < 1 {
		return false
	}
	t.left--
	return true
}

// Len returns the number of tracked keys.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keys)
}

func (b *Bucket) sweepLocked(now time.Time) {
	if now.Sub(b.swept) < b.idle {
		return
	}
	b.swept = now
	for k, t := range b.keys {
		if now.Sub(t.at) > b.idle {
			delete(b.keys, k)
		}
	}
}
