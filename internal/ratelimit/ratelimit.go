// Package ratelimit implements a lazily refilled token bucket used to bound
// the throughput of rate-sensitive outbound actions.
package ratelimit

import (
	"sync"
	"time"
)

// Status reports the observable state of a bucket
type Status struct {
	TokensAvailable int       `json:"tokens_available"`
	NextRefillTime  time.Time `json:"next_refill_time"`
	IsLimited       bool      `json:"is_limited"`
}

// TokenBucket grants a bounded number of permits, replenished continuously
// over time. Refill is computed from elapsed time on every call; there is no
// background timer.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket with the given capacity and refill
// rate in tokens per second.
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		refillRate: refillRate,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// TryConsume takes one token if available. It returns false when the bucket
// is empty; the caller must back off.
func (tb *TokenBucket) TryConsume() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// Status returns the current bucket state without consuming a token.
func (tb *TokenBucket) Status() Status {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	s := Status{
		TokensAvailable: int(tb.tokens),
		IsLimited:       tb.tokens < 1,
	}
	if tb.tokens < tb.capacity {
		// Time until one whole token is restored.
		deficit := 1.0
		if tb.tokens > 0 {
			deficit = 1 - (tb.tokens - float64(int(tb.tokens)))
		}
		s.NextRefillTime = tb.lastRefill.Add(time.Duration(deficit / tb.refillRate * float64(time.Second)))
	} else {
		s.NextRefillTime = tb.lastRefill
	}
	return s
}

// refill credits tokens for the time elapsed since the last refill, capped at
// capacity. Callers must hold the mutex.
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}
