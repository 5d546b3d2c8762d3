package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a deterministic token bucket refilling at an integer rate
// (tokens/sec) from a provided Clock. It guards the per-session inbound
// signaling message rate.
//
// Refill accrues whole tokens only; the sub-token remainder of elapsed time
// is carried forward so no refill credit is lost to rounding.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	tokens int64
	carry  time.Duration // elapsed time not yet converted to tokens
	last   time.Time
}

func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     rate,
		tokens:   capacity,
		last:     clock.Now(),
	}
}

// Allow consumes n tokens if available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Clock went backwards; re-anchor without crediting tokens.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last) + b.carry
	b.last = now

	if b.rate <= 0 || b.capacity <= 0 {
		b.carry = 0
		return
	}

	perToken := time.Second / time.Duration(b.rate)
	if perToken <= 0 {
		// Degenerate rate (>1e9 tokens/sec): always full.
		b.tokens = b.capacity
		b.carry = 0
		return
	}

	earned := int64(elapsed / perToken)
	b.carry = elapsed % perToken

	b.tokens += earned
	if b.tokens > b.capacity {
		b.tokens = b.capacity
		b.carry = 0
	}
}
