// Package ratelimit provides a token bucket limiter used to cap transfer bandwidth.
//
// One token is one byte. A limiter can be shared by every transfer of a coordinator so
// the cap applies to the aggregate rate.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
type RateLimiter struct {
	tokens     float64   // Current number of tokens available
	maxTokens  float64   // Maximum bucket capacity
	refillRate float64   // Tokens added per second
	lastRefill time.Time // Last time tokens were refilled
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - tokensPerSecond: Rate at which tokens are added (e.g., 1048576 for 1 MiB/s)
//   - burstSize: Maximum tokens that can accumulate (allows brief bursts)
func NewRateLimiter(tokensPerSecond float64, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize, // Start with full bucket
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
	}
}

// NewBandwidthLimiter returns a limiter for bytesPerSecond with one second of burst,
// or nil when bytesPerSecond is zero (unlimited). A nil *RateLimiter never blocks.
func NewBandwidthLimiter(bytesPerSecond int64) *RateLimiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return NewRateLimiter(float64(bytesPerSecond), float64(bytesPerSecond))
}

// Wait blocks until a token is available or context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.WaitN(ctx, 1)
}

// WaitN blocks until n tokens have been taken or ctx is done. Requests larger than the
// bucket are served in bucket-sized installments.
func (rl *RateLimiter) WaitN(ctx context.Context, n int) error {
	if rl == nil || n <= 0 {
		return nil
	}

	remaining := float64(n)
	for remaining > 0 {
		want := remaining
		if want > rl.maxTokens {
			want = rl.maxTokens
		}

		// Check if context is already cancelled
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if rl.tryAcquire(want) {
			remaining -= want
			continue
		}

		// Wait for either enough tokens or context cancellation
		timer := time.NewTimer(rl.timeUntil(want))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// tryAcquire attempts to take n tokens without blocking.
func (rl *RateLimiter) tryAcquire(n float64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()

	if rl.tokens >= n {
		rl.tokens -= n
		return true
	}

	return false
}

func (rl *RateLimiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate

	// Cap at max tokens (don't accumulate infinitely)
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// timeUntil calculates how long to wait until at least n tokens are available.
func (rl *RateLimiter) timeUntil(n float64) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tokensNeeded := n - rl.tokens
	if tokensNeeded <= 0 {
		return 0
	}

	secondsNeeded := tokensNeeded / rl.refillRate
	return time.Duration(secondsNeeded * float64(time.Second))
}

// Drain empties the bucket so the next caller has to wait for a refill.
func (rl *RateLimiter) Drain() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = 0
	rl.lastRefill = time.Now()
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Refill based on elapsed time before returning
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	tokens := rl.tokens + (elapsed * rl.refillRate)

	if tokens > rl.maxTokens {
		tokens = rl.maxTokens
	}

	return tokens
}
