package ocrsched

import (
	"math"
	"sync"
	"time"
)

// TokenBucketLimiter enforces a per-provider requests-per-minute ceiling with
// burst capacity. Refill is lazy: tokens are credited from elapsed wall time
// on each check, so there is no background ticker and no drift while idle.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[ProviderID]*tokenBucket
	now     func() time.Time
}

type tokenBucket struct {
	capacity   float64
	tokens     float64
	ratePerSec float64
	lastRefill time.Time
}

// NewTokenBucketLimiter creates an empty limiter. Providers are registered
// via Configure before first use; TryConsume on an unconfigured provider
// always allows.
func NewTokenBucketLimiter() *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets: make(map[ProviderID]*tokenBucket),
		now:     time.Now,
	}
}

// Configure sets or replaces the bucket for a provider. The bucket starts
// full. Burst values below 1 are clamped so a healthy bucket can always
// admit at least one request.
func (l *TokenBucketLimiter) Configure(provider ProviderID, requestsPerMinute, burst int) {
	if burst < 1 {
		burst = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buckets[provider] = &tokenBucket{
		capacity:   float64(burst),
		tokens:     float64(burst),
		ratePerSec: float64(requestsPerMinute) / 60.0,
		lastRefill: l.now(),
	}
}

// TryConsume attempts to take one token. When denied, retryAfter is the time
// until one full token has accrued.
func (l *TokenBucketLimiter) TryConsume(provider ProviderID) (allowed bool, remaining float64, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[provider]
	if !ok {
		return true, 0, 0
	}

	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.ratePerSec)
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, b.tokens, 0
	}

	deficit := 1 - b.tokens
	if b.ratePerSec <= 0 {
		// No refill configured; the caller can only wait for a reset.
		return false, b.tokens, time.Minute
	}
	wait := time.Duration(math.Ceil(deficit/b.ratePerSec*1000)) * time.Millisecond
	return false, b.tokens, wait
}

// Tokens reports the current token count without consuming, applying the
// lazy refill first.
func (l *TokenBucketLimiter) Tokens(provider ProviderID) float64 {
	_, tokens := l.Peek(provider)
	return tokens
}

// Peek reports whether a consume would currently succeed, without consuming.
// Unconfigured providers are unlimited and always succeed.
func (l *TokenBucketLimiter) Peek(provider ProviderID) (allowed bool, tokens float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[provider]
	if !ok {
		return true, 0
	}
	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.ratePerSec)
		b.lastRefill = now
	}
	return b.tokens >= 1, b.tokens
}
