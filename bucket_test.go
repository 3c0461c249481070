package ocrsched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_BurstThenDeny(t *testing.T) {
	l := NewTokenBucketLimiter()
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Configure("p1", 10, 10)

	for i := 0; i < 10; i++ {
		allowed, _, _ := l.TryConsume("p1")
		require.True(t, allowed, "call %d should be allowed", i+1)
	}

	allowed, remaining, retryAfter := l.TryConsume("p1")
	assert.False(t, allowed)
	assert.Less(t, remaining, 1.0)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestTokenBucket_TokensNeverNegativeOrOverCapacity(t *testing.T) {
	l := NewTokenBucketLimiter()
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Configure("p1", 60, 5)

	// Drain past empty.
	for i := 0; i < 20; i++ {
		_, remaining, _ := l.TryConsume("p1")
		assert.GreaterOrEqual(t, remaining, 0.0)
		assert.LessOrEqual(t, remaining, 5.0)
	}

	// A long idle period must not overfill the bucket.
	now = now.Add(time.Hour)
	assert.LessOrEqual(t, l.Tokens("p1"), 5.0)
}

func TestTokenBucket_LazyRefill(t *testing.T) {
	l := NewTokenBucketLimiter()
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Configure("p1", 60, 1) // one token per second

	allowed, _, _ := l.TryConsume("p1")
	require.True(t, allowed)

	allowed, _, retryAfter := l.TryConsume("p1")
	require.False(t, allowed)
	assert.InDelta(t, time.Second, retryAfter, float64(50*time.Millisecond))

	// After the advertised wait, the next consume succeeds.
	now = now.Add(retryAfter)
	allowed, _, _ = l.TryConsume("p1")
	assert.True(t, allowed)
}

func TestTokenBucket_UnconfiguredProviderAllows(t *testing.T) {
	l := NewTokenBucketLimiter()
	allowed, _, _ := l.TryConsume("unknown")
	assert.True(t, allowed)
}
