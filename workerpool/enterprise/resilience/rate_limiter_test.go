package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketLimiterAllowsUpToBurst(t *testing.T) {
	rl := NewTokenBucketLimiter(1, 3)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "fourth call should exhaust the burst of 3")
}

func TestTokenBucketLimiterRefillsOverTime(t *testing.T) {
	rl := NewTokenBucketLimiter(1000, 1)

	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, rl.Allow(), "tokens should have refilled at 1000/sec after 5ms")
}

func TestTokenBucketLimiterWaitReportsZeroWhenTokensAvailable(t *testing.T) {
	rl := NewTokenBucketLimiter(1, 5)
	assert.Equal(t, time.Duration(0), rl.Wait())
}

func TestTokenBucketLimiterWaitReportsPositiveWhenExhausted(t *testing.T) {
	rl := NewTokenBucketLimiter(1, 1)
	rl.Allow()
	assert.Greater(t, rl.Wait(), time.Duration(0))
}

func TestTokenBucketLimiterSetRateGetRate(t *testing.T) {
	rl := NewTokenBucketLimiter(1, 1)
	rl.SetRate(5)
	assert.Equal(t, 5.0, rl.GetRate())
}

func TestSlidingWindowLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewSlidingWindowLimiter(2, time.Hour)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestSlidingWindowLimiterExpiresOldRequests(t *testing.T) {
	rl := NewSlidingWindowLimiter(1, 20*time.Millisecond)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow(), "request outside the window should no longer count against the limit")
}

func TestSlidingWindowLimiterWaitReflectsOldestRequest(t *testing.T) {
	rl := NewSlidingWindowLimiter(1, 50*time.Millisecond)
	rl.Allow()

	wait := rl.Wait()
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, 50*time.Millisecond)
}

func TestPerClientRateLimiterIsolatesClients(t *testing.T) {
	rl := NewPerClientRateLimiter(func() RateLimiter { return NewTokenBucketLimiter(1, 1) })

	assert.True(t, rl.Allow("client-a"))
	assert.False(t, rl.Allow("client-a"))
	assert.True(t, rl.Allow("client-b"), "a fresh client should get its own limiter")
}

func TestPerClientRateLimiterWaitBeforeFirstAllowIsZero(t *testing.T) {
	rl := NewPerClientRateLimiter(func() RateLimiter { return NewTokenBucketLimiter(1, 1) })
	assert.Equal(t, time.Duration(0), rl.Wait("never-seen"))
}

func TestNoOpRateLimiterAlwaysAdmits(t *testing.T) {
	rl := &NoOpRateLimiter{}
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow())
	}
	assert.Equal(t, time.Duration(0), rl.Wait())
}
