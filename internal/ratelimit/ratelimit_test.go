package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBurstThenDeny(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("device-1"), "request %d should fit the burst", i)
	}
	assert.False(t, limiter.Allow("device-1"), "burst exhausted")

	// 60/min replenishes one token per second.
	time.Sleep(1100 * time.Millisecond)
	assert.True(t, limiter.Allow("device-1"))
}

func TestDevicesLimitedIndependently(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("device-a")
	}
	assert.False(t, limiter.Allow("device-a"))
	assert.True(t, limiter.Allow("device-b"), "other devices keep their own budget")
}

func TestReplenishmentRate(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 600,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	assert.True(t, limiter.Allow("device-1"))
	assert.False(t, limiter.Allow("device-1"))

	// 600/min is 10/sec, so ~100ms buys one token back.
	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow("device-1"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 10, cfg.BurstSize)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
}
