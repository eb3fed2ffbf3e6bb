package mirror

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestUpgradeLimiter(t *testing.T) {
	disabled := newUpgradeLimiter(0, 0, 0)
	assert.Equal(t, disabled == nil, true)
	assert.Equal(t, disabled.Allow("10.0.0.1", time.Now()), true)

	limiter := newUpgradeLimiter(1, 2, time.Minute)
	now := time.Now()

	assert.Equal(t, limiter.Allow("10.0.0.1", now), true)
	assert.Equal(t, limiter.Allow("10.0.0.1", now), true)
	assert.Equal(t, limiter.Allow("10.0.0.1", now), false)
	// hosts have independent buckets
	assert.Equal(t, limiter.Allow("10.0.0.2", now), true)

	// refills at the rate
	assert.Equal(t, limiter.Allow("10.0.0.1", now.Add(time.Second)), true)
}

func TestUpgradeLimiterEvict(t *testing.T) {
	limiter := newUpgradeLimiter(1, 1, time.Minute)
	now := time.Now()

	for i := 0; i < 256; i += 1 {
		limiter.Allow(fmt.Sprintf("10.0.0.%d", i), now)
	}
	assert.Equal(t, len(limiter.hosts), 256)

	later := now.Add(time.Hour)
	for i := 0; i < 256; i += 1 {
		limiter.Allow("10.0.1.1", later)
	}
	assert.Equal(t, len(limiter.hosts), 1)
}
