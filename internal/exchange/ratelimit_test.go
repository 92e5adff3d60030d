package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{PublicRPS: 1, PrivateRPS: 1, OrderRPS: 1, Burst: 2})

	assert.NoError(t, rl.Allow(EndpointOrder))
	assert.NoError(t, rl.Allow(EndpointOrder))
}

func TestRateLimiter_RejectsBeyondBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{PublicRPS: 0.001, PrivateRPS: 0.001, OrderRPS: 0.001, Burst: 1})

	require := rl.Allow(EndpointOrder)
	assert.NoError(t, require)
	assert.ErrorIs(t, rl.Allow(EndpointOrder), ErrRateLimited)
}

func TestRateLimiter_UnknownCategory(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	err := rl.Allow("bogus")
	assert.Error(t, err)
}
