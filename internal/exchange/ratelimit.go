package exchange

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// EndpointCategory buckets exchange calls for rate limiting: public
// market-data calls, private account calls, and order submission calls
// each have their own exchange-published limit.
type EndpointCategory string

const (
	EndpointPublic  EndpointCategory = "public"
	EndpointPrivate EndpointCategory = "private"
	EndpointOrder   EndpointCategory = "order"
)

// RateLimiterConfig sizes one token bucket per endpoint category.
type RateLimiterConfig struct {
	PublicRPS  float64
	PrivateRPS float64
	OrderRPS   float64
	Burst      int
}

// DefaultRateLimiterConfig mirrors Binance's published futures limits
// closely enough for a sane default: generous public reads, tighter order
// submission.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		PublicRPS:  20,
		PrivateRPS: 10,
		OrderRPS:   5,
		Burst:      5,
	}
}

// RateLimiter holds one token bucket per endpoint category. Exceeding a
// bucket must yield OrderError::RateLimited without contacting the
// exchange — callers check Allow before dialing out.
type RateLimiter struct {
	buckets map[EndpointCategory]*rate.Limiter
}

// NewRateLimiter builds the three per-category buckets from cfg.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		buckets: map[EndpointCategory]*rate.Limiter{
			EndpointPublic:  rate.NewLimiter(rate.Limit(cfg.PublicRPS), cfg.Burst),
			EndpointPrivate: rate.NewLimiter(rate.Limit(cfg.PrivateRPS), cfg.Burst),
			EndpointOrder:   rate.NewLimiter(rate.Limit(cfg.OrderRPS), cfg.Burst),
		},
	}
}

// ErrRateLimited is returned by Allow when a bucket has no tokens left.
var ErrRateLimited = fmt.Errorf("exchange: rate limit exceeded")

// Allow consumes one token from the bucket for category, returning
// ErrRateLimited immediately (never blocking) if none is available.
func (r *RateLimiter) Allow(category EndpointCategory) error {
	b, ok := r.buckets[category]
	if !ok {
		return fmt.Errorf("exchange: unknown rate limit category %q", category)
	}
	if !b.Allow() {
		return ErrRateLimited
	}
	return nil
}

// Wait blocks until a token for category is available or ctx is done.
// Used on paths willing to pace themselves instead of failing fast.
func (r *RateLimiter) Wait(ctx context.Context, category EndpointCategory) error {
	b, ok := r.buckets[category]
	if !ok {
		return fmt.Errorf("exchange: unknown rate limit category %q", category)
	}
	return b.Wait(ctx)
}
