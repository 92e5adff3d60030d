package latency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// History persists BenchmarkResult snapshots in Redis so an operator can
// inspect latency trends across restarts. It is optional: a nil client
// turns every method into a no-op, the same optional-Redis posture
// internal/market's cache client takes.
type History struct {
	client *redis.Client
	ttl    time.Duration
}

// NewHistory constructs a History. If client is nil, NewHistory returns
// nil and every method call on it is a safe no-op.
func NewHistory(client *redis.Client, ttl time.Duration) *History {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &History{client: client, ttl: ttl}
}

func (h *History) key(exchangeID string) string {
	return "fluxengine:latency:benchmark:" + exchangeID
}

// Record stores the most recent benchmark result for exchangeID.
func (h *History) Record(ctx context.Context, exchangeID string, result BenchmarkResult) {
	if h == nil || h.client == nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	data, err := json.Marshal(result)
	if err != nil {
		log.Warn().Err(err).Str("exchange", exchangeID).Msg("failed to marshal benchmark result")
		return
	}

	if err := h.client.Set(cacheCtx, h.key(exchangeID), data, h.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("exchange", exchangeID).Msg("failed to persist benchmark history")
	}
}

// Last retrieves the most recently recorded benchmark result, if any.
func (h *History) Last(ctx context.Context, exchangeID string) (BenchmarkResult, bool) {
	if h == nil || h.client == nil {
		return BenchmarkResult{}, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	raw, err := h.client.Get(cacheCtx, h.key(exchangeID)).Result()
	if err != nil {
		return BenchmarkResult{}, false
	}

	var result BenchmarkResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		log.Warn().Err(err).Str("exchange", exchangeID).Msg("failed to unmarshal benchmark history")
		return BenchmarkResult{}, false
	}
	return result, true
}
