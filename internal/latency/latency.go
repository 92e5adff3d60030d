// Package latency implements the Latency Optimizer: per-(exchange,
// endpoint) EWMA latency tracking, a short-TTL order-book cache, and a
// synchronous benchmark operation.
package latency

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/fluxengine/internal/exchange"
)

// EWMAAlpha is the smoothing factor for latency updates.
const EWMAAlpha = 0.2

// CacheTTL is the default max age of a cached order book.
const CacheTTL = 500 * time.Millisecond

// key identifies one (exchange, endpoint) latency series.
type key struct {
	exchange string
	endpoint string
}

// cachedBook is one order-book cache entry, replaced whole under cacheMu.
type cachedBook struct {
	book     *exchange.BookSnapshot
	cachedAt time.Time
}

// Tracker maintains EWMA latencies and a read-mostly order-book cache
// across a set of exchange clients.
type Tracker struct {
	mu       sync.RWMutex
	ewma     map[key]float64
	samples  map[key]int

	cacheMu sync.RWMutex
	cache   map[string]*cachedBook // keyed by symbol

	ttl time.Duration

	clients map[string]exchange.Exchange
}

// NewTracker constructs a Tracker with the default cache TTL.
func NewTracker() *Tracker {
	return &Tracker{
		ewma:    make(map[key]float64),
		samples: make(map[key]int),
		cache:   make(map[string]*cachedBook),
		ttl:     CacheTTL,
		clients: make(map[string]exchange.Exchange),
	}
}

// Register adds an exchange client this tracker can probe for benchmarks
// and cache refills.
func (t *Tracker) Register(exchangeID string, client exchange.Exchange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[exchangeID] = client
}

// Observe records one latency sample for (exchangeID, endpoint) using the
// standard EWMA update new = alpha*sample + (1-alpha)*old.
func (t *Tracker) Observe(exchangeID, endpoint string, d time.Duration) {
	k := key{exchange: exchangeID, endpoint: endpoint}
	sample := float64(d.Microseconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.ewma[k]; ok {
		t.ewma[k] = EWMAAlpha*sample + (1-EWMAAlpha)*prev
	} else {
		t.ewma[k] = sample
	}
	t.samples[k]++
}

// EWMAMicros returns the current EWMA latency in microseconds for
// (exchangeID, endpoint), and whether any sample has been observed yet.
func (t *Tracker) EWMAMicros(exchangeID, endpoint string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.ewma[key{exchange: exchangeID, endpoint: endpoint}]
	return v, ok
}

// BestOf implements router.LatencySource: it returns the candidate with
// the lowest EWMA latency for endpoint, falling back to the first
// candidate if none has been observed yet.
func (t *Tracker) BestOf(endpoint string, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	best := candidates[0]
	bestLatency, bestKnown := t.EWMAMicros(best, endpoint)

	for _, c := range candidates[1:] {
		lat, known := t.EWMAMicros(c, endpoint)
		if !known {
			continue
		}
		if !bestKnown || lat < bestLatency {
			best, bestLatency, bestKnown = c, lat, true
		}
	}
	return best, true
}

// GetOrderBookOptimized returns the cached book for symbol if its age is
// within TTL; otherwise it fetches from the lowest-EWMA-latency connected
// exchange among candidates and refreshes the cache.
func (t *Tracker) GetOrderBookOptimized(ctx context.Context, symbol string, candidates []string) (*exchange.BookSnapshot, error) {
	t.cacheMu.RLock()
	entry, ok := t.cache[symbol]
	t.cacheMu.RUnlock()
	if ok && time.Since(entry.cachedAt) < t.ttl {
		return entry.book, nil
	}

	exchangeID, _ := t.BestOf("order_book", candidates)

	t.mu.RLock()
	client, ok := t.clients[exchangeID]
	t.mu.RUnlock()
	if !ok {
		return nil, errNoClient(exchangeID)
	}

	start := time.Now()
	book, err := client.FetchOrderBook(ctx, symbol, 10)
	t.Observe(exchangeID, "order_book", time.Since(start))
	if err != nil {
		return nil, err
	}

	t.cacheMu.Lock()
	t.cache[symbol] = &cachedBook{book: book, cachedAt: time.Now()}
	t.cacheMu.Unlock()

	return book, nil
}

// BenchmarkResult reports latency percentiles from a probe run of
// n_operations round trips.
type BenchmarkResult struct {
	Avg         time.Duration
	P50         time.Duration
	P95         time.Duration
	P99         time.Duration
	SuccessRate float64
}

// Benchmark issues n probe order-book fetches against exchangeID and
// reports latency percentiles and success rate.
func (t *Tracker) Benchmark(ctx context.Context, exchangeID, symbol string, n int) BenchmarkResult {
	t.mu.RLock()
	client, ok := t.clients[exchangeID]
	t.mu.RUnlock()
	if !ok || n <= 0 {
		return BenchmarkResult{}
	}

	durations := make([]time.Duration, 0, n)
	successes := 0
	for i := 0; i < n; i++ {
		start := time.Now()
		_, err := client.FetchOrderBook(ctx, symbol, 1)
		elapsed := time.Since(start)
		if err == nil {
			successes++
			durations = append(durations, elapsed)
		}
	}

	return BenchmarkResult{
		Avg:         average(durations),
		P50:         percentile(durations, 0.50),
		P95:         percentile(durations, 0.95),
		P99:         percentile(durations, 0.99),
		SuccessRate: float64(successes) / float64(n),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return sum / time.Duration(len(durations))
}

func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

type errNoClient string

func (e errNoClient) Error() string { return "latency: no client registered for " + string(e) }
