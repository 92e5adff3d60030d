package risk

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Circuit breaker states for Prometheus metrics.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Circuit breaker thresholds, configurable per service type.
const (
	// Exchange client calls: one client failing a lot shouldn't immediately
	// block a healthy one, so the exchange breaker trips relatively fast
	// and recovers in 30s.
	ExchangeMinRequests     = 5
	ExchangeFailureRatio    = 0.6
	ExchangeOpenTimeout     = 30 * time.Second
	ExchangeHalfOpenMaxReqs = 3
	ExchangeCountInterval   = 10 * time.Second

	// Order submission: a tighter window since rejected orders are
	// immediately visible and costly to keep retrying.
	OrderMinRequests     = 3
	OrderFailureRatio    = 0.5
	OrderOpenTimeout      = 60 * time.Second
	OrderHalfOpenMaxReqs = 2
	OrderCountInterval   = 10 * time.Second
)

// CircuitBreakerManager manages the two request-oriented gobreaker
// instances (exchange calls, order submissions). The daily-loss /
// emergency-stop gate is NOT request-oriented — gobreaker's
// ReadyToTrip(counts) shape doesn't fit a raw percentage-of-balance
// threshold — so it is tracked separately by EmergencyBreaker below.
type CircuitBreakerManager struct {
	exchange *gobreaker.CircuitBreaker
	order    *gobreaker.CircuitBreaker
	metrics  *CircuitBreakerMetrics
}

// CircuitBreakerMetrics holds Prometheus metrics for circuit breakers.
type CircuitBreakerMetrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
}

var (
	globalMetrics *CircuitBreakerMetrics
	metricsOnce   sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		globalMetrics = &CircuitBreakerMetrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "fluxengine_circuit_breaker_state",
					Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
				},
				[]string{"service"},
			),
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fluxengine_circuit_breaker_requests_total",
					Help: "Total number of requests through circuit breaker",
				},
				[]string{"service", "result"},
			),
			failures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fluxengine_circuit_breaker_failures_total",
					Help: "Total number of failures tracked by circuit breaker",
				},
				[]string{"service"},
			),
		}
	})
}

// ServiceSettings holds circuit breaker configuration for a single service.
type ServiceSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// ParseDuration parses a duration string, falling back to defaultValue on
// an empty string or parse error.
func ParseDuration(durationStr string, defaultValue time.Duration) time.Duration {
	if durationStr == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultValue
	}
	return d
}

// NewCircuitBreakerManager creates a manager with default settings for
// both breakers.
func NewCircuitBreakerManager() *CircuitBreakerManager {
	return NewCircuitBreakerManagerWithSettings(nil, nil)
}

// NewCircuitBreakerManagerWithSettings creates a manager with Prometheus
// metrics registered exactly once. Nil settings fall back to the package
// defaults.
func NewCircuitBreakerManagerWithSettings(exchangeSettings, orderSettings *ServiceSettings) *CircuitBreakerManager {
	initMetrics()

	manager := &CircuitBreakerManager{metrics: globalMetrics}

	if exchangeSettings == nil {
		exchangeSettings = &ServiceSettings{
			MinRequests:     ExchangeMinRequests,
			FailureRatio:    ExchangeFailureRatio,
			OpenTimeout:     ExchangeOpenTimeout,
			HalfOpenMaxReqs: ExchangeHalfOpenMaxReqs,
			CountInterval:   ExchangeCountInterval,
		}
	}
	if orderSettings == nil {
		orderSettings = &ServiceSettings{
			MinRequests:     OrderMinRequests,
			FailureRatio:    OrderFailureRatio,
			OpenTimeout:     OrderOpenTimeout,
			HalfOpenMaxReqs: OrderHalfOpenMaxReqs,
			CountInterval:   OrderCountInterval,
		}
	}

	manager.exchange = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: exchangeSettings.HalfOpenMaxReqs,
		Interval:    exchangeSettings.CountInterval,
		Timeout:     exchangeSettings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= exchangeSettings.MinRequests && failureRatio >= exchangeSettings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			manager.updateMetrics("exchange", to)
		},
	})

	manager.order = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "order",
		MaxRequests: orderSettings.HalfOpenMaxReqs,
		Interval:    orderSettings.CountInterval,
		Timeout:     orderSettings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= orderSettings.MinRequests && failureRatio >= orderSettings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			manager.updateMetrics("order", to)
		},
	})

	manager.updateMetrics("exchange", manager.exchange.State())
	manager.updateMetrics("order", manager.order.State())

	return manager
}

// NewPassthroughCircuitBreakerManager creates a manager whose breakers
// never trip, for tests that exercise other components.
func NewPassthroughCircuitBreakerManager() *CircuitBreakerManager {
	initMetrics()

	manager := &CircuitBreakerManager{metrics: globalMetrics}
	neverTrip := func(counts gobreaker.Counts) bool { return false }

	manager.exchange = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "exchange_passthrough", MaxRequests: 1000, Interval: 0, Timeout: time.Millisecond, ReadyToTrip: neverTrip,
	})
	manager.order = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "order_passthrough", MaxRequests: 1000, Interval: 0, Timeout: time.Millisecond, ReadyToTrip: neverTrip,
	})

	return manager
}

// Exchange returns the exchange-call circuit breaker.
func (m *CircuitBreakerManager) Exchange() *gobreaker.CircuitBreaker { return m.exchange }

// Order returns the order-submission circuit breaker.
func (m *CircuitBreakerManager) Order() *gobreaker.CircuitBreaker { return m.order }

func (m *CircuitBreakerManager) updateMetrics(service string, state gobreaker.State) {
	var stateValue float64
	switch state {
	case gobreaker.StateClosed:
		stateValue = 0
	case gobreaker.StateOpen:
		stateValue = 1
	case gobreaker.StateHalfOpen:
		stateValue = 2
	}
	m.metrics.state.WithLabelValues(service).Set(stateValue)
}

// RecordRequest records a request result for metrics.
func (m *CircuitBreakerMetrics) RecordRequest(service string, success bool) {
	result := ResultSuccess
	if !success {
		result = ResultFailure
		m.failures.WithLabelValues(service).Inc()
	}
	m.requests.WithLabelValues(service, result).Inc()
}

// Metrics returns the metrics instance for manual recording.
func (m *CircuitBreakerManager) Metrics() *CircuitBreakerMetrics { return m.metrics }

// EmergencyBreaker implements the daily-loss hard-stop: once daily loss
// breaches hard_stop_pct of balance_at_day_start, every new-entry decision
// across the executor and arbitrage paths is rejected until a manual
// clear. This is a simple mutex-guarded flag rather than a gobreaker
// instance because it isn't request/failure-ratio driven, it trips on a
// single account-level percentage check and only clears on an explicit
// operator command.
type EmergencyBreaker struct {
	mu      sync.RWMutex
	tripped bool
	reason  string
}

// Trip raises the emergency stop with a human-readable reason.
func (e *EmergencyBreaker) Trip(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tripped = true
	e.reason = reason
}

// Clear resets the emergency stop (manual operator action only).
func (e *EmergencyBreaker) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tripped = false
	e.reason = ""
}

// Tripped reports whether new entries should be rejected, and why.
func (e *EmergencyBreaker) Tripped() (bool, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tripped, e.reason
}
