package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Circuit breaker reasons (bounded set)
	ReasonMaxDrawdown    = "max_drawdown"
	ReasonHighVolatility = "high_volatility"
	ReasonRateLimit      = "rate_limit"
	ReasonManualHalt     = "manual_halt"
	ReasonOther          = "other"

	// Exchange API error categories (bounded set)
	ExchangeErrorTimeout     = "timeout"
	ExchangeErrorRateLimit   = "rate_limit"
	ExchangeErrorAuth        = "authentication"
	ExchangeErrorNetwork     = "network"
	ExchangeErrorInvalidReq  = "invalid_request"
	ExchangeErrorServerError = "server_error"
	ExchangeErrorOther       = "other"
)

// NormalizeCircuitBreakerReason maps arbitrary reasons to bounded set
func NormalizeCircuitBreakerReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "drawdown"):
		return ReasonMaxDrawdown
	case strings.Contains(lower, "volatility"):
		return ReasonHighVolatility
	case strings.Contains(lower, "rate") || strings.Contains(lower, "limit"):
		return ReasonRateLimit
	case strings.Contains(lower, "manual") || strings.Contains(lower, "halt"):
		return ReasonManualHalt
	default:
		return ReasonOther
	}
}

// NormalizeExchangeError maps an arbitrary exchange error to a bounded
// category for labeling.
func NormalizeExchangeError(err error) string {
	if err == nil {
		return ExchangeErrorOther
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return ExchangeErrorTimeout
	case strings.Contains(lower, "rate") || strings.Contains(lower, "limit"):
		return ExchangeErrorRateLimit
	case strings.Contains(lower, "auth") || strings.Contains(lower, "signature") || strings.Contains(lower, "key"):
		return ExchangeErrorAuth
	case strings.Contains(lower, "connection") || strings.Contains(lower, "network") || strings.Contains(lower, "dns"):
		return ExchangeErrorNetwork
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "bad request"):
		return ExchangeErrorInvalidReq
	case strings.Contains(lower, "server error") || strings.Contains(lower, "5"):
		return ExchangeErrorServerError
	default:
		return ExchangeErrorOther
	}
}

// Trading performance metrics (trading performance snapshot fields).
var (
	TotalPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxengine_total_pnl",
		Help: "Total profit and loss in USD",
	})

	WinRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxengine_win_rate",
		Help: "Win rate as a ratio (0.0 to 1.0)",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxengine_open_positions",
		Help: "Number of currently open positions",
	})

	TotalTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fluxengine_total_trades",
		Help: "Total number of trades executed",
	})

	CurrentDrawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxengine_current_drawdown",
		Help: "Current drawdown as a ratio (0.0 to 1.0)",
	})

	PositionValueBySymbol = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fluxengine_position_value_by_symbol",
		Help: "Position value in USD by trading symbol",
	}, []string{"symbol"})

	RiskRewardRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxengine_risk_reward_ratio",
		Help: "Average risk/reward ratio",
	})

	WinningTradesValue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fluxengine_winning_trades_value",
		Help: "Total value of winning trades in USD",
	})

	LosingTradesValue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fluxengine_losing_trades_value",
		Help: "Total value (absolute) of losing trades in USD",
	})

	DailyReturn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxengine_daily_return",
		Help: "Daily return as a ratio",
	})

	SharpeRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxengine_sharpe_ratio",
		Help: "Sharpe ratio (risk-adjusted return)",
	})
)

// System health metrics.
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxengine_active_sessions",
		Help: "Number of currently active per-symbol executor cycles",
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxengine_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type", "component"})

	NATSMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fluxengine_nats_messages_published_total",
		Help: "Total number of NATS events published",
	})
)

// Circuit breaker metrics (the engine-wide circuit breaker halt).
var (
	CircuitBreakerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fluxengine_circuit_breaker_status",
		Help: "Circuit breaker status (1 = active/tripped, 0 = inactive)",
	}, []string{"breaker_type"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxengine_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips",
	}, []string{"breaker_type", "reason"})
)

// Exchange metrics (exchange connectivity).
var (
	ExchangeAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fluxengine_exchange_api_latency_ms",
		Help:    "Exchange API latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"exchange", "endpoint"})

	ExchangeAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxengine_exchange_api_errors_total",
		Help: "Total exchange API errors",
	}, []string{"exchange", "error_type"})

	OrderExecutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fluxengine_order_execution_latency_ms",
		Help:    "Order execution latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000},
	})
)

// Reconciliation metrics (account/position reconciliation).
var (
	SyncDrift = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fluxengine_sync_drift",
		Help: "Last observed drift magnitude by kind (balance, price) and exchange",
	}, []string{"exchange", "kind"})

	SyncPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxengine_sync_paused",
		Help: "1 when new-position opens are paused for prolonged desync, else 0",
	})
)

// Arbitrage metrics (cross-exchange arbitrage scanning).
var (
	ArbitrageOpportunities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxengine_arbitrage_opportunities_total",
		Help: "Total arbitrage opportunities detected by symbol",
	}, []string{"symbol"})

	ArbitrageExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxengine_arbitrage_executions_total",
		Help: "Total arbitrage executions by outcome",
	}, []string{"outcome"}) // both_filled, rolled_back
)

// RecordTrade records a completed trade.
func RecordTrade(profitLoss float64) {
	TotalTrades.Inc()
	if profitLoss > 0 {
		WinningTradesValue.Add(profitLoss)
	} else {
		LosingTradesValue.Add(-profitLoss)
	}
}

// UpdatePositionValue updates position value for a symbol.
func UpdatePositionValue(symbol string, value float64) {
	PositionValueBySymbol.WithLabelValues(symbol).Set(value)
}

// UpdateCircuitBreaker updates circuit breaker status.
func UpdateCircuitBreaker(breakerType string, active bool) {
	status := 0.0
	if active {
		status = 1.0
	}
	CircuitBreakerStatus.WithLabelValues(breakerType).Set(status)
}

// RecordCircuitBreakerTrip records a circuit breaker trip with normalized reason.
func RecordCircuitBreakerTrip(breakerType, reason string) {
	normalizedReason := NormalizeCircuitBreakerReason(reason)
	CircuitBreakerTrips.WithLabelValues(breakerType, normalizedReason).Inc()
}

// RecordExchangeAPICall records an exchange API call with normalized error category.
func RecordExchangeAPICall(exchange, endpoint string, durationMs float64, err error) {
	ExchangeAPILatency.WithLabelValues(exchange, endpoint).Observe(durationMs)
	if err != nil {
		errorCategory := NormalizeExchangeError(err)
		ExchangeAPIErrors.WithLabelValues(exchange, errorCategory).Inc()
	}
}

// RecordOrderExecution records order execution latency.
func RecordOrderExecution(durationMs float64) {
	OrderExecutionLatency.Observe(durationMs)
}

// UpdateActiveSessions updates the number of active executor cycles.
func UpdateActiveSessions(count int) {
	ActiveSessions.Set(float64(count))
}

// RecordSyncDrift records the latest reconciliation drift for an exchange.
func RecordSyncDrift(exchange, kind string, drift float64) {
	SyncDrift.WithLabelValues(exchange, kind).Set(drift)
}

// SetSyncPaused sets whether opens are currently paused for desync.
func SetSyncPaused(paused bool) {
	v := 0.0
	if paused {
		v = 1.0
	}
	SyncPaused.Set(v)
}

// RecordArbitrageOpportunity records a detected arbitrage opportunity.
func RecordArbitrageOpportunity(symbol string) {
	ArbitrageOpportunities.WithLabelValues(symbol).Inc()
}

// RecordArbitrageExecution records an arbitrage execution outcome.
func RecordArbitrageExecution(rolledBack bool) {
	outcome := "both_filled"
	if rolledBack {
		outcome = "rolled_back"
	}
	ArbitrageExecutions.WithLabelValues(outcome).Inc()
}
