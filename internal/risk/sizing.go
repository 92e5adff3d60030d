// Package risk implements the Risk Manager: stateless per-request
// position sizing, leverage clamping, loss limits and circuit breakers.
package risk

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/fluxengine/internal/domain"
	"github.com/ajitpratap0/fluxengine/internal/indicators"
)

// Config holds the tunable thresholds the sizing algorithm reads.
type Config struct {
	MinBalance           float64
	MaxDailyLoss         float64
	MaxConcurrentPositions int
	RiskPerTradeStrong   float64
	RiskPerTradeModerate float64
	RiskPerTradeWeak     float64
	MinStopDistance      float64
	MaxLeverage          int
	RRRatio              float64
	HardStopPct          float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinBalance:             100,
		MaxDailyLoss:           1000,
		MaxConcurrentPositions: 3,
		RiskPerTradeStrong:     0.03,
		RiskPerTradeModerate:   0.02,
		RiskPerTradeWeak:       0.01,
		MinStopDistance:        0.005,
		MaxLeverage:            10,
		RRRatio:                2.0,
		HardStopPct:            0.05,
	}
}

// AccountSnapshot is the read-only view of account state the sizing
// algorithm needs; it is taken once at evaluation entry and never mutated.
type AccountSnapshot struct {
	FreeBalance         float64
	DailyRealizedPnL    float64
	DailyUnrealizedPnL  float64
	OpenPositionCount   int
	BalanceAtDayStart   float64
}

// Request bundles the inputs to Evaluate: symbol, action, confidence,
// expected_return, current_price.
type Request struct {
	Symbol         domain.Symbol
	Side           domain.Side
	Confidence     float64
	ExpectedReturn float64
	CurrentPrice   float64
	Uncertainty    float64
	// RecentPrices feeds the ATR proxy (last N trade prices, oldest first).
	RecentPrices []float64
}

// riskTierFor maps a calibrated confidence into the risk_per_trade tier
// using strict boundaries (> 0.8, > 0.65, > 0.5), not domain.ClassifyConfidence's
// non-strict display buckets: confidence==0.80 must land in "moderate", not
// "strong".
func riskTierFor(cfg Config, confidence float64) float64 {
	switch {
	case confidence > 0.8:
		return cfg.RiskPerTradeStrong
	case confidence > 0.65:
		return cfg.RiskPerTradeModerate
	default:
		return cfg.RiskPerTradeWeak
	}
}

// Evaluate runs the eight-gate sizing algorithm in order; the first
// failing gate short-circuits with a rejection.
func Evaluate(cfg Config, acct AccountSnapshot, req Request, emergency *EmergencyBreaker) domain.RiskDecision {
	if emergency != nil {
		if tripped, reason := emergency.Tripped(); tripped {
			return reject(domain.RejectEmergencyStop, "emergency stop active: "+reason)
		}
	}

	// Gate 1: account gate.
	if acct.FreeBalance < cfg.MinBalance {
		return reject(domain.RejectInsufficientBalance, "free balance below minimum")
	}

	// Gate 2: daily loss gate, loss-only semantics — only a net loss counts
	// against the limit, a net-positive day never rejects on this gate.
	netDaily := acct.DailyRealizedPnL + acct.DailyUnrealizedPnL
	lossOnly := math.Max(-netDaily, 0)
	if lossOnly >= cfg.MaxDailyLoss {
		return reject(domain.RejectDailyLossLimit, "daily loss limit reached")
	}

	// Gate 3: concurrent-position gate.
	if acct.OpenPositionCount >= cfg.MaxConcurrentPositions {
		return reject(domain.RejectMaxPositions, "max concurrent positions reached")
	}

	// Gate 4: base size from the confidence-tiered risk_per_trade.
	riskPerTrade := riskTierFor(cfg, req.Confidence)
	riskAmount := acct.FreeBalance * riskPerTrade

	// Gate 5: size clamp via ATR proxy stop distance. When the ATR proxy is
	// unavailable the stop distance itself falls back to 1% of price.
	stopDistanceFrac := 0.01
	if atrProxy := indicators.ATRProxy(req.RecentPrices, 0); atrProxy > 0 {
		stopDistanceFrac = math.Max(2*atrProxy, cfg.MinStopDistance)
	}
	stopDistance := req.CurrentPrice * stopDistanceFrac
	if stopDistance <= 0 {
		return reject(domain.RejectInsufficientMargin, "non-positive stop distance")
	}
	size := riskAmount / stopDistance

	// Gate 6: leverage selection, uncertainty-clamped.
	baseLeverage := float64(cfg.MaxLeverage)
	leverage := int(math.Round(baseLeverage * (1 - req.Uncertainty)))
	if leverage < 1 {
		leverage = 1
	}
	if leverage > cfg.MaxLeverage {
		leverage = cfg.MaxLeverage
	}

	// Gate 7: stop/target, rr_ratio >= 1.5.
	rrRatio := cfg.RRRatio
	if rrRatio < 1.5 {
		rrRatio = 1.5
	}
	sign := req.Side.Sign()
	stopLoss := req.CurrentPrice - sign*stopDistance
	takeProfit := req.CurrentPrice + sign*rrRatio*stopDistance

	// Gate 8: margin check.
	marginNeeded := size * req.CurrentPrice / float64(leverage)
	if marginNeeded > 0.9*acct.FreeBalance {
		return reject(domain.RejectInsufficientMargin, "margin needed exceeds 90% of free balance")
	}

	log.Debug().
		Str("symbol", string(req.Symbol)).
		Float64("size", size).
		Int("leverage", leverage).
		Float64("stop_loss", stopLoss).
		Float64("take_profit", takeProfit).
		Msg("risk evaluate approved")

	return domain.RiskDecision{
		Approved:   true,
		Size:       size,
		Leverage:   leverage,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}
}

// ShouldTripEmergency reports whether the day's realized+unrealized loss
// breaches hard_stop_pct of the balance at day start.
func ShouldTripEmergency(cfg Config, acct AccountSnapshot) bool {
	if acct.BalanceAtDayStart <= 0 {
		return false
	}
	netDaily := acct.DailyRealizedPnL + acct.DailyUnrealizedPnL
	lossOnly := math.Max(-netDaily, 0)
	return lossOnly >= cfg.HardStopPct*acct.BalanceAtDayStart
}

func reject(reason domain.RejectionReason, msg string) domain.RiskDecision {
	return domain.RiskDecision{Approved: false, RejectionReason: reason, RejectionMessage: msg}
}
