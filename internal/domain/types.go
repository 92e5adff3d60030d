// Package domain holds the core value types shared by every component of
// the trading engine: predictions, positions, trade records, account
// snapshots, order books and risk decisions. Nothing in this package talks
// to an exchange or a database; it is pure data plus the invariants that
// guard it.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Symbol is an opaque, exchange-agnostic instrument identifier, e.g. "BTCUSDT".
type Symbol string

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign returns +1 for Long and -1 for Short, used in PnL arithmetic.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Action is the trading decision output of a Prediction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// MarketRegime classifies the prevailing market condition for a symbol.
type MarketRegime string

const (
	RegimeTrending      MarketRegime = "TRENDING"
	RegimeRanging       MarketRegime = "RANGING"
	RegimeHighVolatility MarketRegime = "HIGH_VOLATILITY"
	RegimeUnknown       MarketRegime = "UNKNOWN"
)

// ConfidenceLevel buckets a calibrated confidence score.
type ConfidenceLevel string

const (
	ConfidenceVeto     ConfidenceLevel = "VETO"
	ConfidenceLow      ConfidenceLevel = "LOW"
	ConfidenceMedium   ConfidenceLevel = "MEDIUM"
	ConfidenceHigh     ConfidenceLevel = "HIGH"
	ConfidenceVeryHigh ConfidenceLevel = "VERY_HIGH"
)

// ClassifyConfidence buckets a calibrated confidence value using the fixed
// thresholds {0, 0.35, 0.5, 0.65, 0.8, 1.0}.
func ClassifyConfidence(c float64) ConfidenceLevel {
	switch {
	case c >= 0.8:
		return ConfidenceVeryHigh
	case c >= 0.65:
		return ConfidenceHigh
	case c >= 0.5:
		return ConfidenceMedium
	case c >= 0.35:
		return ConfidenceLow
	default:
		return ConfidenceVeto
	}
}

// Prediction is produced per symbol per cycle by the Prediction Gateway.
type Prediction struct {
	Symbol               Symbol
	Action               Action
	Confidence           float64 // post-calibration, in [0,1]
	ExpectedReturn       float64 // fractional, signed
	RiskLevel            int     // 1..5
	TimeHorizonHours     float64
	MarketRegime         MarketRegime
	ActionProbabilities  map[Action]float64
	Uncertainty          float64 // in [0,1]
	Timestamp            time.Time
}

// ConfidenceLevel classifies p.Confidence via the standard thresholds.
func (p Prediction) ConfidenceLevel() ConfidenceLevel {
	return ClassifyConfidence(p.Confidence)
}

// ExitReason enumerates why a position was closed.
type ExitReason string

const (
	ExitStopLoss          ExitReason = "STOP_LOSS"
	ExitTakeProfit        ExitReason = "TAKE_PROFIT"
	ExitOppositeSignal    ExitReason = "OPPOSITE_SIGNAL"
	ExitTimeout           ExitReason = "TIMEOUT"
	ExitLowConfidence     ExitReason = "LOW_CONFIDENCE"
	ExitManual            ExitReason = "MANUAL"
	ExitEmergency         ExitReason = "EMERGENCY"
	ExitArbitrageLegFailed ExitReason = "ARBITRAGE_LEG_FAILED"
)

// Position is a currently open leveraged trade.
type Position struct {
	ID              uuid.UUID
	Symbol          Symbol
	Exchange        string
	Side            Side
	Size            float64
	EntryPrice      float64
	CurrentPrice    float64
	Leverage        int
	MarginUsed      float64
	EntryTime       time.Time
	StopLoss        *float64
	TakeProfit      *float64
	PredictionAtEntry *Prediction

	// Recomputed by ApplyTick on every price update.
	UnrealizedPnL    float64
	UnrealizedPnLPct float64
}

// Validate checks the invariants a Position must hold: size > 0,
// leverage in [1,30], and margin_used = size*entry_price/leverage within
// a small tolerance.
func (p *Position) Validate() error {
	const epsilon = 1e-6
	if p.Size <= 0 {
		return fmt.Errorf("domain: position size must be > 0, got %v", p.Size)
	}
	if p.Leverage < 1 || p.Leverage > 30 {
		return fmt.Errorf("domain: leverage %d out of range [1,30]", p.Leverage)
	}
	expected := p.Size * p.EntryPrice / float64(p.Leverage)
	if diff := expected - p.MarginUsed; diff > epsilon || diff < -epsilon {
		return fmt.Errorf("domain: margin_used invariant violated: want %v got %v", expected, p.MarginUsed)
	}
	return nil
}

// ApplyTick recomputes CurrentPrice and the unrealized PnL fields. It is
// the only mutation path for those fields; callers (internal/position) must
// serialize calls per symbol so updates are monotonic in price.
func (p *Position) ApplyTick(price float64) {
	p.CurrentPrice = price
	sign := p.Side.Sign()
	p.UnrealizedPnL = (price - p.EntryPrice) * p.Size * sign
	notional := p.EntryPrice * p.Size
	if notional != 0 {
		p.UnrealizedPnLPct = p.UnrealizedPnL / notional
	}
}

// BreachedStopLoss reports whether the current price has crossed the
// position's stop-loss under its side rule.
func (p *Position) BreachedStopLoss() bool {
	if p.StopLoss == nil {
		return false
	}
	if p.Side == SideLong {
		return p.CurrentPrice <= *p.StopLoss
	}
	return p.CurrentPrice >= *p.StopLoss
}

// BreachedTakeProfit reports whether the current price has crossed the
// position's take-profit under its side rule.
func (p *Position) BreachedTakeProfit() bool {
	if p.TakeProfit == nil {
		return false
	}
	if p.Side == SideLong {
		return p.CurrentPrice >= *p.TakeProfit
	}
	return p.CurrentPrice <= *p.TakeProfit
}

// TradeRecord is an immutable closed trade: a Position plus exit details.
type TradeRecord struct {
	Position
	ExitPrice   float64
	ExitTime    time.Time
	RealizedPnL float64
	ExitReason  ExitReason

	// Supplemental fields (original_source/src/core/trading/enterprise/position.py
	// and trading/executor.py track these for post-hoc analysis; they are not
	// excluded by any Non-goal, so they ride along on the closed record).
	StrategyName          string
	ConfidenceAtEntry     float64
	MaxAdverseExcursion   float64
	MaxFavorableExcursion float64
}

// AccountState is a per-exchange balance/position snapshot owned by the
// Multi-Exchange Manager.
type AccountState struct {
	Exchange      string
	BalanceFree   float64
	BalanceUsed   float64
	BalanceTotal  float64
	OpenPositions map[uuid.UUID]struct{}
	LastSync      time.Time
	Drift         float64
}

// Validate checks balance_total = balance_free + balance_used within a
// small tolerance (epsilon = 1e-6).
func (a AccountState) Validate() error {
	const epsilon = 1e-6
	sum := a.BalanceFree + a.BalanceUsed
	if diff := sum - a.BalanceTotal; diff > epsilon || diff < -epsilon {
		return fmt.Errorf("domain: account balance invariant violated: total %v != free+used %v", a.BalanceTotal, sum)
	}
	return nil
}

// PriceLevel is one (price, quantity) entry of an order book side.
type PriceLevel struct {
	Price float64
	Qty   float64
}

// OrderBookSnapshot is a point-in-time view of one symbol's book on one
// exchange.
type OrderBookSnapshot struct {
	Symbol    Symbol
	Bids      []PriceLevel // descending by price
	Asks      []PriceLevel // ascending by price
	Timestamp time.Time
	LatencyMS float64
}

// Crossed reports whether the book violates the non-crossed invariant
// (bids[0].Price < asks[0].Price).
func (b OrderBookSnapshot) Crossed() bool {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return false
	}
	return !(b.Bids[0].Price < b.Asks[0].Price)
}

// ArbitrageOpportunity describes a cross-exchange spread worth trading.
type ArbitrageOpportunity struct {
	Symbol           Symbol
	BuyExchange      string
	SellExchange     string
	BuyPrice         float64
	SellPrice        float64
	SpreadPct        float64
	EstimatedProfit  float64
	ExpiresAt        time.Time
}

// Valid reports the invariant sell_price > buy_price * (1 + total_fees).
func (a ArbitrageOpportunity) Valid(totalFees float64) bool {
	return a.SellPrice > a.BuyPrice*(1+totalFees)
}

// RejectionReason enumerates why the Risk Manager refused a trade.
type RejectionReason string

const (
	RejectInsufficientBalance RejectionReason = "INSUFFICIENT_BALANCE"
	RejectDailyLossLimit      RejectionReason = "DAILY_LOSS_LIMIT"
	RejectMaxPositions        RejectionReason = "MAX_POSITIONS"
	RejectInsufficientMargin  RejectionReason = "INSUFFICIENT_MARGIN"
	RejectExchangePaused      RejectionReason = "EXCHANGE_PAUSED"
	RejectEmergencyStop       RejectionReason = "EMERGENCY_STOP"
)

// RiskDecision is the output of the Risk Manager's Evaluate operation.
type RiskDecision struct {
	Approved         bool
	Size             float64
	Leverage         int
	StopLoss         float64
	TakeProfit       float64
	RejectionReason  RejectionReason
	RejectionMessage string
}
