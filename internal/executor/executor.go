// Package executor implements the Trading Executor, the per-symbol
// cycle loop that evaluates exits, evaluates entries, and drives risk
// evaluation and position management to act on them.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/fluxengine/internal/domain"
)

// Documented defaults for the per-symbol execution cycle.
const (
	DefaultOppositeExitThreshold = 0.7
	DefaultLowConfExitThreshold  = 0.3
	DefaultMaxPositionDuration   = 24 * time.Hour
	DefaultMinConfidenceToTrade  = 0.65
	DefaultCooldown              = 30 * time.Minute
	DefaultLiveCycleDelay        = 1 * time.Second
	DefaultHFTCycleDelay         = 100 * time.Millisecond

	// FailureThreshold consecutive-ish failures within FailureWindow force
	// a symbol into a degraded pause.
	FailureThreshold = 3
	FailureWindow    = 5 * time.Minute
	DegradedPause    = 15 * time.Minute
)

// Predictor is the prediction-gateway capability this executor depends on.
type Predictor interface {
	Predict(ctx context.Context, symbol domain.Symbol) (*domain.Prediction, string, error)
}

// PositionStore is the position-manager capability this executor depends on.
type PositionStore interface {
	GetPositionBySymbol(symbol domain.Symbol) (domain.Position, bool)
	OpenPosition(ctx context.Context, positionID uuid.UUID, attempt int, symbol domain.Symbol, side domain.Side, decision domain.RiskDecision, requestedPrice float64) (*domain.Position, error)
	ClosePosition(ctx context.Context, id uuid.UUID, reason domain.ExitReason) (*domain.TradeRecord, error)
}

// RiskEvaluator evaluates a candidate entry and returns a sizing decision.
// It is a function type rather than an interface because the concrete
// implementation (internal/risk.Evaluate) is itself a pure function of an
// account snapshot taken fresh per call.
type RiskEvaluator func(ctx context.Context, symbol domain.Symbol, side domain.Side, pred domain.Prediction, currentPrice float64) domain.RiskDecision

// DesyncChecker reports whether new entries must be paused on an exchange
// (the sync manager's forced pause on detected desync).
type DesyncChecker func(exchangeID string) bool

// CircuitChecker reports whether a circuit breaker currently blocks new
// orders.
type CircuitChecker func() bool

// PriceSource resolves the current price for a symbol, used as the entry's
// requested price and the risk evaluator's sizing input.
type PriceSource func(symbol domain.Symbol) (float64, bool)

// OutcomeFeedback is invoked after this executor closes a position on one
// of its own exit decisions, with the id of the prediction that triggered
// the exit. Stop-loss/take-profit closes made by the position manager do
// not pass through it.
type OutcomeFeedback func(predictionID string, record domain.TradeRecord)

// SymbolConfig holds the per-symbol execution tunables.
type SymbolConfig struct {
	Exchange               string
	Permitted              bool
	MaxDailyTrades         int
	Cooldown               time.Duration
	MinConfidenceToTrade   float64
	OppositeExitThreshold  float64
	LowConfExitThreshold   float64
	MaxPositionDuration    time.Duration
	MaxConcurrentPositions int
	BlockedRegimes         map[domain.MarketRegime]bool
	CycleDelay             time.Duration
}

// DefaultSymbolConfig returns the documented defaults for one symbol,
// permitted, live-paced.
func DefaultSymbolConfig(exchangeID string) SymbolConfig {
	return SymbolConfig{
		Exchange:              exchangeID,
		Permitted:             true,
		MaxDailyTrades:        20,
		Cooldown:              DefaultCooldown,
		MinConfidenceToTrade:  DefaultMinConfidenceToTrade,
		OppositeExitThreshold: DefaultOppositeExitThreshold,
		LowConfExitThreshold:  DefaultLowConfExitThreshold,
		MaxPositionDuration:   DefaultMaxPositionDuration,
		MaxConcurrentPositions: 3,
		BlockedRegimes:        map[domain.MarketRegime]bool{domain.RegimeHighVolatility: true},
		CycleDelay:            DefaultLiveCycleDelay,
	}
}

// Deps bundles the executor's external collaborators.
type Deps struct {
	Predictor     Predictor
	Positions     PositionStore
	EvaluateRisk  RiskEvaluator
	DesyncPaused  DesyncChecker
	CircuitOpen   CircuitChecker
	CurrentPrice  PriceSource
	OnOutcome     OutcomeFeedback
	OpenPositions func() int // global concurrent-position count across all symbols
	OnOrderFailed func(symbol domain.Symbol, side domain.Side, reason string)
}

// symbolState is the executor's mutable per-symbol bookkeeping.
type symbolState struct {
	mu             sync.Mutex
	lastTradeAt    time.Time
	dailyCount     int
	dailyResetAt   time.Time
	failures       []time.Time
	degradedUntil  time.Time
	cooldownForced bool
}

// SymbolExecutor runs the trading-executor cycle loop for one symbol.
type SymbolExecutor struct {
	symbol domain.Symbol
	cfg    SymbolConfig
	deps   Deps
	state  symbolState
}

// NewSymbolExecutor constructs a cycle loop for symbol.
func NewSymbolExecutor(symbol domain.Symbol, cfg SymbolConfig, deps Deps) *SymbolExecutor {
	return &SymbolExecutor{
		symbol: symbol,
		cfg:    cfg,
		deps:   deps,
		state:  symbolState{dailyResetAt: time.Now()},
	}
}

// Run drives the cycle loop until ctx is cancelled. On cancellation the
// current cycle completes its step but no new cycle starts.
func (e *SymbolExecutor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.CycleDelay):
		}
	}
}

// runCycle executes one full precondition -> exit -> entry -> risk/order
// -> feedback cycle.
func (e *SymbolExecutor) runCycle(ctx context.Context) {
	e.resetDailyCounterIfNeeded()

	if !e.preconditionsOK() {
		return
	}

	pos, hasPosition := e.deps.Positions.GetPositionBySymbol(e.symbol)

	pred, predictionID, err := e.deps.Predictor.Predict(ctx, e.symbol)
	if err != nil {
		// The cycle aborts; exits driven by SL/TP are unaffected since
		// they run through the position manager's own tick handling.
		log.Warn().Err(err).Str("symbol", string(e.symbol)).Msg("prediction failed, cycle aborted")
		return
	}

	exited := false
	if hasPosition {
		if reason, ok := decideExit(pos, *pred, e.cfg, time.Now()); ok {
			record, err := e.deps.Positions.ClosePosition(ctx, pos.ID, reason)
			if err != nil {
				e.recordFailure()
				log.Error().Err(err).Str("symbol", string(e.symbol)).Msg("exit close failed")
				if e.deps.OnOrderFailed != nil {
					e.deps.OnOrderFailed(e.symbol, pos.Side, err.Error())
				}
				return
			}
			exited = true
			e.state.mu.Lock()
			e.state.cooldownForced = true
			e.state.mu.Unlock()
			if e.deps.OnOutcome != nil {
				e.deps.OnOutcome(predictionID, *record)
			}
		}
	}

	// Tie-break: exit first, then force a cooldown cycle before any
	// re-entry regardless of cooldown-expiry.
	if exited {
		return
	}

	if hasPosition {
		return
	}

	if e.consumeForcedCooldown() {
		return
	}

	if !decideEntry(*pred, e.cfg, e.lastTradeAt(), time.Now(), e.deps.openPositionCount()) {
		return
	}

	price, ok := e.deps.CurrentPrice(e.symbol)
	if !ok {
		return
	}

	side := domain.SideLong
	if pred.Action == domain.ActionSell {
		side = domain.SideShort
	}

	decision := e.deps.EvaluateRisk(ctx, e.symbol, side, *pred, price)
	if !decision.Approved {
		log.Debug().Str("symbol", string(e.symbol)).Str("reason", string(decision.RejectionReason)).Msg("entry rejected by risk manager")
		return
	}

	if _, err := e.deps.Positions.OpenPosition(ctx, uuid.New(), 1, e.symbol, side, decision, price); err != nil {
		e.recordFailure()
		log.Error().Err(err).Str("symbol", string(e.symbol)).Msg("entry open failed")
		if e.deps.OnOrderFailed != nil {
			e.deps.OnOrderFailed(e.symbol, side, err.Error())
		}
		return
	}

	e.state.mu.Lock()
	e.state.lastTradeAt = time.Now()
	e.state.dailyCount++
	e.state.cooldownForced = false
	e.state.mu.Unlock()
}

func (e *Deps) openPositionCount() int {
	if e.OpenPositions == nil {
		return 0
	}
	return e.OpenPositions()
}

func (e *SymbolExecutor) lastTradeAt() time.Time {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	return e.state.lastTradeAt
}

// consumeForcedCooldown reports whether the post-exit forced cooldown is
// still in effect, and clears it unconditionally: the cooldown lasts for
// exactly one cycle's worth of blocked entries, not until the next
// successful open, so it must be consumed here rather than only on a
// successful OpenPosition.
func (e *SymbolExecutor) consumeForcedCooldown() bool {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	forced := e.state.cooldownForced
	e.state.cooldownForced = false
	return forced
}

// preconditionsOK runs the step-1 short-circuit gates.
func (e *SymbolExecutor) preconditionsOK() bool {
	if !e.cfg.Permitted {
		return false
	}
	if e.deps.DesyncPaused != nil && e.deps.DesyncPaused(e.cfg.Exchange) {
		return false
	}
	e.state.mu.Lock()
	exhausted := e.state.dailyCount >= e.cfg.MaxDailyTrades
	degraded := time.Now().Before(e.state.degradedUntil)
	e.state.mu.Unlock()
	if exhausted || degraded {
		return false
	}
	if e.deps.CircuitOpen != nil && e.deps.CircuitOpen() {
		return false
	}
	return true
}

func (e *SymbolExecutor) resetDailyCounterIfNeeded() {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	if time.Since(e.state.dailyResetAt) >= 24*time.Hour {
		e.state.dailyCount = 0
		e.state.dailyResetAt = time.Now()
	}
}

// recordFailure tracks an OrderFailed event; >=3 within 5 minutes forces a
// 15-minute degraded pause.
func (e *SymbolExecutor) recordFailure() {
	now := time.Now()
	e.state.mu.Lock()
	defer e.state.mu.Unlock()

	cutoff := now.Add(-FailureWindow)
	kept := e.state.failures[:0]
	for _, t := range e.state.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	e.state.failures = kept

	if len(e.state.failures) >= FailureThreshold {
		e.state.degradedUntil = now.Add(DegradedPause)
		log.Warn().Str("symbol", string(e.symbol)).Time("until", e.state.degradedUntil).Msg("symbol forced into degraded pause after repeated order failures")
	}
}

// decideExit implements the opposite-signal, low-confidence, and timeout
// exits (SL/TP are the position manager's responsibility).
func decideExit(pos domain.Position, pred domain.Prediction, cfg SymbolConfig, now time.Time) (domain.ExitReason, bool) {
	opposite := (pos.Side == domain.SideLong && pred.Action == domain.ActionSell) ||
		(pos.Side == domain.SideShort && pred.Action == domain.ActionBuy)
	if opposite && pred.Confidence >= cfg.OppositeExitThreshold {
		return domain.ExitOppositeSignal, true
	}
	if pred.Confidence < cfg.LowConfExitThreshold {
		return domain.ExitLowConfidence, true
	}
	if now.Sub(pos.EntryTime) > cfg.MaxPositionDuration {
		return domain.ExitTimeout, true
	}
	return "", false
}

// decideEntry implements the entry gates: minimum confidence, blocked
// regimes, cooldown, and concurrent position limits.
func decideEntry(pred domain.Prediction, cfg SymbolConfig, lastTradeAt time.Time, now time.Time, openPositionCount int) bool {
	if pred.Confidence < cfg.MinConfidenceToTrade {
		return false
	}
	if pred.Action == domain.ActionHold {
		return false
	}
	if !lastTradeAt.IsZero() && now.Sub(lastTradeAt) < cfg.Cooldown {
		return false
	}
	if openPositionCount >= cfg.MaxConcurrentPositions {
		return false
	}
	if cfg.BlockedRegimes[pred.MarketRegime] {
		return false
	}
	return true
}
