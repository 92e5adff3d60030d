package executor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fluxengine/internal/domain"
)

func TestDecideExit_OppositeSignalAboveThreshold(t *testing.T) {
	cfg := DefaultSymbolConfig("paper")
	pos := domain.Position{Side: domain.SideLong, EntryTime: time.Now()}
	pred := domain.Prediction{Action: domain.ActionSell, Confidence: 0.8}

	reason, ok := decideExit(pos, pred, cfg, time.Now())
	require.True(t, ok)
	assert.Equal(t, domain.ExitOppositeSignal, reason)
}

func TestDecideExit_LowConfidence(t *testing.T) {
	cfg := DefaultSymbolConfig("paper")
	pos := domain.Position{Side: domain.SideLong, EntryTime: time.Now()}
	pred := domain.Prediction{Action: domain.ActionBuy, Confidence: 0.1}

	reason, ok := decideExit(pos, pred, cfg, time.Now())
	require.True(t, ok)
	assert.Equal(t, domain.ExitLowConfidence, reason)
}

func TestDecideExit_Timeout(t *testing.T) {
	cfg := DefaultSymbolConfig("paper")
	pos := domain.Position{Side: domain.SideLong, EntryTime: time.Now().Add(-25 * time.Hour)}
	pred := domain.Prediction{Action: domain.ActionBuy, Confidence: 0.9}

	reason, ok := decideExit(pos, pred, cfg, time.Now())
	require.True(t, ok)
	assert.Equal(t, domain.ExitTimeout, reason)
}

func TestDecideExit_NoExitWhenHealthy(t *testing.T) {
	cfg := DefaultSymbolConfig("paper")
	pos := domain.Position{Side: domain.SideLong, EntryTime: time.Now()}
	pred := domain.Prediction{Action: domain.ActionBuy, Confidence: 0.9}

	_, ok := decideExit(pos, pred, cfg, time.Now())
	assert.False(t, ok)
}

func TestDecideEntry_RequiresMinConfidence(t *testing.T) {
	cfg := DefaultSymbolConfig("paper")
	pred := domain.Prediction{Action: domain.ActionBuy, Confidence: 0.5}
	assert.False(t, decideEntry(pred, cfg, time.Time{}, time.Now(), 0))
}

func TestDecideEntry_RejectsHold(t *testing.T) {
	cfg := DefaultSymbolConfig("paper")
	pred := domain.Prediction{Action: domain.ActionHold, Confidence: 0.9}
	assert.False(t, decideEntry(pred, cfg, time.Time{}, time.Now(), 0))
}

func TestDecideEntry_RespectsCooldown(t *testing.T) {
	cfg := DefaultSymbolConfig("paper")
	pred := domain.Prediction{Action: domain.ActionBuy, Confidence: 0.9}
	assert.False(t, decideEntry(pred, cfg, time.Now(), time.Now(), 0))
}

func TestDecideEntry_RespectsConcurrentPositionBudget(t *testing.T) {
	cfg := DefaultSymbolConfig("paper")
	pred := domain.Prediction{Action: domain.ActionBuy, Confidence: 0.9}
	assert.False(t, decideEntry(pred, cfg, time.Time{}, time.Now(), cfg.MaxConcurrentPositions))
}

func TestDecideEntry_BlocksHighVolatilityByDefault(t *testing.T) {
	cfg := DefaultSymbolConfig("paper")
	pred := domain.Prediction{Action: domain.ActionBuy, Confidence: 0.9, MarketRegime: domain.RegimeHighVolatility}
	assert.False(t, decideEntry(pred, cfg, time.Time{}, time.Now(), 0))
}

func TestDecideEntry_ApprovesHealthySignal(t *testing.T) {
	cfg := DefaultSymbolConfig("paper")
	pred := domain.Prediction{Action: domain.ActionBuy, Confidence: 0.9, MarketRegime: domain.RegimeTrending}
	assert.True(t, decideEntry(pred, cfg, time.Time{}, time.Now(), 0))
}

type fakePositions struct {
	pos       *domain.Position
	opened    bool
	closed    bool
	closeErr  error
}

func (f *fakePositions) GetPositionBySymbol(symbol domain.Symbol) (domain.Position, bool) {
	if f.pos == nil {
		return domain.Position{}, false
	}
	return *f.pos, true
}

func (f *fakePositions) OpenPosition(ctx context.Context, positionID uuid.UUID, attempt int, symbol domain.Symbol, side domain.Side, decision domain.RiskDecision, requestedPrice float64) (*domain.Position, error) {
	f.opened = true
	p := &domain.Position{ID: uuid.New(), Symbol: symbol, Side: side, EntryTime: time.Now()}
	f.pos = p
	return p, nil
}

func (f *fakePositions) ClosePosition(ctx context.Context, id uuid.UUID, reason domain.ExitReason) (*domain.TradeRecord, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	f.closed = true
	f.pos = nil
	return &domain.TradeRecord{ExitReason: reason}, nil
}

func TestRunCycle_OpensPositionOnApprovedEntry(t *testing.T) {
	positions := &fakePositions{}
	deps := Deps{
		Predictor: predictorFunc(func(ctx context.Context, symbol domain.Symbol) (*domain.Prediction, string, error) {
			return &domain.Prediction{Action: domain.ActionBuy, Confidence: 0.9, MarketRegime: domain.RegimeTrending}, "pred-1", nil
		}),
		Positions: positions,
		EvaluateRisk: func(ctx context.Context, symbol domain.Symbol, side domain.Side, pred domain.Prediction, price float64) domain.RiskDecision {
			return domain.RiskDecision{Approved: true, Size: 0.1, Leverage: 5}
		},
		CurrentPrice: func(symbol domain.Symbol) (float64, bool) { return 50000, true },
	}

	exec := NewSymbolExecutor("BTCUSDT", DefaultSymbolConfig("paper"), deps)
	exec.runCycle(context.Background())

	assert.True(t, positions.opened)
}

func TestRunCycle_ExitsOnOppositeSignal(t *testing.T) {
	positions := &fakePositions{pos: &domain.Position{ID: uuid.New(), Symbol: "BTCUSDT", Side: domain.SideLong, EntryTime: time.Now()}}
	deps := Deps{
		Predictor: predictorFunc(func(ctx context.Context, symbol domain.Symbol) (*domain.Prediction, string, error) {
			return &domain.Prediction{Action: domain.ActionSell, Confidence: 0.9}, "pred-1", nil
		}),
		Positions:    positions,
		CurrentPrice: func(symbol domain.Symbol) (float64, bool) { return 50000, true },
	}

	exec := NewSymbolExecutor("BTCUSDT", DefaultSymbolConfig("paper"), deps)
	exec.runCycle(context.Background())

	assert.True(t, positions.closed)
}

// TestRunCycle_ReentryAllowedAfterForcedCooldownCycle drives three cycles:
// the first exits an open position and forces a one-cycle cooldown: the
// second cycle (an approved entry signal) must still be blocked by that
// forced cooldown, and the third cycle — with the forced cooldown now
// consumed — must be allowed to open. Before the fix, cooldownForced was
// only ever cleared on a successful OpenPosition, which never ran while the
// flag stayed set, permanently deadlocking the symbol.
func TestRunCycle_ReentryAllowedAfterForcedCooldownCycle(t *testing.T) {
	positions := &fakePositions{pos: &domain.Position{ID: uuid.New(), Symbol: "BTCUSDT", Side: domain.SideLong, EntryTime: time.Now()}}
	action := domain.ActionSell
	deps := Deps{
		Predictor: predictorFunc(func(ctx context.Context, symbol domain.Symbol) (*domain.Prediction, string, error) {
			return &domain.Prediction{Action: action, Confidence: 0.9, MarketRegime: domain.RegimeTrending}, "pred-1", nil
		}),
		Positions: positions,
		EvaluateRisk: func(ctx context.Context, symbol domain.Symbol, side domain.Side, pred domain.Prediction, price float64) domain.RiskDecision {
			return domain.RiskDecision{Approved: true, Size: 0.1, Leverage: 5}
		},
		CurrentPrice: func(symbol domain.Symbol) (float64, bool) { return 50000, true },
	}

	exec := NewSymbolExecutor("BTCUSDT", DefaultSymbolConfig("paper"), deps)

	// Cycle 1: exits the open long on the opposite signal, forcing cooldown.
	exec.runCycle(context.Background())
	require.True(t, positions.closed)
	require.False(t, positions.opened)

	// Cycle 2: signal now favors entry, but the forced post-exit cooldown
	// still applies for exactly this one cycle.
	action = domain.ActionBuy
	exec.runCycle(context.Background())
	require.False(t, positions.opened, "forced cooldown must still block the first post-exit cycle")

	// Cycle 3: the forced cooldown was consumed last cycle, so entry must
	// now succeed — the symbol must never be deadlocked past one cycle.
	exec.runCycle(context.Background())
	assert.True(t, positions.opened)
}

func TestRunCycle_SkipsWhenDesyncPaused(t *testing.T) {
	positions := &fakePositions{}
	called := false
	deps := Deps{
		Predictor: predictorFunc(func(ctx context.Context, symbol domain.Symbol) (*domain.Prediction, string, error) {
			called = true
			return &domain.Prediction{Action: domain.ActionBuy, Confidence: 0.9}, "", nil
		}),
		Positions:    positions,
		DesyncPaused: func(exchangeID string) bool { return true },
	}

	exec := NewSymbolExecutor("BTCUSDT", DefaultSymbolConfig("paper"), deps)
	exec.runCycle(context.Background())

	assert.False(t, called)
	assert.False(t, positions.opened)
}

func TestRecordFailure_ForcesDegradedPauseAfterThreshold(t *testing.T) {
	exec := NewSymbolExecutor("BTCUSDT", DefaultSymbolConfig("paper"), Deps{})
	for i := 0; i < FailureThreshold; i++ {
		exec.recordFailure()
	}
	assert.False(t, exec.preconditionsOK())
}

type predictorFunc func(ctx context.Context, symbol domain.Symbol) (*domain.Prediction, string, error)

func (f predictorFunc) Predict(ctx context.Context, symbol domain.Symbol) (*domain.Prediction, string, error) {
	return f(ctx, symbol)
}
