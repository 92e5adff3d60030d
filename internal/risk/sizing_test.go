package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fluxengine/internal/domain"
)

// TestEvaluate_HappyBuyPath covers the baseline approval scenario:
// free_balance=1000, confidence=0.80 (moderate tier: the strong/moderate
// boundary is a strict >0.8, so 0.80 itself lands in moderate), ATR proxy
// unavailable so stop_distance falls back to 0.01*50000=500,
// riskAmount=1000*0.02=20, size=20/500=0.04.
func TestEvaluate_HappyBuyPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLeverage = 10

	acct := AccountSnapshot{FreeBalance: 1000, OpenPositionCount: 0}
	req := Request{
		Symbol:       "BTCUSDT",
		Side:         domain.SideLong,
		Confidence:   0.80,
		CurrentPrice: 50000,
		Uncertainty:  0,
	}

	decision := Evaluate(cfg, acct, req, nil)
	require.True(t, decision.Approved)
	assert.InDelta(t, 0.04, decision.Size, 1e-9)
	assert.Equal(t, 10, decision.Leverage)
	assert.InDelta(t, 49500, decision.StopLoss, 1e-9)
	assert.InDelta(t, 51000, decision.TakeProfit, 1e-9)
}

func TestEvaluate_RejectsBelowMinBalance(t *testing.T) {
	cfg := DefaultConfig()
	acct := AccountSnapshot{FreeBalance: 50}
	req := Request{Symbol: "BTCUSDT", Side: domain.SideLong, Confidence: 0.8, CurrentPrice: 50000}

	decision := Evaluate(cfg, acct, req, nil)
	assert.False(t, decision.Approved)
	assert.Equal(t, domain.RejectInsufficientBalance, decision.RejectionReason)
}

// TestEvaluate_DailyLossGateIsLossOnly mirrors the resolved open question:
// a net-positive day never rejects on the daily loss gate even if one leg
// moved against the position more than max_daily_loss.
func TestEvaluate_DailyLossGateIsLossOnly(t *testing.T) {
	cfg := DefaultConfig()
	acct := AccountSnapshot{
		FreeBalance:        1000,
		DailyRealizedPnL:   2000,
		DailyUnrealizedPnL: -1500,
	}
	req := Request{Symbol: "BTCUSDT", Side: domain.SideLong, Confidence: 0.8, CurrentPrice: 50000}

	decision := Evaluate(cfg, acct, req, nil)
	assert.True(t, decision.Approved)
}

func TestEvaluate_RejectsOnDailyLossLimit(t *testing.T) {
	cfg := DefaultConfig()
	acct := AccountSnapshot{FreeBalance: 1000, DailyRealizedPnL: -1001}
	req := Request{Symbol: "BTCUSDT", Side: domain.SideLong, Confidence: 0.8, CurrentPrice: 50000}

	decision := Evaluate(cfg, acct, req, nil)
	assert.False(t, decision.Approved)
	assert.Equal(t, domain.RejectDailyLossLimit, decision.RejectionReason)
}

func TestEvaluate_RejectsOnMaxPositions(t *testing.T) {
	cfg := DefaultConfig()
	acct := AccountSnapshot{FreeBalance: 1000, OpenPositionCount: 3}
	req := Request{Symbol: "BTCUSDT", Side: domain.SideLong, Confidence: 0.8, CurrentPrice: 50000}

	decision := Evaluate(cfg, acct, req, nil)
	assert.False(t, decision.Approved)
	assert.Equal(t, domain.RejectMaxPositions, decision.RejectionReason)
}

func TestEvaluate_RejectsWhenEmergencyBreakerTripped(t *testing.T) {
	cfg := DefaultConfig()
	acct := AccountSnapshot{FreeBalance: 1000}
	req := Request{Symbol: "BTCUSDT", Side: domain.SideLong, Confidence: 0.8, CurrentPrice: 50000}

	eb := &EmergencyBreaker{}
	eb.Trip("daily hard stop breached")

	decision := Evaluate(cfg, acct, req, eb)
	assert.False(t, decision.Approved)
	assert.Equal(t, domain.RejectEmergencyStop, decision.RejectionReason)
}

func TestEvaluate_ShortSideStopsAboveEntry(t *testing.T) {
	cfg := DefaultConfig()
	acct := AccountSnapshot{FreeBalance: 1000}
	req := Request{Symbol: "BTCUSDT", Side: domain.SideShort, Confidence: 0.8, CurrentPrice: 50000}

	decision := Evaluate(cfg, acct, req, nil)
	require.True(t, decision.Approved)
	assert.Greater(t, decision.StopLoss, req.CurrentPrice)
	assert.Less(t, decision.TakeProfit, req.CurrentPrice)
}

func TestRiskTierFor_StrictBoundaries(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, cfg.RiskPerTradeModerate, riskTierFor(cfg, 0.80), "0.80 is not > 0.8, so it stays moderate")
	assert.Equal(t, cfg.RiskPerTradeStrong, riskTierFor(cfg, 0.8000001))
	assert.Equal(t, cfg.RiskPerTradeWeak, riskTierFor(cfg, 0.65), "0.65 is not > 0.65, so it falls to weak")
	assert.Equal(t, cfg.RiskPerTradeModerate, riskTierFor(cfg, 0.6500001))
}

func TestShouldTripEmergency_LossOnlyThreshold(t *testing.T) {
	cfg := DefaultConfig()
	acct := AccountSnapshot{
		BalanceAtDayStart:  10000,
		DailyRealizedPnL:   -501,
	}
	assert.True(t, ShouldTripEmergency(cfg, acct))

	acct.DailyRealizedPnL = -400
	assert.False(t, ShouldTripEmergency(cfg, acct))
}
