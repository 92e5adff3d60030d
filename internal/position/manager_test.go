package position

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fluxengine/internal/domain"
	"github.com/ajitpratap0/fluxengine/internal/exchange"
)

func newTestManager(t *testing.T) (*Manager, *exchange.MockExchange) {
	t.Helper()
	ex := exchange.NewMockExchange("paper")
	ex.SetMarketPrice("BTCUSDT", 50000)
	return NewManager(ex, nil, nil), ex
}

func TestOpenPosition_RecordsOnSufficientFill(t *testing.T) {
	m, _ := newTestManager(t)

	decision := domain.RiskDecision{Approved: true, Size: 0.1, Leverage: 10, StopLoss: 49500, TakeProfit: 51000}
	pos, err := m.OpenPosition(context.Background(), uuid.New(), 1, "BTCUSDT", domain.SideLong, decision, 50000)
	require.NoError(t, err)
	assert.Equal(t, 0.1, pos.Size)
	assert.Equal(t, 10, pos.Leverage)

	got, ok := m.GetPosition(pos.ID)
	require.True(t, ok)
	assert.Equal(t, pos.ID, got.ID)
}

func TestOpenPosition_RejectsUnapprovedDecision(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.OpenPosition(context.Background(), uuid.New(), 1, "BTCUSDT", domain.SideLong, domain.RiskDecision{Approved: false}, 50000)
	assert.Error(t, err)
}

func TestClosePosition_RecordsRealizedPnL(t *testing.T) {
	m, ex := newTestManager(t)

	decision := domain.RiskDecision{Approved: true, Size: 0.1, Leverage: 10, StopLoss: 49500, TakeProfit: 51000}
	pos, err := m.OpenPosition(context.Background(), uuid.New(), 1, "BTCUSDT", domain.SideLong, decision, 50000)
	require.NoError(t, err)

	ex.SetMarketPrice("BTCUSDT", 51000)
	record, err := m.ClosePosition(context.Background(), pos.ID, domain.ExitManual)
	require.NoError(t, err)
	assert.Greater(t, record.RealizedPnL, 0.0)

	_, ok := m.GetPosition(pos.ID)
	assert.False(t, ok)
}

func TestOpenPosition_ReplayedIdempotencyKeySuppressesDuplicate(t *testing.T) {
	m, _ := newTestManager(t)

	decision := domain.RiskDecision{Approved: true, Size: 0.1, Leverage: 10, StopLoss: 49500, TakeProfit: 51000}
	id := uuid.New()

	pos, err := m.OpenPosition(context.Background(), id, 1, "BTCUSDT", domain.SideLong, decision, 50000)
	require.NoError(t, err)

	// A retry of the same (positionID, attempt) pair — e.g. the caller
	// resubmitting after an ambiguous timeout — must be suppressed rather
	// than opening a second position.
	_, err = m.OpenPosition(context.Background(), id, 1, "BTCUSDT", domain.SideLong, decision, 50000)
	require.Error(t, err)

	positions := m.ListPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, pos.ID, positions[0].ID)
}

func TestClosePosition_AlreadyClosedReturnsDistinguishableError(t *testing.T) {
	m, ex := newTestManager(t)

	decision := domain.RiskDecision{Approved: true, Size: 0.1, Leverage: 10, StopLoss: 49500, TakeProfit: 51000}
	pos, err := m.OpenPosition(context.Background(), uuid.New(), 1, "BTCUSDT", domain.SideLong, decision, 50000)
	require.NoError(t, err)

	ex.SetMarketPrice("BTCUSDT", 51000)
	_, err = m.ClosePosition(context.Background(), pos.ID, domain.ExitManual)
	require.NoError(t, err)

	_, err = m.ClosePosition(context.Background(), pos.ID, domain.ExitManual)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
}

func TestOnPriceTick_ClosesOnStopLossBreach(t *testing.T) {
	m, ex := newTestManager(t)

	decision := domain.RiskDecision{Approved: true, Size: 0.1, Leverage: 10, StopLoss: 49500, TakeProfit: 51000}
	pos, err := m.OpenPosition(context.Background(), uuid.New(), 1, "BTCUSDT", domain.SideLong, decision, 50000)
	require.NoError(t, err)

	ex.SetMarketPrice("BTCUSDT", 49400)
	m.OnPriceTick(context.Background(), "BTCUSDT", 49400)

	_, ok := m.GetPosition(pos.ID)
	assert.False(t, ok, "position should have been closed on stop-loss breach")
}

func TestOnPriceTick_UpdatesUnrealizedPnLWithoutBreach(t *testing.T) {
	m, _ := newTestManager(t)

	decision := domain.RiskDecision{Approved: true, Size: 0.1, Leverage: 10, StopLoss: 49500, TakeProfit: 51000}
	pos, err := m.OpenPosition(context.Background(), uuid.New(), 1, "BTCUSDT", domain.SideLong, decision, 50000)
	require.NoError(t, err)

	m.OnPriceTick(context.Background(), "BTCUSDT", 50200)

	got, ok := m.GetPosition(pos.ID)
	require.True(t, ok)
	assert.Greater(t, got.UnrealizedPnL, 0.0)
}
