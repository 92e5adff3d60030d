package syncmgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fluxengine/internal/exchange"
)

func TestReconcile_SuccessWithinToleranceStaysSynced(t *testing.T) {
	var anomalies []AnomalyEvent
	m := NewManager(func(ev AnomalyEvent) { anomalies = append(anomalies, ev) })

	ex := exchange.NewMockExchange("paper")
	m.Register("paper", ex)

	m.reconcileOne(context.Background(), "paper")
	assert.False(t, m.NewEntriesPaused("paper"))
	assert.Empty(t, anomalies)
}

func TestExcessiveErrors_EmitsAnomalyAtThreshold(t *testing.T) {
	var anomalies []AnomalyEvent
	m := NewManager(func(ev AnomalyEvent) { anomalies = append(anomalies, ev) })

	ex := exchange.NewMockExchange("paper")
	m.Register("paper", ex)

	m.mu.Lock()
	state := m.states["paper"]
	m.mu.Unlock()

	for i := 0; i < ExcessiveErrorsAt; i++ {
		m.recordFailure("paper", state, "simulated failure")
	}

	found := false
	for _, a := range anomalies {
		if a.Kind == AnomalyExcessiveErrors {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPriceDrift(t *testing.T) {
	assert.InDelta(t, 0.0, PriceDrift([]float64{100, 100, 100}), 1e-9)
	assert.Greater(t, PriceDrift([]float64{99, 100, 101}), 0.0)
	assert.Equal(t, 0.0, PriceDrift(nil))
}

func TestPositionDrift(t *testing.T) {
	assert.Equal(t, 30.0, PositionDrift([]float64{10, -15, 5}))
}

func TestNewEntriesPaused_UnknownExchangeFalse(t *testing.T) {
	m := NewManager(nil)
	require.False(t, m.NewEntriesPaused("ghost"))
}
