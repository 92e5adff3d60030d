// Package syncmgr implements the Sync Manager: periodic per-exchange
// reconciliation of the expected free balance against the exchange's own
// reported free balance, emitting AnomalyEvents when drift or errors
// exceed threshold.
package syncmgr

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/fluxengine/internal/exchange"
)

// Documented defaults for reconciliation.
const (
	DefaultInterval        = 30 * time.Second
	DefaultBalanceDriftTol = 10.0
	DefaultPriceDriftTol   = 0.01
	ExcessiveErrorsAt      = 5
	ProlongedDesyncAfter   = 300 * time.Second
)

// AnomalyKind enumerates the anomaly events the sync manager emits.
type AnomalyKind string

const (
	AnomalyExcessiveErrors AnomalyKind = "EXCESSIVE_ERRORS"
	AnomalyProlongedDesync AnomalyKind = "PROLONGED_DESYNC"
)

// AnomalyEvent is emitted when an exchange's drift or error count breaches
// threshold.
type AnomalyEvent struct {
	Exchange string
	Kind     AnomalyKind
	Detail   string
	At       time.Time
}

// exchangeState tracks one exchange's reconciliation history.
type exchangeState struct {
	expectedFree      float64
	lastSyncOK        bool
	lastSuccessfulAt  time.Time
	errorCount        int
	pausedNewEntries  bool
}

// Manager periodically reconciles every registered exchange.
type Manager struct {
	interval time.Duration
	balTol   float64
	priceTol float64

	mu       sync.Mutex
	clients  map[string]exchange.Exchange
	states   map[string]*exchangeState

	onAnomaly func(AnomalyEvent)
}

// NewManager constructs a Sync Manager with the documented defaults.
// onAnomaly is optional and may be nil.
func NewManager(onAnomaly func(AnomalyEvent)) *Manager {
	return &Manager{
		interval:  DefaultInterval,
		balTol:    DefaultBalanceDriftTol,
		priceTol:  DefaultPriceDriftTol,
		clients:   make(map[string]exchange.Exchange),
		states:    make(map[string]*exchangeState),
		onAnomaly: onAnomaly,
	}
}

// Register adds an exchange client to the reconciliation set.
func (m *Manager) Register(exchangeID string, client exchange.Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[exchangeID] = client
	m.states[exchangeID] = &exchangeState{lastSyncOK: true, lastSuccessfulAt: time.Now()}
}

// Run drives the reconciliation ticker until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcileAll(ctx)
		}
	}
}

func (m *Manager) reconcileAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.reconcileOne(ctx, id)
	}
}

func (m *Manager) reconcileOne(ctx context.Context, exchangeID string) {
	m.mu.Lock()
	client := m.clients[exchangeID]
	state := m.states[exchangeID]
	m.mu.Unlock()
	if client == nil || state == nil {
		return
	}

	balances, err := client.FetchBalance(ctx)
	if err != nil {
		m.recordFailure(exchangeID, state, "fetch_balance failed: "+err.Error())
		return
	}

	var reportedFree float64
	for _, b := range balances {
		reportedFree += b.Free
	}

	expected := state.expectedFree + state.lastSuccessfulRealizedDelta()
	balanceDrift := math.Abs(reportedFree - expected)

	synced := balanceDrift < m.balTol
	if synced {
		m.recordSuccess(exchangeID, state, reportedFree)
	} else {
		m.recordFailure(exchangeID, state, "balance drift exceeded tolerance")
	}
}

// lastSuccessfulRealizedDelta is a placeholder hook: in the live system
// this would read the ledger delta since last sync; without a ledger
// dependency here it is zero, so drift reduces to the raw balance
// comparison, still matching the formula's shape.
func (s *exchangeState) lastSuccessfulRealizedDelta() float64 { return 0 }

func (m *Manager) recordSuccess(exchangeID string, state *exchangeState, reportedFree float64) {
	m.mu.Lock()
	state.expectedFree = reportedFree
	state.lastSyncOK = true
	state.lastSuccessfulAt = time.Now()
	state.errorCount = 0
	wasPaused := state.pausedNewEntries
	state.pausedNewEntries = false
	m.mu.Unlock()

	if wasPaused {
		log.Info().Str("exchange", exchangeID).Msg("exchange resynced, new entries resumed")
	}
}

func (m *Manager) recordFailure(exchangeID string, state *exchangeState, detail string) {
	m.mu.Lock()
	state.lastSyncOK = false
	state.errorCount++
	errCount := state.errorCount
	desyncFor := time.Since(state.lastSuccessfulAt)
	shouldPause := desyncFor > ProlongedDesyncAfter && !state.pausedNewEntries
	if shouldPause {
		state.pausedNewEntries = true
	}
	m.mu.Unlock()

	log.Warn().Str("exchange", exchangeID).Str("detail", detail).Int("error_count", errCount).Msg("sync reconciliation failed")

	if errCount >= ExcessiveErrorsAt {
		m.emit(AnomalyEvent{Exchange: exchangeID, Kind: AnomalyExcessiveErrors, Detail: detail, At: time.Now()})
	}
	if shouldPause {
		m.emit(AnomalyEvent{Exchange: exchangeID, Kind: AnomalyProlongedDesync, Detail: "desync exceeded 300s, new entries paused", At: time.Now()})
	}
}

// NewEntriesPaused reports whether the executor and arbitrage paths must reject new-entry decisions
// on exchangeID while still permitting exit orders.
func (m *Manager) NewEntriesPaused(exchangeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[exchangeID]
	return ok && state.pausedNewEntries
}

// PriceDrift computes stddev(prices)/mean(prices) across exchanges
// quoting the same canonical symbol.
func PriceDrift(prices []float64) float64 {
	n := len(prices)
	if n == 0 {
		return 0
	}
	var mean float64
	for _, p := range prices {
		mean += p
	}
	mean /= float64(n)
	if mean == 0 {
		return 0
	}

	var sumSq float64
	for _, p := range prices {
		d := p - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(n))
	return stddev / mean
}

// PositionDrift is the sum-of-absolute-unrealized-PnL heuristic.
func PositionDrift(unrealizedPnLs []float64) float64 {
	var sum float64
	for _, pnl := range unrealizedPnLs {
		sum += math.Abs(pnl)
	}
	return sum
}

func (m *Manager) emit(ev AnomalyEvent) {
	if m.onAnomaly != nil {
		m.onAnomaly(ev)
	}
}
