package main

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/fluxengine/internal/domain"
	"github.com/ajitpratap0/fluxengine/internal/exchange"
	"github.com/ajitpratap0/fluxengine/internal/risk"
)

// priceHistoryLen bounds how many trailing prices per symbol feed the ATR
// proxy risk.Evaluate uses for stop-distance sizing.
const priceHistoryLen = 20

// priceBook tracks the latest price and a short trailing window per
// symbol, fed by every exchange's tick stream.
type priceBook struct {
	mu      sync.RWMutex
	latest  map[domain.Symbol]float64
	history map[domain.Symbol][]float64
}

func newPriceBook() *priceBook {
	return &priceBook{
		latest:  make(map[domain.Symbol]float64),
		history: make(map[domain.Symbol][]float64),
	}
}

func (b *priceBook) observe(symbol domain.Symbol, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest[symbol] = price
	h := append(b.history[symbol], price)
	if len(h) > priceHistoryLen {
		h = h[len(h)-priceHistoryLen:]
	}
	b.history[symbol] = h
}

func (b *priceBook) get(symbol domain.Symbol) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.latest[symbol]
	return p, ok
}

func (b *priceBook) recent(symbol domain.Symbol, n int) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h := b.history[symbol]
	if len(h) <= n {
		return append([]float64(nil), h...)
	}
	return append([]float64(nil), h[len(h)-n:]...)
}

// defaultStartingBalance seeds paper/live-unsynced account tracking until
// the first real balance sync completes; this mirrors typical
// paper-trading bootstrap capital.
const defaultStartingBalance = 10000.0

// accountTracker holds the rolling daily PnL bookkeeping internal/risk's
// AccountSnapshot needs, refreshed by trade-close callbacks and a periodic
// exchange balance sync. Nothing feeds dailyUnrealized, so it stays zero.
type accountTracker struct {
	mu                sync.Mutex
	freeBalance       float64
	dailyRealized     float64
	dailyUnrealized   float64
	balanceAtDayStart float64
	dayStart          time.Time
}

func newAccountTracker(minBalance float64) *accountTracker {
	start := defaultStartingBalance
	if minBalance > start {
		start = minBalance * 10
	}
	return &accountTracker{
		freeBalance:       start,
		balanceAtDayStart: start,
		dayStart:          time.Now(),
	}
}

func (a *accountTracker) resetIfNewDay() {
	if time.Since(a.dayStart) >= 24*time.Hour {
		a.dayStart = time.Now()
		a.balanceAtDayStart = a.freeBalance
		a.dailyRealized = 0
		a.dailyUnrealized = 0
	}
}

func (a *accountTracker) recordRealized(pnl float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetIfNewDay()
	a.dailyRealized += pnl
	a.freeBalance += pnl
}

func (a *accountTracker) setFreeBalance(free float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetIfNewDay()
	a.freeBalance = free
}

func (a *accountTracker) snapshot(openPositions int) risk.AccountSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetIfNewDay()
	return risk.AccountSnapshot{
		FreeBalance:        a.freeBalance,
		DailyRealizedPnL:   a.dailyRealized,
		DailyUnrealizedPnL: a.dailyUnrealized,
		OpenPositionCount:  openPositions,
		BalanceAtDayStart:  a.balanceAtDayStart,
	}
}

// syncBalance periodically refreshes freeBalance from the primary
// exchange's own reported balance, the same signal syncmgr reconciles
// against. It is intentionally independent of syncmgr's internal state:
// syncmgr only ever surfaces drift as AnomalyEvents, never the raw figure.
func (e *Engine) syncBalance(ctx context.Context, client exchange.Exchange) {
	ticker := time.NewTicker(e.cfg.Sync.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			balances, err := client.FetchBalance(ctx)
			if err != nil {
				continue
			}
			var free float64
			for _, b := range balances {
				free += b.Free
			}
			if free > 0 {
				e.accounts.setFreeBalance(free)
			}
		}
	}
}
