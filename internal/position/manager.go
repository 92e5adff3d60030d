// Package position implements the Order Manager: it owns every open
// Position, serializes mutations per position, and drives the
// open/close protocol against an exchange.Exchange.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/fluxengine/internal/domain"
	"github.com/ajitpratap0/fluxengine/internal/exchange"
)

// MinFillFraction is the minimum filled/requested ratio that still counts
// as a successful open.
const MinFillFraction = 0.95

// idempotencyTTL is how long a (position_id, attempt) submission key is
// remembered before it can be reused.
const idempotencyTTL = 10 * time.Minute

// OrderError wraps a failed open/close attempt with the symbol it concerns.
type OrderError struct {
	Symbol domain.Symbol
	Reason string
	Err    error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("position: %s: %s: %v", e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("position: %s: %s", e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error { return e.Err }

// positionLock bundles a position with the mutex that serializes every
// mutating operation against it.
type positionLock struct {
	mu  sync.Mutex
	pos *domain.Position
}

// Manager owns every open position and drives the open/close protocol.
type Manager struct {
	ex exchange.Exchange

	mu        sync.RWMutex
	positions map[uuid.UUID]*positionLock
	bySymbol  map[domain.Symbol][]uuid.UUID
	closedIDs map[uuid.UUID]struct{} // every id that has fully closed, for ErrAlreadyClosed

	idemMu    sync.Mutex
	idemSeen  map[string]time.Time

	onOpen  func(domain.Position)
	onClose func(domain.TradeRecord)
}

// NewManager constructs a Manager against the given exchange. onOpen and
// onClose are optional hooks for emitting PositionOpened/PositionClosed
// events; either may be nil.
func NewManager(ex exchange.Exchange, onOpen func(domain.Position), onClose func(domain.TradeRecord)) *Manager {
	return &Manager{
		ex:        ex,
		positions: make(map[uuid.UUID]*positionLock),
		bySymbol:  make(map[domain.Symbol][]uuid.UUID),
		closedIDs: make(map[uuid.UUID]struct{}),
		idemSeen:  make(map[string]time.Time),
		onOpen:    onOpen,
		onClose:   onClose,
	}
}

// idempotencyKey builds the client-generated dedup token for an attempt.
func idempotencyKey(positionID uuid.UUID, attempt int) string {
	return fmt.Sprintf("%s:%d", positionID, attempt)
}

// checkAndRecordIdempotency returns true if this key has already been
// submitted within the TTL window (a safe re-submission should no-op),
// and records fresh keys. It also sweeps expired entries.
func (m *Manager) checkAndRecordIdempotency(key string) bool {
	now := time.Now()
	m.idemMu.Lock()
	defer m.idemMu.Unlock()

	for k, seenAt := range m.idemSeen {
		if now.Sub(seenAt) > idempotencyTTL {
			delete(m.idemSeen, k)
		}
	}

	if seenAt, ok := m.idemSeen[key]; ok && now.Sub(seenAt) <= idempotencyTTL {
		return true
	}
	m.idemSeen[key] = now
	return false
}

// OpenPosition places the entry order on the given exchange client, and
// on a sufficiently filled ack
// constructs and records the Position. positionID and attempt are
// caller-generated: a genuine retry of the same logical request (e.g. after
// a submission timeout where the caller cannot tell whether the first
// attempt reached the exchange) must pass the same pair so
// checkAndRecordIdempotency can recognize and suppress the duplicate.
// Minting a fresh positionID per call here would make that dedup
// unreachable, since no two calls could ever share a key.
func (m *Manager) OpenPosition(ctx context.Context, positionID uuid.UUID, attempt int, symbol domain.Symbol, side domain.Side, decision domain.RiskDecision, requestedPrice float64) (*domain.Position, error) {
	if !decision.Approved {
		return nil, &OrderError{Symbol: symbol, Reason: "risk decision not approved"}
	}

	key := idempotencyKey(positionID, attempt)
	if m.checkAndRecordIdempotency(key) {
		return nil, &OrderError{Symbol: symbol, Reason: "duplicate submission suppressed"}
	}

	orderSide := exchange.OrderSideBuy
	if side == domain.SideShort {
		orderSide = exchange.OrderSideSell
	}

	resp, err := m.ex.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:         string(symbol),
		Side:           orderSide,
		Type:           exchange.OrderTypeMarket,
		Quantity:       decision.Size,
		Leverage:       decision.Leverage,
		StopLoss:       &decision.StopLoss,
		TakeProfit:     &decision.TakeProfit,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, &OrderError{Symbol: symbol, Reason: "place order failed", Err: err}
	}

	if resp.Status == exchange.OrderStatusRejected {
		log.Warn().Str("symbol", string(symbol)).Str("message", resp.Message).Msg("entry order rejected")
		return nil, &OrderError{Symbol: symbol, Reason: "order rejected: " + resp.Message}
	}

	order, err := m.ex.GetOrder(ctx, resp.OrderID)
	if err != nil {
		return nil, &OrderError{Symbol: symbol, Reason: "could not confirm fill", Err: err}
	}

	if order.FillFraction() < MinFillFraction {
		return nil, &OrderError{Symbol: symbol, Reason: fmt.Sprintf("fill fraction %.4f below minimum %.2f", order.FillFraction(), MinFillFraction)}
	}

	entryPrice := order.AvgFillPrice
	if entryPrice == 0 {
		entryPrice = requestedPrice
	}

	pos := &domain.Position{
		ID:           positionID,
		Symbol:       symbol,
		Exchange:     m.ex.Name(),
		Side:         side,
		Size:         order.FilledQty,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		Leverage:     decision.Leverage,
		MarginUsed:   order.FilledQty * entryPrice / float64(decision.Leverage),
		EntryTime:    time.Now(),
		StopLoss:     &decision.StopLoss,
		TakeProfit:   &decision.TakeProfit,
	}
	if err := pos.Validate(); err != nil {
		return nil, &OrderError{Symbol: symbol, Reason: "opened position failed validation", Err: err}
	}

	m.mu.Lock()
	m.positions[pos.ID] = &positionLock{pos: pos}
	m.bySymbol[symbol] = append(m.bySymbol[symbol], pos.ID)
	m.mu.Unlock()

	log.Info().
		Str("position_id", pos.ID.String()).
		Str("symbol", string(symbol)).
		Str("side", string(side)).
		Float64("size", pos.Size).
		Float64("entry_price", pos.EntryPrice).
		Msg("position opened")

	if m.onOpen != nil {
		m.onOpen(*pos)
	}

	return pos, nil
}

// ClosePosition submits a reduce-only order on the opposite side and
// records a TradeRecord.
// Partial fills leave a residual position with the same id, SL and TP.
func (m *Manager) ClosePosition(ctx context.Context, positionID uuid.UUID, reason domain.ExitReason) (*domain.TradeRecord, error) {
	m.mu.RLock()
	pl, ok := m.positions[positionID]
	_, alreadyClosed := m.closedIDs[positionID]
	m.mu.RUnlock()
	if !ok {
		if alreadyClosed {
			return nil, &OrderError{Reason: "position already closed", Err: domain.ErrAlreadyClosed}
		}
		return nil, &OrderError{Reason: "position not found"}
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	// A concurrent close may have completed while this call waited for the lock.
	m.mu.RLock()
	_, stillOpen := m.positions[positionID]
	m.mu.RUnlock()
	if !stillOpen {
		return nil, &OrderError{Symbol: pl.pos.Symbol, Reason: "position already closed", Err: domain.ErrAlreadyClosed}
	}

	pos := pl.pos
	closeSide := exchange.OrderSideSell
	if pos.Side == domain.SideShort {
		closeSide = exchange.OrderSideBuy
	}

	resp, err := m.ex.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:         string(pos.Symbol),
		Side:           closeSide,
		Type:           exchange.OrderTypeMarket,
		Quantity:       pos.Size,
		ReduceOnly:     true,
		IdempotencyKey: idempotencyKey(positionID, 2),
	})
	if err != nil {
		return nil, &OrderError{Symbol: pos.Symbol, Reason: "close order failed", Err: err}
	}
	if resp.Status == exchange.OrderStatusRejected {
		return nil, &OrderError{Symbol: pos.Symbol, Reason: "close order rejected: " + resp.Message}
	}

	order, err := m.ex.GetOrder(ctx, resp.OrderID)
	if err != nil {
		return nil, &OrderError{Symbol: pos.Symbol, Reason: "could not confirm close fill", Err: err}
	}

	closedQty := order.FilledQty
	exitPrice := order.AvgFillPrice
	if exitPrice == 0 {
		exitPrice = pos.CurrentPrice
	}

	sign := pos.Side.Sign()
	realizedPnL := (exitPrice - pos.EntryPrice) * closedQty * sign

	record := &domain.TradeRecord{
		Position:    *pos,
		ExitPrice:   exitPrice,
		ExitTime:    time.Now(),
		RealizedPnL: realizedPnL,
		ExitReason:  reason,
	}
	record.Position.Size = closedQty

	residual := pos.Size - closedQty
	if residual > 1e-9 {
		// Partial close: the residual keeps the original id, SL and TP.
		pos.Size = residual
		pos.MarginUsed = residual * pos.EntryPrice / float64(pos.Leverage)
		log.Info().Str("position_id", positionID.String()).Float64("residual", residual).Msg("partial close leaves residual position")
	} else {
		m.mu.Lock()
		delete(m.positions, positionID)
		m.closedIDs[positionID] = struct{}{}
		ids := m.bySymbol[pos.Symbol]
		for i, id := range ids {
			if id == positionID {
				m.bySymbol[pos.Symbol] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}

	log.Info().
		Str("position_id", positionID.String()).
		Str("reason", string(reason)).
		Float64("realized_pnl", realizedPnL).
		Msg("position closed")

	if m.onClose != nil {
		m.onClose(*record)
	}

	return record, nil
}

// OnPriceTick updates current_price and unrealized PnL for every open
// position on symbol, and closes any that breach their stop-loss or
// take-profit. Ticks for different symbols may run concurrently. The breach
// check and the close each take the position's lock; ClosePosition
// re-checks under that lock that the position is still open, so a breach
// seen by several ticks closes the position only once.
func (m *Manager) OnPriceTick(ctx context.Context, symbol domain.Symbol, price float64) {
	m.mu.RLock()
	ids := append([]uuid.UUID(nil), m.bySymbol[symbol]...)
	m.mu.RUnlock()

	for _, id := range ids {
		m.mu.RLock()
		pl, ok := m.positions[id]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		pl.mu.Lock()
		pl.pos.ApplyTick(price)
		breachedSL := pl.pos.BreachedStopLoss()
		breachedTP := pl.pos.BreachedTakeProfit()
		pl.mu.Unlock()

		switch {
		case breachedSL:
			if _, err := m.ClosePosition(ctx, id, domain.ExitStopLoss); err != nil {
				log.Error().Err(err).Str("position_id", id.String()).Msg("stop-loss close failed")
			}
		case breachedTP:
			if _, err := m.ClosePosition(ctx, id, domain.ExitTakeProfit); err != nil {
				log.Error().Err(err).Str("position_id", id.String()).Msg("take-profit close failed")
			}
		}
	}
}

// ListPositions returns a snapshot of every currently open position.
func (m *Manager) ListPositions() []domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Position, 0, len(m.positions))
	for _, pl := range m.positions {
		pl.mu.Lock()
		out = append(out, *pl.pos)
		pl.mu.Unlock()
	}
	return out
}

// GetPosition returns the position by id, if open.
func (m *Manager) GetPosition(id uuid.UUID) (domain.Position, bool) {
	m.mu.RLock()
	pl, ok := m.positions[id]
	m.mu.RUnlock()
	if !ok {
		return domain.Position{}, false
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	return *pl.pos, true
}

// GetPositionBySymbol returns the first open position on symbol, if any.
// The Trading Executor runs one position per symbol at a time, so
// "first" is unambiguous in practice.
func (m *Manager) GetPositionBySymbol(symbol domain.Symbol) (domain.Position, bool) {
	m.mu.RLock()
	ids := m.bySymbol[symbol]
	if len(ids) == 0 {
		m.mu.RUnlock()
		return domain.Position{}, false
	}
	pl := m.positions[ids[0]]
	m.mu.RUnlock()
	if pl == nil {
		return domain.Position{}, false
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	return *pl.pos, true
}
