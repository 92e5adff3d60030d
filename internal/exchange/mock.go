package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FeeConfig models one exchange's maker/taker fees and the mock's slippage
// model parameters.
type FeeConfig struct {
	Maker        float64
	Taker        float64
	BaseSlippage float64
	MarketImpact float64
	MaxSlippage  float64
}

// DefaultFeeConfig mirrors Binance USD-M futures' published schedule
// closely enough for paper trading.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		Maker:        0.001,
		Taker:        0.001,
		BaseSlippage: 0.0005,
		MarketImpact: 0.0001,
		MaxSlippage:  0.003,
	}
}

// MockExchange simulates a trading exchange for paper trading
// (mode=Paper). It fills market orders immediately with a simple
// size-dependent slippage model and never contacts any network.
type MockExchange struct {
	orders map[string]*Order
	fills  map[string][]Fill
	mu     sync.RWMutex

	marketPrices map[string]float64
	fees         FeeConfig

	currentSessionID *uuid.UUID
	name             string

	tickSubscribers []chan Tick
	tickMu          sync.Mutex
}

// NewMockExchange creates a mock exchange with Binance-like default fees.
func NewMockExchange(name string) *MockExchange {
	return NewMockExchangeWithFees(name, DefaultFeeConfig())
}

// NewMockExchangeWithFees creates a mock exchange with custom fee/slippage
// parameters.
func NewMockExchangeWithFees(name string, fees FeeConfig) *MockExchange {
	log.Info().
		Str("exchange", name).
		Float64("maker_fee", fees.Maker).
		Float64("taker_fee", fees.Taker).
		Msg("mock exchange initialized (paper trading mode)")

	return &MockExchange{
		orders:       make(map[string]*Order),
		fills:        make(map[string][]Fill),
		marketPrices: make(map[string]float64),
		fees:         fees,
		name:         name,
	}
}

// Name returns the configured paper-trading exchange id.
func (m *MockExchange) Name() string { return m.name }

// PlaceOrder places a new order in the mock exchange, filling market
// orders immediately.
func (m *MockExchange) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validateOrder(req); err != nil {
		log.Warn().Err(err).Str("symbol", req.Symbol).Str("side", string(req.Side)).Msg("order validation failed")
		return &PlaceOrderResponse{Status: OrderStatusRejected, Message: err.Error()}, nil
	}

	now := time.Now()
	order := &Order{
		ID:             uuid.New().String(),
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Leverage:       req.Leverage,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
		ReduceOnly:     req.ReduceOnly,
		IdempotencyKey: req.IdempotencyKey,
		Status:         OrderStatusAccepted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.orders[order.ID] = order

	log.Info().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("type", string(order.Type)).
		Float64("quantity", order.Quantity).
		Msg("order placed")

	if req.Type == OrderTypeMarket {
		m.simulateMarketFill(order)
	}

	return &PlaceOrderResponse{OrderID: order.ID, Status: order.Status, Message: "order placed"}, nil
}

// CancelOrder cancels an open order.
func (m *MockExchange) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, exists := m.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("order not found: %s", orderID)
	}
	if order.Status.Terminal() {
		return nil, fmt.Errorf("cannot cancel order in terminal status: %s", order.Status)
	}

	order.Status = OrderStatusCancelled
	order.UpdatedAt = time.Now()
	return order, nil
}

// GetOrder retrieves order details.
func (m *MockExchange) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, exists := m.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("order not found: %s", orderID)
	}
	return order, nil
}

// GetOrderFills retrieves all fills for an order.
func (m *MockExchange) GetOrderFills(ctx context.Context, orderID string) ([]Fill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Fill(nil), m.fills[orderID]...), nil
}

// FetchOrderBook synthesizes a one-level book around the last known market
// price, with bid and ask each 1bp from mid (a 2bps spread).
func (m *MockExchange) FetchOrderBook(ctx context.Context, symbol string, depth int) (*BookSnapshot, error) {
	m.mu.RLock()
	mid, ok := m.marketPrices[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no market price set for %s", symbol)
	}

	spread := mid * 0.0001
	return &BookSnapshot{
		Symbol:    symbol,
		Bids:      []BookLevel{{Price: mid - spread, Qty: 100}},
		Asks:      []BookLevel{{Price: mid + spread, Qty: 100}},
		Timestamp: time.Now(),
	}, nil
}

// FetchBalance returns an empty balance map; the mock exchange does not
// model an account — the caller's risk/account layer tracks paper balance.
func (m *MockExchange) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	return map[string]Balance{}, nil
}

// FetchPositions always returns no positions; paper trading has no
// exchange-side position state to reconcile against.
func (m *MockExchange) FetchPositions(ctx context.Context) ([]PositionInfo, error) {
	return nil, nil
}

// StreamTicks returns a channel that receives a Tick each time
// SetMarketPrice is called, for any symbol; the symbols argument does not
// filter what the channel receives.
func (m *MockExchange) StreamTicks(ctx context.Context, symbols []string) (<-chan Tick, error) {
	ch := make(chan Tick, 64)
	m.tickMu.Lock()
	m.tickSubscribers = append(m.tickSubscribers, ch)
	m.tickMu.Unlock()

	go func() {
		<-ctx.Done()
		close(ch)
	}()

	return ch, nil
}

// SetMarketPrice sets the current market price for a symbol and publishes
// a tick to any subscribers.
func (m *MockExchange) SetMarketPrice(symbol string, price float64) {
	m.mu.Lock()
	m.marketPrices[symbol] = price
	m.mu.Unlock()

	m.tickMu.Lock()
	subs := append([]chan Tick(nil), m.tickSubscribers...)
	m.tickMu.Unlock()

	tick := Tick{Symbol: symbol, Price: price, Timestamp: time.Now()}
	for _, ch := range subs {
		select {
		case ch <- tick:
		default:
		}
	}
}

func (m *MockExchange) validateOrder(req PlaceOrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if req.Side != OrderSideBuy && req.Side != OrderSideSell {
		return fmt.Errorf("invalid order side: %s", req.Side)
	}
	if req.Type != OrderTypeMarket && req.Type != OrderTypeLimit {
		return fmt.Errorf("invalid order type: %s", req.Type)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if req.Type == OrderTypeLimit && req.Price <= 0 {
		return fmt.Errorf("limit orders must have a positive price")
	}
	return nil
}

// simulateMarketFill fills a market order immediately using a
// size-dependent slippage model and a handful of partial fills for large
// orders, mirroring how a real book would be walked.
func (m *MockExchange) simulateMarketFill(order *Order) {
	now := time.Now()

	midPrice, exists := m.marketPrices[order.Symbol]
	if !exists {
		midPrice = 50000.0
	}

	slippage := m.calculateSlippage(order.Quantity, midPrice)

	var fillPrice float64
	if order.Side == OrderSideBuy {
		fillPrice = midPrice * (1 + slippage)
	} else {
		fillPrice = midPrice * (1 - slippage)
	}

	fills := m.simulatePartialFills(order, fillPrice, now)

	var totalValue, totalQty float64
	for _, fill := range fills {
		totalValue += fill.Price * fill.Quantity
		totalQty += fill.Quantity
	}
	avgPrice := totalValue / totalQty

	order.FilledQty = order.Quantity
	order.AvgFillPrice = avgPrice
	order.Status = OrderStatusFilled
	order.UpdatedAt = now
	order.FilledAt = &now
	m.fills[order.ID] = fills

	log.Info().
		Str("order_id", order.ID).
		Float64("quantity", order.Quantity).
		Float64("avg_price", avgPrice).
		Float64("slippage_pct", slippage*100).
		Int("num_fills", len(fills)).
		Msg("order filled")
}

func (m *MockExchange) calculateSlippage(quantity, price float64) float64 {
	orderSize := quantity * price
	normalizedSize := orderSize / 1_000_000.0
	marketImpact := m.fees.MarketImpact * normalizedSize

	total := m.fees.BaseSlippage + marketImpact
	if total > m.fees.MaxSlippage {
		total = m.fees.MaxSlippage
	}
	return total
}

func (m *MockExchange) simulatePartialFills(order *Order, basePrice float64, startTime time.Time) []Fill {
	if order.Quantity < 1.0 {
		return []Fill{{OrderID: order.ID, Quantity: order.Quantity, Price: basePrice, Timestamp: startTime}}
	}

	var fills []Fill
	remainingQty := order.Quantity
	fillTime := startTime
	fillCount := 0
	const maxFills = 5

	for remainingQty > 0 && fillCount < maxFills {
		fillQty := remainingQty
		if fillCount < maxFills-1 {
			portion := 0.2 + 0.2*float64(fillCount)/float64(maxFills)
			fillQty = remainingQty * portion
			if fillQty < 0.01 {
				fillQty = remainingQty
			}
		}

		priceVariation := 0.0001 * float64(fillCount)
		var fillPrice float64
		if order.Side == OrderSideBuy {
			fillPrice = basePrice * (1 + priceVariation)
		} else {
			fillPrice = basePrice * (1 - priceVariation)
		}

		fills = append(fills, Fill{OrderID: order.ID, Quantity: fillQty, Price: fillPrice, Timestamp: fillTime})

		remainingQty -= fillQty
		fillCount++
		fillTime = fillTime.Add(time.Microsecond * time.Duration(100+fillCount*50))
	}

	return fills
}

// SetSession sets the current trading session.
func (m *MockExchange) SetSession(sessionID *uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentSessionID = sessionID
}

// GetSession returns the current trading session ID.
func (m *MockExchange) GetSession() *uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentSessionID
}
