package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/fluxengine/internal/alerts"
)

// BinanceExchange implements Exchange against Binance's spot API through
// go-binance's spot client. It owns order/fill bookkeeping, a WS user-data stream for fill
// notifications, and per-category rate limiting.
type BinanceExchange struct {
	client *binance.Client
	mu     sync.RWMutex

	orders                  map[string]*Order // internal UUID -> Order
	fills                   map[string][]Fill
	exchangeOrderToInternal map[string]string // exchange order id -> internal UUID

	currentSessionID *uuid.UUID
	testnet          bool
	limiter          *RateLimiter

	listenKey   string
	wsStopChan  chan struct{}
	wsErrChan   chan error
	wsConnected bool

	tickSubscribers []chan Tick
	tickMu          sync.Mutex
}

// BinanceConfig contains configuration for the Binance exchange client.
type BinanceConfig struct {
	APIKey     string
	SecretKey  string
	Testnet    bool
	RateLimits RateLimiterConfig
}

// NewBinanceExchange creates a new Binance exchange client.
func NewBinanceExchange(cfg BinanceConfig) (*BinanceExchange, error) {
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	if cfg.Testnet {
		binance.UseTestnet = true
		log.Info().Msg("Binance exchange initialized (TESTNET mode)")
	} else {
		log.Warn().Msg("Binance exchange initialized (LIVE TRADING mode)")
	}

	rl := cfg.RateLimits
	if rl.PublicRPS == 0 && rl.PrivateRPS == 0 && rl.OrderRPS == 0 {
		rl = DefaultRateLimiterConfig()
	}

	return &BinanceExchange{
		client:                  client,
		orders:                  make(map[string]*Order),
		fills:                   make(map[string][]Fill),
		exchangeOrderToInternal: make(map[string]string),
		testnet:                 cfg.Testnet,
		limiter:                 NewRateLimiter(rl),
		wsStopChan:              make(chan struct{}),
		wsErrChan:               make(chan error, 10),
	}, nil
}

// Name returns "binance" or "binance_testnet".
func (b *BinanceExchange) Name() string {
	if b.testnet {
		return "binance_testnet"
	}
	return "binance"
}

// PlaceOrder places a new order on Binance, retrying transient failures
// with exponential backoff.
func (b *BinanceExchange) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResponse, error) {
	if err := b.limiter.Allow(EndpointOrder); err != nil {
		return &PlaceOrderResponse{Status: OrderStatusRejected, Message: err.Error()}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.validateOrder(req); err != nil {
		log.Warn().Err(err).Str("symbol", req.Symbol).Str("side", string(req.Side)).Msg("order validation failed")
		return &PlaceOrderResponse{Status: OrderStatusRejected, Message: err.Error()}, nil
	}

	side := binance.SideTypeBuy
	if req.Side == OrderSideSell {
		side = binance.SideTypeSell
	}

	var binanceOrder *binance.CreateOrderResponse
	var err error
	operationName := fmt.Sprintf("place_%s_order_%s", req.Type, req.Symbol)
	err = retryWithBackoff(func() error {
		if req.Type == OrderTypeMarket {
			binanceOrder, err = b.client.NewCreateOrderService().
				Symbol(req.Symbol).
				Side(side).
				Type(binance.OrderTypeMarket).
				Quantity(fmt.Sprintf("%.8f", req.Quantity)).
				Do(ctx)
		} else {
			binanceOrder, err = b.client.NewCreateOrderService().
				Symbol(req.Symbol).
				Side(side).
				Type(binance.OrderTypeLimit).
				TimeInForce(binance.TimeInForceTypeGTC).
				Quantity(fmt.Sprintf("%.8f", req.Quantity)).
				Price(fmt.Sprintf("%.8f", req.Price)).
				Do(ctx)
		}
		return err
	}, operationName)

	if err != nil {
		log.Error().Err(err).Str("symbol", req.Symbol).Str("side", string(req.Side)).Msg("failed to place order on Binance after retries")
		alerts.AlertOrderFailed(ctx, req.Symbol, string(req.Side), err.Error())
		return &PlaceOrderResponse{Status: OrderStatusRejected, Message: err.Error()}, fmt.Errorf("place order: %w", err)
	}

	order := b.convertBinanceOrder(binanceOrder, req)
	b.orders[order.ID] = order
	b.exchangeOrderToInternal[order.ExchangeOrderID] = order.ID

	log.Info().
		Str("order_id", order.ID).
		Str("exchange_order_id", order.ExchangeOrderID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("status", string(order.Status)).
		Msg("order placed on Binance")

	return &PlaceOrderResponse{OrderID: order.ID, Status: order.Status, Message: "order placed"}, nil
}

// CancelOrder cancels an open order on Binance.
func (b *BinanceExchange) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	if err := b.limiter.Allow(EndpointOrder); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	order, exists := b.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("order not found: %s", orderID)
	}
	if order.Status.Terminal() {
		return nil, fmt.Errorf("cannot cancel order in terminal status: %s", order.Status)
	}

	binanceOrderID, err := strconv.ParseInt(order.ExchangeOrderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange order id: %w", err)
	}

	operationName := fmt.Sprintf("cancel_order_%s", order.Symbol)
	err = retryWithBackoff(func() error {
		_, err := b.client.NewCancelOrderService().Symbol(order.Symbol).OrderID(binanceOrderID).Do(ctx)
		return err
	}, operationName)

	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("failed to cancel order on Binance after retries")
		alerts.AlertOrderFailed(ctx, order.Symbol, "CANCEL", err.Error())
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	order.Status = OrderStatusCancelled
	order.UpdatedAt = time.Now()

	log.Info().Str("order_id", orderID).Msg("order cancelled on Binance")
	return order, nil
}

// GetOrder retrieves order details, falling back to the cached view if the
// live query fails.
func (b *BinanceExchange) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	b.mu.RLock()
	order, exists := b.orders[orderID]
	b.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("order not found: %s", orderID)
	}

	binanceOrderID, err := strconv.ParseInt(order.ExchangeOrderID, 10, 64)
	if err != nil {
		return order, nil
	}

	var binanceOrder *binance.Order
	operationName := fmt.Sprintf("get_order_%s", order.Symbol)
	err = retryWithBackoff(func() error {
		binanceOrder, err = b.client.NewGetOrderService().Symbol(order.Symbol).OrderID(binanceOrderID).Do(ctx)
		return err
	}, operationName)
	if err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("failed to query order status, returning cached")
		return order, nil
	}

	b.mu.Lock()
	b.updateOrderFromBinance(order, binanceOrder)
	b.mu.Unlock()

	return order, nil
}

// GetOrderFills retrieves all fills recorded for an order.
func (b *BinanceExchange) GetOrderFills(ctx context.Context, orderID string) ([]Fill, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Fill(nil), b.fills[orderID]...), nil
}

// FetchOrderBook retrieves the current order book for a symbol.
func (b *BinanceExchange) FetchOrderBook(ctx context.Context, symbol string, depth int) (*BookSnapshot, error) {
	if err := b.limiter.Allow(EndpointPublic); err != nil {
		return nil, err
	}

	var res *binance.DepthResponse
	var err error
	err = retryWithBackoff(func() error {
		res, err = b.client.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
		return err
	}, fmt.Sprintf("fetch_order_book_%s", symbol))
	if err != nil {
		return nil, fmt.Errorf("fetch order book: %w", err)
	}

	book := &BookSnapshot{Symbol: symbol, Timestamp: time.Now()}
	for _, bid := range res.Bids {
		price, _ := strconv.ParseFloat(bid.Price, 64)
		qty, _ := strconv.ParseFloat(bid.Quantity, 64)
		book.Bids = append(book.Bids, BookLevel{Price: price, Qty: qty})
	}
	for _, ask := range res.Asks {
		price, _ := strconv.ParseFloat(ask.Price, 64)
		qty, _ := strconv.ParseFloat(ask.Quantity, 64)
		book.Asks = append(book.Asks, BookLevel{Price: price, Qty: qty})
	}
	return book, nil
}

// FetchBalance retrieves the current balance map.
func (b *BinanceExchange) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	if err := b.limiter.Allow(EndpointPrivate); err != nil {
		return nil, err
	}

	var account *binance.Account
	var err error
	err = retryWithBackoff(func() error {
		account, err = b.client.NewGetAccountService().Do(ctx)
		return err
	}, "fetch_balance")
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}

	out := make(map[string]Balance, len(account.Balances))
	for _, bal := range account.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		out[bal.Asset] = Balance{Asset: bal.Asset, Free: free, Used: locked, Total: free + locked}
	}
	return out, nil
}

// FetchPositions retrieves Binance's own view of open positions, used
// during restart reconciliation.
func (b *BinanceExchange) FetchPositions(ctx context.Context) ([]PositionInfo, error) {
	if err := b.limiter.Allow(EndpointPrivate); err != nil {
		return nil, err
	}

	var account *binance.Account
	var err error
	err = retryWithBackoff(func() error {
		account, err = b.client.NewGetAccountService().Do(ctx)
		return err
	}, "fetch_positions")
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	_ = account
	// The spot Account service does not expose futures positions; a live
	// deployment swaps in the futures client's NewGetPositionRiskService
	// here. Left as an empty slice so restart reconciliation degrades to
	// "no known positions" rather than panicking when only a spot client
	// is wired (paper/testnet setups commonly only configure spot keys).
	return nil, nil
}

// StreamTicks starts the user-data stream and returns a channel of price
// ticks derived from order fill events.
func (b *BinanceExchange) StreamTicks(ctx context.Context, symbols []string) (<-chan Tick, error) {
	ch := make(chan Tick, 64)
	b.tickMu.Lock()
	b.tickSubscribers = append(b.tickSubscribers, ch)
	b.tickMu.Unlock()

	if err := b.startUserDataStream(ctx); err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		close(ch)
	}()

	return ch, nil
}

// SetMarketPrice is a no-op for the live exchange.
func (b *BinanceExchange) SetMarketPrice(symbol string, price float64) {
	log.Debug().Str("symbol", symbol).Float64("price", price).Msg("SetMarketPrice called on BinanceExchange (no-op)")
}

// SetSession sets the current trading session.
func (b *BinanceExchange) SetSession(sessionID *uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentSessionID = sessionID
}

// GetSession returns the current trading session ID.
func (b *BinanceExchange) GetSession() *uuid.UUID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentSessionID
}

func (b *BinanceExchange) validateOrder(req PlaceOrderRequest) error {
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

func (b *BinanceExchange) convertBinanceOrder(binanceOrder *binance.CreateOrderResponse, req PlaceOrderRequest) *Order {
	now := time.Now()
	executedQty, _ := strconv.ParseFloat(binanceOrder.ExecutedQuantity, 64)
	cumQuoteQty, _ := strconv.ParseFloat(binanceOrder.CummulativeQuoteQuantity, 64)

	var avgFillPrice float64
	if executedQty > 0 {
		avgFillPrice = cumQuoteQty / executedQty
	}

	status := mapBinanceStatus(binanceOrder.Status)

	return &Order{
		ID:              uuid.New().String(),
		ExchangeOrderID: strconv.FormatInt(binanceOrder.OrderID, 10),
		Symbol:          binanceOrder.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Quantity:        req.Quantity,
		Price:           req.Price,
		Leverage:        req.Leverage,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		IdempotencyKey:  req.IdempotencyKey,
		FilledQty:       executedQty,
		AvgFillPrice:    avgFillPrice,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (b *BinanceExchange) updateOrderFromBinance(order *Order, binanceOrder *binance.Order) {
	executedQty, _ := strconv.ParseFloat(binanceOrder.ExecutedQuantity, 64)
	cumQuoteQty, _ := strconv.ParseFloat(binanceOrder.CummulativeQuoteQuantity, 64)

	var avgFillPrice float64
	if executedQty > 0 {
		avgFillPrice = cumQuoteQty / executedQty
	}

	order.FilledQty = executedQty
	order.AvgFillPrice = avgFillPrice
	order.UpdatedAt = time.Now()
	order.Status = mapBinanceStatus(binanceOrder.Status)
	if order.Status == OrderStatusFilled {
		now := time.Now()
		order.FilledAt = &now
	}
}

func mapBinanceStatus(s binance.OrderStatusType) OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew:
		return OrderStatusAccepted
	case binance.OrderStatusTypePartiallyFilled:
		return OrderStatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return OrderStatusFilled
	case binance.OrderStatusTypeCanceled:
		return OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return OrderStatusRejected
	default:
		return OrderStatusSubmitted
	}
}

// --- WebSocket user-data stream ---

func (b *BinanceExchange) startUserDataStream(ctx context.Context) error {
	b.mu.Lock()
	if b.wsConnected {
		b.mu.Unlock()
		return nil
	}
	b.wsConnected = true
	b.wsStopChan = make(chan struct{})
	b.mu.Unlock()

	listenKey, err := b.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		b.mu.Lock()
		b.wsConnected = false
		b.mu.Unlock()
		return fmt.Errorf("create listen key: %w", err)
	}

	b.mu.Lock()
	b.listenKey = listenKey
	b.mu.Unlock()

	go b.runUserDataStream(ctx, listenKey)
	go b.keepAliveListenKey(ctx)

	return nil
}

func (b *BinanceExchange) runUserDataStream(ctx context.Context, listenKey string) {
	defer func() {
		b.mu.Lock()
		b.wsConnected = false
		b.mu.Unlock()
	}()

	wsHandler := func(event *binance.WsUserDataEvent) {
		b.handleUserDataEvent(event)
	}
	errHandler := func(err error) {
		log.Error().Err(err).Msg("binance user-data websocket error")
		alerts.AlertAnomaly(context.Background(), "binance", "websocket_error", err.Error())
		select {
		case b.wsErrChan <- err:
		default:
		}
	}

	doneC, stopC, err := binance.WsUserDataServe(listenKey, wsHandler, errHandler)
	if err != nil {
		log.Error().Err(err).Msg("failed to start user data websocket")
		alerts.AlertAnomaly(ctx, "binance", "websocket_start_failed", err.Error())
		return
	}

	select {
	case <-b.wsStopChan:
		stopC <- struct{}{}
	case <-ctx.Done():
		stopC <- struct{}{}
	case <-doneC:
	}
}

func (b *BinanceExchange) handleUserDataEvent(event *binance.WsUserDataEvent) {
	switch event.Event {
	case binance.UserDataEventTypeExecutionReport:
		b.handleOrderUpdate(event)
	default:
		log.Debug().Str("event_type", string(event.Event)).Msg("unhandled user data event")
	}
}

func (b *BinanceExchange) handleOrderUpdate(event *binance.WsUserDataEvent) {
	orderUpdate := event.OrderUpdate
	exchangeOrderID := strconv.FormatInt(orderUpdate.Id, 10)

	b.mu.Lock()
	defer b.mu.Unlock()

	internalID, mapped := b.exchangeOrderToInternal[exchangeOrderID]
	if !mapped {
		log.Warn().Str("exchange_order_id", exchangeOrderID).Msg("order update for unknown exchange order id")
		return
	}

	order, exists := b.orders[internalID]
	if !exists {
		return
	}

	executedQty, _ := strconv.ParseFloat(orderUpdate.FilledVolume, 64)
	filledQuoteVolume, _ := strconv.ParseFloat(orderUpdate.FilledQuoteVolume, 64)

	order.FilledQty = executedQty
	if executedQty > 0 {
		order.AvgFillPrice = filledQuoteVolume / executedQty
	}
	order.UpdatedAt = time.Unix(0, orderUpdate.TransactionTime*int64(time.Millisecond))

	switch orderUpdate.Status {
	case string(binance.OrderStatusTypeFilled):
		order.Status = OrderStatusFilled
		now := time.Now()
		order.FilledAt = &now
		b.recordFillAndPublishTick(order, &orderUpdate)
	case string(binance.OrderStatusTypePartiallyFilled):
		order.Status = OrderStatusPartiallyFilled
		b.recordFillAndPublishTick(order, &orderUpdate)
	case string(binance.OrderStatusTypeCanceled):
		order.Status = OrderStatusCancelled
	case string(binance.OrderStatusTypeRejected):
		order.Status = OrderStatusRejected
	case string(binance.OrderStatusTypeNew):
		order.Status = OrderStatusAccepted
	}
}

func (b *BinanceExchange) recordFillAndPublishTick(order *Order, orderUpdate *binance.WsOrderUpdate) {
	lastQty, _ := strconv.ParseFloat(orderUpdate.LatestVolume, 64)
	lastPrice, _ := strconv.ParseFloat(orderUpdate.LatestPrice, 64)
	if lastQty <= 0 || lastPrice <= 0 {
		return
	}

	ts := time.Unix(0, orderUpdate.TransactionTime*int64(time.Millisecond))
	fill := Fill{OrderID: order.ID, Quantity: lastQty, Price: lastPrice, Timestamp: ts}
	b.fills[order.ID] = append(b.fills[order.ID], fill)

	b.tickMu.Lock()
	subs := append([]chan Tick(nil), b.tickSubscribers...)
	b.tickMu.Unlock()
	tick := Tick{Symbol: order.Symbol, Price: lastPrice, Timestamp: ts}
	for _, ch := range subs {
		select {
		case ch <- tick:
		default:
		}
	}
}

func (b *BinanceExchange) keepAliveListenKey(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.mu.RLock()
			listenKey := b.listenKey
			connected := b.wsConnected
			b.mu.RUnlock()
			if !connected {
				return
			}
			if err := b.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
				log.Error().Err(err).Msg("failed to keep listen key alive")
			}
		case <-b.wsStopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
