package exchange

import (
	"context"

	"github.com/google/uuid"
)

// Exchange defines the capability interface every exchange implementation
// satisfies: authenticated REST/WS access to one exchange for order
// placement, cancellation, balance, order-book and position queries.
// Both MockExchange (paper trading) and BinanceExchange (live trading)
// implement it; the router holds a polymorphic collection of these keyed
// by exchange id.
type Exchange interface {
	// PlaceOrder places a new order and blocks until an Ack or a terminal
	// rejection is known (or ctx's deadline elapses).
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResponse, error)

	// CancelOrder cancels an existing order.
	CancelOrder(ctx context.Context, orderID string) (*Order, error)

	// GetOrder retrieves order details.
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// GetOrderFills retrieves all fills for an order.
	GetOrderFills(ctx context.Context, orderID string) ([]Fill, error)

	// FetchOrderBook retrieves the current book for a symbol to the
	// requested depth.
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*BookSnapshot, error)

	// FetchBalance retrieves the current balance map.
	FetchBalance(ctx context.Context) (map[string]Balance, error)

	// FetchPositions retrieves the exchange's own view of open positions,
	// used for restart reconciliation.
	FetchPositions(ctx context.Context) ([]PositionInfo, error)

	// StreamTicks starts streaming price ticks for the given symbols onto
	// the returned channel. The channel is closed when ctx is cancelled or
	// the stream terminates.
	StreamTicks(ctx context.Context, symbols []string) (<-chan Tick, error)

	// SetMarketPrice sets the current market price for a symbol (mock
	// exchange only; a no-op on live exchanges).
	SetMarketPrice(symbol string, price float64)

	// SetSession sets the current trading session.
	SetSession(sessionID *uuid.UUID)

	// GetSession returns the current trading session ID.
	GetSession() *uuid.UUID

	// Name returns the exchange id this client was constructed for.
	Name() string
}
