package exchange

import "time"

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents market or limit order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus models the per-order state machine:
//
//	Created -> Submitted -> Accepted -> PartiallyFilled* -> Filled | Cancelled | Rejected
//
// Submitted may also go straight to Rejected; PartiallyFilled never
// returns to Accepted.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status is one of the three terminal states
// (Filled, Cancelled, Rejected). Reaching one emits no event; exchange
// clients have no per-order event channel.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// validTransitions enumerates the edges of the order state machine.
var validTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusCreated:         {OrderStatusSubmitted: true},
	OrderStatusSubmitted:       {OrderStatusAccepted: true, OrderStatusRejected: true},
	OrderStatusAccepted:        {OrderStatusPartiallyFilled: true, OrderStatusFilled: true, OrderStatusCancelled: true, OrderStatusRejected: true},
	OrderStatusPartiallyFilled: {OrderStatusPartiallyFilled: true, OrderStatusFilled: true, OrderStatusCancelled: true},
}

// ValidTransition reports whether moving from `from` to `to` is legal.
func ValidTransition(from, to OrderStatus) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Order represents a trading order tracked by the exchange client.
type Order struct {
	ID              string      `json:"id"`
	ExchangeOrderID string      `json:"exchange_order_id,omitempty"`
	Symbol          string      `json:"symbol"`
	Side            OrderSide   `json:"side"`
	Type            OrderType   `json:"type"`
	Quantity        float64     `json:"quantity"`
	Price           float64     `json:"price,omitempty"`
	Leverage        int         `json:"leverage,omitempty"`
	StopLoss        *float64    `json:"stop_loss,omitempty"`
	TakeProfit      *float64    `json:"take_profit,omitempty"`
	ReduceOnly      bool        `json:"reduce_only,omitempty"`
	IdempotencyKey  string      `json:"idempotency_key,omitempty"`
	FilledQty       float64     `json:"filled_qty"`
	AvgFillPrice    float64     `json:"avg_fill_price,omitempty"`
	Status          OrderStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	FilledAt        *time.Time  `json:"filled_at,omitempty"`
	RejectReason    string      `json:"reject_reason,omitempty"`
}

// FillFraction returns FilledQty/Quantity, 0 if Quantity is 0.
func (o Order) FillFraction() float64 {
	if o.Quantity == 0 {
		return 0
	}
	return o.FilledQty / o.Quantity
}

// Fill represents a partial or complete order fill.
type Fill struct {
	OrderID   string    `json:"order_id"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	Timestamp time.Time `json:"timestamp"`
}

// PlaceOrderRequest represents a request to place an order. IdempotencyKey
// is a client-generated `(position_id, attempt)` token; the exchange
// client must treat resubmission of the same key as safe.
type PlaceOrderRequest struct {
	Symbol         string    `json:"symbol"`
	Side           OrderSide `json:"side"`
	Type           OrderType `json:"type"`
	Quantity       float64   `json:"quantity"`
	Price          float64   `json:"price,omitempty"`
	Leverage       int       `json:"leverage,omitempty"`
	StopLoss       *float64  `json:"stop_loss,omitempty"`
	TakeProfit     *float64  `json:"take_profit,omitempty"`
	ReduceOnly     bool      `json:"reduce_only,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// PlaceOrderResponse represents the response after placing an order.
type PlaceOrderResponse struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// Balance is one asset's free/used/total balance on an exchange.
type Balance struct {
	Asset string
	Free  float64
	Used  float64
	Total float64
}

// PositionInfo is the exchange's own view of an open position, used during
// restart reconciliation.
type PositionInfo struct {
	Symbol       string
	Side         OrderSide
	Quantity     float64
	EntryPrice   float64
	MarkPrice    float64
	Leverage     int
	UnrealizedPnL float64
}

// Tick is a single price update consumed by the Order Manager's
// on_price_tick path.
type Tick struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// BookLevel is one (price, qty) level of an order book snapshot as
// reported by the exchange, before conversion to domain.PriceLevel.
type BookLevel struct {
	Price float64
	Qty   float64
}

// BookSnapshot is the exchange-client-local order book representation.
type BookSnapshot struct {
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}
