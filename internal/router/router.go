// Package router implements the Multi-Exchange Manager: a single
// ExchangeRouter façade over a keyed collection of exchange.Exchange
// clients, with symbol normalization, health tracking, and best-quote /
// best-execution routing.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/fluxengine/internal/exchange"
)

// StalenessThreshold is the max order-book age still considered live for
// get_best_quote.
const StalenessThreshold = 2 * time.Second

// DegradedAfterErrors is the consecutive-error count that marks a client
// degraded.
const DegradedAfterErrors = 3

// Quote is the best available bid/ask for a symbol across every connected,
// non-stale exchange.
type Quote struct {
	Symbol       string
	Exchange     string
	BestBid      float64
	BestAsk      float64
	AsOf         time.Time
}

// clientState tracks one exchange client's health and symbol mapping.
type clientState struct {
	client          exchange.Exchange
	consecutiveErrs int
	degraded        bool
	lastBookAt      map[string]time.Time
	symbolMap       map[string]string // canonical -> exchange-specific rendering
}

// LatencySource resolves the lowest-latency candidate exchange for an
// endpoint, implemented by internal/latency.
type LatencySource interface {
	BestOf(endpoint string, candidates []string) (string, bool)
}

// Router is the ExchangeRouter façade.
type Router struct {
	mu      sync.RWMutex
	clients map[string]*clientState
	latency LatencySource
}

// New constructs an empty Router. Clients are registered via Register.
func New(latency LatencySource) *Router {
	return &Router{
		clients: make(map[string]*clientState),
		latency: latency,
	}
}

// Register adds an exchange client under exchangeID with an optional
// canonical-to-native symbol map (nil means symbols pass through
// unchanged).
func (r *Router) Register(exchangeID string, client exchange.Exchange, symbolMap map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[exchangeID] = &clientState{
		client:     client,
		lastBookAt: make(map[string]time.Time),
		symbolMap:  symbolMap,
	}
	log.Info().Str("exchange", exchangeID).Msg("exchange client registered with router")
}

// nativeSymbol renders the canonical symbol into the exchange's own
// spelling, defaulting to an identity mapping.
func (cs *clientState) nativeSymbol(symbol string) string {
	if cs.symbolMap == nil {
		return symbol
	}
	if native, ok := cs.symbolMap[symbol]; ok {
		return native
	}
	return symbol
}

// recordResult updates a client's consecutive-error / degraded state.
func (r *Router) recordResult(exchangeID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.clients[exchangeID]
	if !ok {
		return
	}
	if err != nil {
		cs.consecutiveErrs++
		if cs.consecutiveErrs >= DegradedAfterErrors && !cs.degraded {
			cs.degraded = true
			log.Warn().Str("exchange", exchangeID).Int("errors", cs.consecutiveErrs).Msg("exchange client marked degraded")
		}
		return
	}
	cs.consecutiveErrs = 0
	if cs.degraded {
		cs.degraded = false
		log.Info().Str("exchange", exchangeID).Msg("exchange client recovered from degraded state")
	}
}

// Healthy returns the exchange ids that are not currently degraded.
func (r *Router) Healthy() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, cs := range r.clients {
		if !cs.degraded {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// GetBestQuote returns the tightest bid/ask for symbol across every
// exchange that is connected (not degraded) and whose book age is within
// StalenessThreshold.
func (r *Router) GetBestQuote(ctx context.Context, symbol string) (*Quote, error) {
	r.mu.RLock()
	candidates := make(map[string]*clientState, len(r.clients))
	for id, cs := range r.clients {
		if !cs.degraded {
			candidates[id] = cs
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, fmt.Errorf("router: no healthy exchange clients registered")
	}

	var best *Quote
	for id, cs := range candidates {
		native := cs.nativeSymbol(symbol)
		book, err := cs.client.FetchOrderBook(ctx, native, 1)
		r.recordResult(id, err)
		if err != nil || book == nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
			continue
		}

		r.mu.Lock()
		cs.lastBookAt[symbol] = book.Timestamp
		r.mu.Unlock()

		if time.Since(book.Timestamp) > StalenessThreshold {
			continue
		}

		q := &Quote{Symbol: symbol, Exchange: id, BestBid: book.Bids[0].Price, BestAsk: book.Asks[0].Price, AsOf: book.Timestamp}
		if best == nil || (q.BestAsk-q.BestBid) < (best.BestAsk-best.BestBid) {
			best = q
		}
	}

	if best == nil {
		return nil, fmt.Errorf("router: no live quote available for %s", symbol)
	}
	return best, nil
}

// PlaceOn routes req to the named exchange.
func (r *Router) PlaceOn(ctx context.Context, exchangeID string, req exchange.PlaceOrderRequest) (*exchange.PlaceOrderResponse, error) {
	r.mu.RLock()
	cs, ok := r.clients[exchangeID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("router: unknown exchange %q", exchangeID)
	}

	req.Symbol = cs.nativeSymbol(req.Symbol)
	resp, err := cs.client.PlaceOrder(ctx, req)
	r.recordResult(exchangeID, err)
	return resp, err
}

// PlaceBest chooses the lowest-EWMA-latency healthy exchange with
// sufficient free balance for the order and routes to it.
func (r *Router) PlaceBest(ctx context.Context, req exchange.PlaceOrderRequest, minFreeBalance float64) (string, *exchange.PlaceOrderResponse, error) {
	healthy := r.Healthy()
	if len(healthy) == 0 {
		return "", nil, fmt.Errorf("router: no healthy exchange clients")
	}

	var eligible []string
	for _, id := range healthy {
		r.mu.RLock()
		cs := r.clients[id]
		r.mu.RUnlock()

		balances, err := cs.client.FetchBalance(ctx)
		r.recordResult(id, err)
		if err != nil {
			continue
		}
		if sufficientFreeBalance(balances, minFreeBalance) {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return "", nil, fmt.Errorf("router: no exchange has sufficient free balance")
	}

	chosen := eligible[0]
	if r.latency != nil {
		if best, ok := r.latency.BestOf("place_order", eligible); ok {
			chosen = best
		}
	}

	resp, err := r.PlaceOn(ctx, chosen, req)
	return chosen, resp, err
}

func sufficientFreeBalance(balances map[string]exchange.Balance, min float64) bool {
	if len(balances) == 0 {
		// Paper-trading mocks don't model an account balance; treat as
		// always-eligible rather than silently excluding them from routing.
		return true
	}
	for _, b := range balances {
		if b.Free >= min {
			return true
		}
	}
	return false
}
