// Package arbitrage implements the Arbitrage Detector: a periodic
// cross-exchange spread scanner and an optional hedge-concurrency
// execution path.
package arbitrage

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/fluxengine/internal/domain"
	"github.com/ajitpratap0/fluxengine/internal/exchange"
)

// Documented defaults for arbitrage scanning.
const (
	DefaultPollInterval    = 5 * time.Second
	DefaultSlippageReserve = 0.0005
	DefaultMinSpread       = 0.0015
)

// Config holds the per-symbol arbitrage tunables: enabled, poll interval,
// minimum spread, max notional, and slippage reserve.
type Config struct {
	Enabled         bool
	PollInterval    time.Duration
	MinSpread       float64
	MaxNotional     float64
	SlippageReserve float64
	RoundTripFees   float64
}

// DefaultConfig returns the documented defaults with execution disabled
// (paper-mode default).
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		PollInterval:    DefaultPollInterval,
		MinSpread:       DefaultMinSpread,
		SlippageReserve: DefaultSlippageReserve,
	}
}

// quote is one exchange's best bid/ask for a symbol.
type quote struct {
	exchangeID string
	bestBid    float64
	bestAsk    float64
}

// Synced reports whether both legs of a prospective trade are in a
// reconciled state (syncmgr.Manager satisfies this).
type Synced func(exchangeID string) bool

// Detector scans configured symbols for cross-exchange spreads.
type Detector struct {
	cfg     Config
	clients map[string]exchange.Exchange
	synced  Synced

	onOpportunity func(domain.ArbitrageOpportunity)
	onExecuted    func(domain.ArbitrageOpportunity, RealizedLegs)
}

// RealizedLegs reports which side(s) of a two-leg execution actually
// filled, for the ArbitrageExecuted event payload.
type RealizedLegs struct {
	BuyFilled  bool
	SellFilled bool
	RolledBack bool
}

// NewDetector constructs a Detector. onOpportunity/onExecuted are
// optional event hooks for the outbound ArbitrageOpportunity and
// ArbitrageExecuted events.
func NewDetector(cfg Config, synced Synced, onOpportunity func(domain.ArbitrageOpportunity), onExecuted func(domain.ArbitrageOpportunity, RealizedLegs)) *Detector {
	return &Detector{cfg: cfg, clients: make(map[string]exchange.Exchange), synced: synced, onOpportunity: onOpportunity, onExecuted: onExecuted}
}

// Register adds an exchange client to the scan set.
func (d *Detector) Register(exchangeID string, client exchange.Exchange) {
	d.clients[exchangeID] = client
}

// Run polls configured symbols at cfg.PollInterval until ctx is cancelled.
// On shutdown the arbitrage detector stops emitting new opportunities.
func (d *Detector) Run(ctx context.Context, symbols []domain.Symbol) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range symbols {
				d.scan(ctx, s)
			}
		}
	}
}

// scan implements steps 1-4: gather best bid/ask across exchanges, take
// the best cross-exchange spread, subtract fees and slippage reserve, and
// emit an opportunity if net spread clears min_spread.
func (d *Detector) scan(ctx context.Context, symbol domain.Symbol) {
	quotes := d.fetchQuotes(ctx, symbol)
	if len(quotes) < 2 {
		return
	}

	opp, ok := bestOpportunity(symbol, quotes, d.cfg.RoundTripFees+d.cfg.SlippageReserve, d.cfg.MinSpread)
	if !ok {
		return
	}

	log.Info().
		Str("symbol", string(symbol)).
		Str("buy_on", opp.BuyExchange).
		Str("sell_on", opp.SellExchange).
		Float64("spread_pct", opp.SpreadPct).
		Msg("arbitrage opportunity detected")

	if d.onOpportunity != nil {
		d.onOpportunity(opp)
	}

	if d.cfg.Enabled {
		d.execute(ctx, opp)
	}
}

func (d *Detector) fetchQuotes(ctx context.Context, symbol domain.Symbol) []quote {
	quotes := make([]quote, 0, len(d.clients))
	for id, client := range d.clients {
		book, err := client.FetchOrderBook(ctx, string(symbol), 1)
		if err != nil || book == nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
			continue
		}
		quotes = append(quotes, quote{exchangeID: id, bestBid: book.Bids[0].Price, bestAsk: book.Asks[0].Price})
	}
	return quotes
}

// bestOpportunity finds the pair (X, Y), X != Y, maximizing
// (bid_X - ask_Y) / ask_Y net of fees, and reports it if it clears
// minSpread.
func bestOpportunity(symbol domain.Symbol, quotes []quote, totalFees, minSpread float64) (domain.ArbitrageOpportunity, bool) {
	var best domain.ArbitrageOpportunity
	var bestNet float64
	found := false

	for _, sell := range quotes {
		for _, buy := range quotes {
			if sell.exchangeID == buy.exchangeID {
				continue
			}
			spreadPct := (sell.bestBid - buy.bestAsk) / buy.bestAsk
			net := spreadPct - totalFees
			if net <= minSpread {
				continue
			}
			if !found || net > bestNet {
				best = domain.ArbitrageOpportunity{
					Symbol:          symbol,
					BuyExchange:     buy.exchangeID,
					SellExchange:    sell.exchangeID,
					BuyPrice:        buy.bestAsk,
					SellPrice:       sell.bestBid,
					SpreadPct:       net,
					EstimatedProfit: net * buy.bestAsk,
					ExpiresAt:       time.Now().Add(2 * time.Second),
				}
				bestNet = net
				found = true
			}
		}
	}
	return best, found
}

// execute implements the optional hedge-concurrency execution path:
// both legs require their exchange to be in a synced state, size is
// capped by available balance and max_arb_notional, and both orders are
// submitted in parallel.
func (d *Detector) execute(ctx context.Context, opp domain.ArbitrageOpportunity) {
	if d.synced != nil && (!d.synced(opp.BuyExchange) || !d.synced(opp.SellExchange)) {
		log.Warn().Str("symbol", string(opp.Symbol)).Msg("arbitrage execution skipped: leg exchange not synced")
		return
	}

	buyClient, ok1 := d.clients[opp.BuyExchange]
	sellClient, ok2 := d.clients[opp.SellExchange]
	if !ok1 || !ok2 {
		return
	}

	size := d.sizeFor(ctx, opp, buyClient, sellClient)
	if size <= 0 {
		return
	}

	var buyResp, sellResp *exchange.PlaceOrderResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := buyClient.PlaceOrder(gctx, exchange.PlaceOrderRequest{
			Symbol: string(opp.Symbol), Side: exchange.OrderSideBuy, Type: exchange.OrderTypeMarket, Quantity: size,
		})
		buyResp = resp
		return err
	})
	g.Go(func() error {
		resp, err := sellClient.PlaceOrder(gctx, exchange.PlaceOrderRequest{
			Symbol: string(opp.Symbol), Side: exchange.OrderSideSell, Type: exchange.OrderTypeMarket, Quantity: size,
		})
		sellResp = resp
		return err
	})
	_ = g.Wait() // individual leg failures are inspected below, not propagated as a combined error

	buyFilled := buyResp != nil && buyResp.Status == exchange.OrderStatusFilled
	sellFilled := sellResp != nil && sellResp.Status == exchange.OrderStatusFilled

	legs := RealizedLegs{BuyFilled: buyFilled, SellFilled: sellFilled}

	switch {
	case buyFilled && sellFilled:
		log.Info().Str("symbol", string(opp.Symbol)).Msg("arbitrage executed: both legs filled")
	case buyFilled && !sellFilled:
		d.rollback(ctx, buyClient, opp.Symbol, exchange.OrderSideSell, size)
		legs.RolledBack = true
	case sellFilled && !buyFilled:
		d.rollback(ctx, sellClient, opp.Symbol, exchange.OrderSideBuy, size)
		legs.RolledBack = true
	}

	if d.onExecuted != nil {
		d.onExecuted(opp, legs)
	}
}

// rollback closes the lone filled leg at market with exit_reason
// ArbitrageLegFailed; PnL on the rollback is attributed to the arbitrage
// subsystem, never to the trading executor.
func (d *Detector) rollback(ctx context.Context, client exchange.Exchange, symbol domain.Symbol, closeSide exchange.OrderSide, size float64) {
	_, err := client.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol: string(symbol), Side: closeSide, Type: exchange.OrderTypeMarket, Quantity: size, ReduceOnly: true,
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", string(symbol)).Msg("arbitrage rollback leg failed")
	}
}

// sizeFor caps the hedge size at the minimum of: available quote balance
// on the sell exchange divided by the ask, available base balance on the
// buy exchange divided by the ask, and the configured max notional. A
// max_arb_notional larger than either leg can actually fill would
// otherwise submit an order neither exchange can satisfy.
func (d *Detector) sizeFor(ctx context.Context, opp domain.ArbitrageOpportunity, buyClient, sellClient exchange.Exchange) float64 {
	size := d.cfg.MaxNotional / opp.BuyPrice

	base, quote := splitSymbol(opp.Symbol)

	if sellBal, err := sellClient.FetchBalance(ctx); err == nil {
		if bal, ok := sellBal[quote]; ok {
			size = math.Min(size, bal.Free/opp.BuyPrice)
		}
	} else {
		log.Warn().Err(err).Str("exchange", opp.SellExchange).Msg("arbitrage sizing: sell-leg balance fetch failed, relying on max_arb_notional alone for that term")
	}

	if buyBal, err := buyClient.FetchBalance(ctx); err == nil {
		if bal, ok := buyBal[base]; ok {
			size = math.Min(size, bal.Free/opp.BuyPrice)
		}
	} else {
		log.Warn().Err(err).Str("exchange", opp.BuyExchange).Msg("arbitrage sizing: buy-leg balance fetch failed, relying on max_arb_notional alone for that term")
	}

	return math.Max(size, 0)
}

// splitSymbol separates a Binance-style concatenated pair (e.g. "BTCUSDT")
// into its base and quote assets. Every symbol this engine trades is
// USDT-quoted (see internal/market.coinIDFor for the same assumption).
func splitSymbol(symbol domain.Symbol) (base, quote string) {
	s := string(symbol)
	if strings.HasSuffix(s, "USDT") {
		return strings.TrimSuffix(s, "USDT"), "USDT"
	}
	return s, "USDT"
}
