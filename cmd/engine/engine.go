// Package main wires every core component into a single long-running
// process: the engine binary.
package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/fluxengine/internal/alerts"
	"github.com/ajitpratap0/fluxengine/internal/arbitrage"
	"github.com/ajitpratap0/fluxengine/internal/config"
	"github.com/ajitpratap0/fluxengine/internal/control"
	"github.com/ajitpratap0/fluxengine/internal/domain"
	"github.com/ajitpratap0/fluxengine/internal/exchange"
	"github.com/ajitpratap0/fluxengine/internal/executor"
	"github.com/ajitpratap0/fluxengine/internal/latency"
	"github.com/ajitpratap0/fluxengine/internal/market"
	"github.com/ajitpratap0/fluxengine/internal/metrics"
	"github.com/ajitpratap0/fluxengine/internal/position"
	"github.com/ajitpratap0/fluxengine/internal/predict"
	"github.com/ajitpratap0/fluxengine/internal/risk"
	"github.com/ajitpratap0/fluxengine/internal/router"
	"github.com/ajitpratap0/fluxengine/internal/syncmgr"
)

// shutdownDeadline bounds the whole graceful-shutdown sequence: past
// this, remaining work is abandoned rather than blocking exit.
const shutdownDeadline = 30 * time.Second

// Engine owns every wired component and the goroutines driving them.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	exchanges       map[string]exchange.Exchange
	primaryExchange string

	router         *router.Router
	latencyTracker *latency.Tracker
	syncManager    *syncmgr.Manager
	circuitMgr     *risk.CircuitBreakerManager
	emergency      *risk.EmergencyBreaker

	positionMgrs map[string]*position.Manager
	accounts     *accountTracker
	prices       *priceBook

	gateway   *predict.Gateway
	executors map[domain.Symbol]*executor.SymbolExecutor

	arbDetector *arbitrage.Detector

	dispatcher *control.Dispatcher
	natsBridge *control.NATSBridge
	audit      control.AuditSink
	alertMgr   *alerts.Manager
	commands   chan control.Command
	events     chan control.Event

	metricsServer *metrics.Server

	mode    atomic.Value // control.Mode
	closing atomic.Bool
}

// NewEngine wires every component per cfg. A non-nil error here is always
// fatal at startup (exit code 3, see main.go).
func NewEngine(cfg *config.Config, log zerolog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:          cfg,
		log:          log,
		exchanges:    make(map[string]exchange.Exchange),
		positionMgrs: make(map[string]*position.Manager),
		executors:    make(map[domain.Symbol]*executor.SymbolExecutor),
		commands:     make(chan control.Command, 32),
		events:       make(chan control.Event, 256),
		prices:       newPriceBook(),
	}
	e.mode.Store(startingMode(cfg.Mode))

	if err := e.buildExchanges(); err != nil {
		return nil, fmt.Errorf("engine: build exchanges: %w", err)
	}

	e.latencyTracker = latency.NewTracker()
	e.router = router.New(e.latencyTracker)
	e.syncManager = syncmgr.NewManager(e.onAnomaly)
	for id, client := range e.exchanges {
		e.router.Register(id, client, nil)
		e.latencyTracker.Register(id, client)
		e.syncManager.Register(id, client)
		e.positionMgrs[id] = position.NewManager(client, e.onPositionOpened, e.onPositionClosed)
	}

	e.circuitMgr = risk.NewCircuitBreakerManager()
	e.emergency = &risk.EmergencyBreaker{}
	e.accounts = newAccountTracker(cfg.Risk.MinBalance)

	marketData, predictor, err := e.buildPredictStack()
	if err != nil {
		return nil, fmt.Errorf("engine: build prediction stack: %w", err)
	}
	e.gateway = predict.NewGateway(marketData, predictor, func() string { return uuid.New().String() })

	if err := e.buildExecutors(); err != nil {
		return nil, fmt.Errorf("engine: build executors: %w", err)
	}

	e.arbDetector = e.buildArbitrageDetector()

	e.audit = control.NewLogAuditSink(log)
	if cfg.NATS.URL != "" {
		bridge, err := control.NewNATSBridge(cfg.NATS.URL, cfg.NATS.Topic)
		if err != nil {
			e.log.Warn().Err(err).Msg("control bus: NATS unavailable, outbound events stay local")
		} else {
			e.natsBridge = bridge
		}
	}
	e.dispatcher = control.NewDispatcher(e.buildHandlers())
	e.alertMgr = e.buildAlertManager()

	if cfg.Monitoring.EnableMetrics {
		e.metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, cfg.App.Version, log)
	}

	return e, nil
}

// buildAlertManager always wires the log/console alerters; Telegram joins
// the chain only when a bot token is configured, so a missing token never
// blocks startup.
func (e *Engine) buildAlertManager() *alerts.Manager {
	chain := []alerts.Alerter{alerts.NewLogAlerter(), alerts.NewConsoleAlerter()}

	if e.cfg.Alerting.TelegramBotToken != "" {
		tg, err := alerts.NewTelegramAlerter(e.cfg.Alerting.TelegramBotToken, e.cfg.Alerting.TelegramChatIDs)
		if err != nil {
			e.log.Warn().Err(err).Msg("telegram alerter unavailable, falling back to log/console only")
		} else {
			chain = append(chain, tg)
		}
	}

	mgr := alerts.NewManager(chain...)
	alerts.SetDefaultManager(mgr) // AlertOrderFailed/AlertCircuitBreaker/AlertAnomaly dispatch through this
	return mgr
}

func startingMode(mode string) control.Mode {
	switch mode {
	case "live":
		return control.ModeLive
	case "hft":
		return control.ModeHFT
	case "arbitrage_only":
		return control.ModeArbitrageOnly
	default:
		return control.ModePaper
	}
}

// buildExchanges constructs one exchange.Exchange per configured entry.
// Paper and arbitrage_only modes use MockExchange so the engine never
// touches a real account without live/hft explicitly selected; every
// other mode dials the real Binance client.
func (e *Engine) buildExchanges() error {
	for i, ex := range e.cfg.Exchanges {
		var client exchange.Exchange
		if e.cfg.Mode == "live" || e.cfg.Mode == "hft" {
			apiKey := ex.CredentialsOpaque["api_key"]
			secretKey := ex.CredentialsOpaque["secret_key"]
			if apiKey == "" || secretKey == "" {
				return fmt.Errorf("exchange %q: live mode requires api_key and secret_key credentials", ex.ID)
			}
			binanceClient, err := exchange.NewBinanceExchange(exchange.BinanceConfig{
				APIKey:     apiKey,
				SecretKey:  secretKey,
				Testnet:    ex.Testnet,
				RateLimits: exchange.DefaultRateLimiterConfig(),
			})
			if err != nil {
				return fmt.Errorf("exchange %q: %w", ex.ID, err)
			}
			client = binanceClient
		} else {
			client = exchange.NewMockExchangeWithFees(ex.ID, exchange.FeeConfig{
				Maker:        ex.Fees.Maker,
				Taker:        ex.Fees.Taker,
				BaseSlippage: ex.Fees.BaseSlippage,
				MaxSlippage:  ex.Fees.MaxSlippage,
				// MarketImpact has no configuration knob (config.FeeConfig
				// doesn't carry it); paper trading's slippage model treats
				// it as negligible relative to base_slippage.
			})
		}
		e.exchanges[ex.ID] = client
		if i == 0 {
			e.primaryExchange = ex.ID
		}
	}
	if e.primaryExchange == "" {
		return fmt.Errorf("no exchanges configured")
	}
	return nil
}

// buildPredictStack wires the prediction gateway's external collaborators: CoinGecko as the
// candle source, an HTTP model service as the predictor.
func (e *Engine) buildPredictStack() (predict.MarketDataSource, predict.Predictor, error) {
	ds, err := market.NewCoinGeckoClient("")
	if err != nil {
		return nil, nil, fmt.Errorf("coingecko client: %w", err)
	}
	if err := ds.Health(context.Background()); err != nil {
		e.log.Warn().Err(err).Msg("coingecko health check failed at startup, candle fetches may fail until it recovers")
	}
	predictor := predict.NewHTTPPredictor(e.cfg.Predictor.Endpoint)
	return ds, predictor, nil
}

// buildExecutors constructs one SymbolExecutor per configured symbol,
// bound to the primary exchange. The symbol list and exchange list are
// configured independently; one exchange per symbol keeps the per-symbol
// SymbolConfig.Exchange field meaningful without a separate routing
// table this core doesn't otherwise need.
func (e *Engine) buildExecutors() error {
	t := e.cfg.Trading
	for _, s := range e.cfg.Symbols {
		symbol := domain.Symbol(s)
		symCfg := executor.DefaultSymbolConfig(e.primaryExchange)
		if t.CooldownBetweenTradesS > 0 {
			symCfg.Cooldown = t.CooldownBetweenTrades()
		}
		if t.MinConfidenceToTrade > 0 {
			symCfg.MinConfidenceToTrade = t.MinConfidenceToTrade
		}
		if t.OppositeExitThreshold > 0 {
			symCfg.OppositeExitThreshold = t.OppositeExitThreshold
		}
		if t.LowConfidenceExitThreshold > 0 {
			symCfg.LowConfExitThreshold = t.LowConfidenceExitThreshold
		}
		if t.MaxPositionDurationH > 0 {
			symCfg.MaxPositionDuration = t.MaxPositionDuration()
		}
		if t.MaxDailyTradesPerSymbol > 0 {
			symCfg.MaxDailyTrades = t.MaxDailyTradesPerSymbol
		}
		symCfg.MaxConcurrentPositions = e.cfg.Risk.MaxConcurrentPositions
		if e.cfg.Mode == "hft" && t.HFTPollIntervalMS > 0 {
			symCfg.CycleDelay = time.Duration(t.HFTPollIntervalMS) * time.Millisecond
		}

		posMgr, ok := e.positionMgrs[symCfg.Exchange]
		if !ok {
			return fmt.Errorf("symbol %q: exchange %q not configured", s, symCfg.Exchange)
		}

		deps := executor.Deps{
			Predictor:    e.gateway,
			Positions:    posMgr,
			EvaluateRisk: e.evaluateRisk,
			DesyncPaused: e.syncManager.NewEntriesPaused,
			CircuitOpen:  e.circuitOpen,
			CurrentPrice: e.prices.get,
			OnOutcome:    e.onOutcome,
			OpenPositions: e.openPositionCount,
			OnOrderFailed: e.onOrderFailed,
		}
		e.executors[symbol] = executor.NewSymbolExecutor(symbol, symCfg, deps)
	}
	return nil
}

func (e *Engine) buildArbitrageDetector() *arbitrage.Detector {
	arbCfg := arbitrage.Config{
		Enabled:         e.cfg.Arbitrage.Enabled,
		PollInterval:    e.cfg.Arbitrage.PollInterval(),
		MinSpread:       e.cfg.Arbitrage.MinSpreadPct,
		MaxNotional:     e.cfg.Arbitrage.MaxNotional,
		SlippageReserve: e.cfg.Arbitrage.SlippageReservePct,
	}
	if arbCfg.PollInterval == 0 {
		arbCfg.PollInterval = arbitrage.DefaultPollInterval
	}

	synced := func(exchangeID string) bool {
		if tripped, _ := e.emergency.Tripped(); tripped {
			return false
		}
		return !e.syncManager.NewEntriesPaused(exchangeID)
	}
	det := arbitrage.NewDetector(arbCfg, synced, e.onArbitrageOpportunity, e.onArbitrageExecuted)
	for id, client := range e.exchanges {
		det.Register(id, client)
	}
	return det
}

// evaluateRisk adapts internal/risk's pure Evaluate function to
// executor.RiskEvaluator, taking a fresh account snapshot per call
// (evaluated fresh, never cached).
func (e *Engine) evaluateRisk(ctx context.Context, symbol domain.Symbol, side domain.Side, pred domain.Prediction, currentPrice float64) domain.RiskDecision {
	if e.closing.Load() {
		return domain.RiskDecision{Approved: false, RejectionReason: domain.RejectExchangePaused, RejectionMessage: "engine shutting down"}
	}

	riskCfg := risk.Config{
		MinBalance:             e.cfg.Risk.MinBalance,
		MaxDailyLoss:           e.cfg.Risk.MaxDailyLoss,
		MaxConcurrentPositions: e.cfg.Risk.MaxConcurrentPositions,
		RiskPerTradeStrong:     e.cfg.Risk.RiskPerTradeStrong,
		RiskPerTradeModerate:   e.cfg.Risk.RiskPerTradeModerate,
		RiskPerTradeWeak:       e.cfg.Risk.RiskPerTradeWeak,
		MinStopDistance:        e.cfg.Risk.MinStopDistance,
		MaxLeverage:            e.cfg.Risk.MaxLeverage,
		RRRatio:                e.cfg.Risk.RRRatio,
		HardStopPct:            e.cfg.Risk.HardStopPct,
	}

	req := risk.Request{
		Symbol:         symbol,
		Side:           side,
		Confidence:     pred.Confidence,
		ExpectedReturn: pred.ExpectedReturn,
		CurrentPrice:   currentPrice,
		Uncertainty:    pred.Uncertainty,
		RecentPrices:   e.prices.recent(symbol, 20),
	}

	acct := e.accounts.snapshot(e.openPositionCount())
	if tripped, _ := e.emergency.Tripped(); !tripped && risk.ShouldTripEmergency(riskCfg, acct) {
		e.emergency.Trip("daily loss breached hard_stop_pct")
		e.emit(control.Event{Kind: control.EvtCircuitBreaker, Symbol: symbol, Payload: "emergency stop tripped", Timestamp: time.Now()})
	}

	decision := risk.Evaluate(riskCfg, acct, req, e.emergency)
	e.emit(control.Event{Kind: control.EvtRiskDecision, Symbol: symbol, Payload: decision, Timestamp: time.Now()})

	return decision
}

func (e *Engine) circuitOpen() bool {
	return e.circuitMgr.Order().State() == gobreaker.StateOpen
}

func (e *Engine) openPositionCount() int {
	total := 0
	for _, pm := range e.positionMgrs {
		total += len(pm.ListPositions())
	}
	return total
}

func (e *Engine) onOutcome(predictionID string, record domain.TradeRecord) {
	e.accounts.recordRealized(record.RealizedPnL)
	metrics.RecordTrade(record.RealizedPnL)
}

func (e *Engine) onPositionOpened(pos domain.Position) {
	metrics.UpdatePositionValue(string(pos.Symbol), pos.Size*pos.CurrentPrice)
	e.emit(control.Event{Kind: control.EvtPositionOpened, Symbol: pos.Symbol, Payload: pos, Timestamp: time.Now()})
}

func (e *Engine) onPositionClosed(record domain.TradeRecord) {
	e.emit(control.Event{Kind: control.EvtPositionClosed, Symbol: record.Symbol, Payload: record, Timestamp: time.Now()})
}

// orderFailure is the EvtOrderFailed payload: enough for the alerting path
// to describe what failed without reaching back into the executor.
type orderFailure struct {
	Side   domain.Side
	Reason string
}

func (e *Engine) onOrderFailed(symbol domain.Symbol, side domain.Side, reason string) {
	e.emit(control.Event{Kind: control.EvtOrderFailed, Symbol: symbol, Payload: orderFailure{Side: side, Reason: reason}, Timestamp: time.Now()})
}

func (e *Engine) onAnomaly(ev syncmgr.AnomalyEvent) {
	if ev.Kind == syncmgr.AnomalyProlongedDesync {
		metrics.SetSyncPaused(true)
	}
	e.emit(control.Event{Kind: control.EvtAnomaly, Payload: ev, Timestamp: ev.At})
}

func (e *Engine) onArbitrageOpportunity(opp domain.ArbitrageOpportunity) {
	metrics.RecordArbitrageOpportunity(string(opp.Symbol))
	e.emit(control.Event{Kind: control.EvtArbitrageOpportunity, Symbol: opp.Symbol, Payload: opp, Timestamp: time.Now()})
}

func (e *Engine) onArbitrageExecuted(opp domain.ArbitrageOpportunity, legs arbitrage.RealizedLegs) {
	metrics.RecordArbitrageExecution(legs.RolledBack)
	e.emit(control.Event{Kind: control.EvtArbitrageExecuted, Symbol: opp.Symbol, Payload: legs, Timestamp: time.Now()})
}

func (e *Engine) emit(ev control.Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warn().Str("kind", string(ev.Kind)).Msg("event channel full, dropping outbound event")
	}
}

// buildHandlers wires the control.Dispatcher's per-command callbacks to
// the components that own each concern.
func (e *Engine) buildHandlers() control.Handlers {
	return control.Handlers{
		Start: func() error { return nil },
		Stop:  func() error { return nil },
		Shutdown: func() error {
			e.closing.Store(true)
			return nil
		},
		SetMode: func(m control.Mode) error {
			e.mode.Store(m)
			return nil
		},
		SetSymbols: func(symbols []domain.Symbol) error {
			return domain.ErrUnknownCommand // live symbol-set changes require a restart in this wiring
		},
		SetLeverage: func(lev int) error {
			if lev < 1 || lev > 30 {
				return &domain.ValidationError{Field: "leverage", Reason: "out of range [1,30]"}
			}
			e.cfg.Risk.MaxLeverage = lev
			return nil
		},
		TrainingControl: func(payload []byte) error {
			e.log.Info().Int("bytes", len(payload)).Msg("training control payload received, forwarded nowhere (no training subsystem in core)")
			return nil
		},
		RequestStatus: func() (any, error) {
			return e.statusSnapshot(), nil
		},
		RequestMetrics: func() (any, error) {
			return "see /metrics endpoint", nil
		},
		RequestPositions: func() (any, error) {
			all := make([]domain.Position, 0)
			for _, pm := range e.positionMgrs {
				all = append(all, pm.ListPositions()...)
			}
			return all, nil
		},
		ClosePosition: func(id uuid.UUID, reason string) (any, error) {
			for _, pm := range e.positionMgrs {
				if _, ok := pm.GetPosition(id); ok {
					return pm.ClosePosition(context.Background(), id, domain.ExitManual)
				}
			}
			return nil, fmt.Errorf("position %s not found", id)
		},
		EmergencyStop: func(reason string) error {
			e.emergency.Trip(reason)
			return nil
		},
	}
}

type statusReport struct {
	Mode           control.Mode
	OpenPositions  int
	HealthyExchanges []string
}

func (e *Engine) statusSnapshot() statusReport {
	return statusReport{
		Mode:             e.mode.Load().(control.Mode),
		OpenPositions:    e.openPositionCount(),
		HealthyExchanges: e.router.Healthy(),
	}
}

// Run starts every component's goroutine and blocks until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if e.metricsServer != nil {
		if err := e.metricsServer.Start(); err != nil {
			return fmt.Errorf("engine: metrics server: %w", err)
		}
	}

	wg.Add(1)
	go func() { defer wg.Done(); e.syncManager.Run(ctx) }()

	wg.Add(1)
	bus := control.Bus{Commands: e.commands, Events: e.events}
	go func() { defer wg.Done(); e.runControlLoop(ctx, bus) }()

	for id, client := range e.exchanges {
		wg.Add(1)
		go func(id string, client exchange.Exchange) { defer wg.Done(); e.streamTicks(ctx, id, client) }(id, client)
	}

	if primary, ok := e.exchanges[e.primaryExchange]; ok {
		wg.Add(1)
		go func() { defer wg.Done(); e.syncBalance(ctx, primary) }()
	}

	if e.mode.Load().(control.Mode) != control.ModeArbitrageOnly {
		for symbol, exec := range e.executors {
			wg.Add(1)
			go func(symbol domain.Symbol, exec *executor.SymbolExecutor) {
				defer wg.Done()
				exec.Run(ctx)
			}(symbol, exec)
		}
	}

	if e.cfg.Arbitrage.Enabled || e.mode.Load().(control.Mode) == control.ModeArbitrageOnly {
		symbols := make([]domain.Symbol, 0, len(e.cfg.Symbols))
		for _, s := range e.cfg.Symbols {
			symbols = append(symbols, domain.Symbol(s))
		}
		wg.Add(1)
		go func() { defer wg.Done(); e.arbDetector.Run(ctx, symbols) }()
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// streamTicks feeds every price tick into the price book and the
// position manager's stop-loss/take-profit evaluation.
func (e *Engine) streamTicks(ctx context.Context, exchangeID string, client exchange.Exchange) {
	symbols := make([]string, 0, len(e.cfg.Symbols))
	symbols = append(symbols, e.cfg.Symbols...)

	ticks, err := client.StreamTicks(ctx, symbols)
	if err != nil {
		e.log.Error().Err(err).Str("exchange", exchangeID).Msg("tick stream failed to start")
		return
	}
	for tick := range ticks {
		symbol := domain.Symbol(tick.Symbol)
		e.prices.observe(symbol, tick.Price)
		if pm, ok := e.positionMgrs[exchangeID]; ok {
			pm.OnPriceTick(ctx, symbol, tick.Price)
		}
	}
}

// runControlLoop is the Dispatcher's consumer side of the engine's control
// traffic. It takes a control.Bus for the inbound command half — a
// receive-only view over e.commands — since the Dispatcher only ever reads
// commands, never writes them; the outbound event half stays on e.events
// directly: this loop is the channel's only reader and itself fans each
// event out to the audit log, the NATS bridge and the alert manager.
func (e *Engine) runControlLoop(ctx context.Context, bus control.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-bus.Commands:
			e.audit.RecordCommand(cmd)
			e.dispatcher.Dispatch(cmd)
		case ev := <-e.events:
			e.audit.RecordEvent(ev)
			if e.natsBridge != nil {
				e.natsBridge.Publish(ev)
			}
			e.dispatchAlert(ctx, ev)
		}
	}
}

// dispatchAlert forwards the subset of outbound events an operator needs to
// know about out-of-band to e.alertMgr: order failures, circuit-breaker
// trips, and sync anomalies. Every other event kind stays in the audit
// log/NATS bridge only.
func (e *Engine) dispatchAlert(ctx context.Context, ev control.Event) {
	if e.alertMgr == nil {
		return
	}
	switch ev.Kind {
	case control.EvtOrderFailed:
		if fail, ok := ev.Payload.(orderFailure); ok {
			alerts.AlertOrderFailed(ctx, string(ev.Symbol), string(fail.Side), fail.Reason)
		}
	case control.EvtCircuitBreaker:
		reason, _ := ev.Payload.(string)
		alerts.AlertCircuitBreaker(ctx, true, reason)
	case control.EvtAnomaly:
		if anomaly, ok := ev.Payload.(syncmgr.AnomalyEvent); ok {
			alerts.AlertAnomaly(ctx, anomaly.Exchange, string(anomaly.Kind), anomaly.Detail)
		}
	}
}

// Shutdown implements the ordered shutdown sequence: refuse new entries,
// then cancel the engine's Run context (cancelRun) so executor cycles,
// arbitrage scans and tick streams stop as their contexts cancel. It
// returns once cancelRun has been called, or with an error if ctx expires
// first; it does not wait for Run's goroutines to exit.
func (e *Engine) Shutdown(ctx context.Context, cancelRun context.CancelFunc) error {
	e.closing.Store(true) // step 3: EvaluateRisk now rejects every new entry

	done := make(chan struct{})
	go func() {
		cancelRun() // steps 1+2: cancels executor and arbitrage Run loops together
		close(done)
	}()

	select {
	case <-done:
		if e.natsBridge != nil {
			e.natsBridge.Close()
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: shutdown deadline exceeded: %w", ctx.Err())
	}
}
