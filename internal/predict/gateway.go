// Package predict implements the Prediction Gateway: a thin adapter
// over an external Predictor collaborator, assembling feature windows and
// applying a monotonic calibration curve to the returned confidence.
package predict

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/fluxengine/internal/domain"
	"github.com/ajitpratap0/fluxengine/internal/indicators"
)

// CandleWindow is the number of trailing candles fetched per predict call.
const CandleWindow = 100

// MinCandles is the minimum window size below which a predict call rejects
// with InsufficientData.
const MinCandles = 60

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// MarketDataSource supplies the trailing candle window a prediction is
// computed from. It is an external collaborator outside core scope —
// the gateway only adapts its shape.
type MarketDataSource interface {
	FetchCandles(ctx context.Context, symbol domain.Symbol, n int) ([]Candle, error)
}

// Features is the feature vector handed to the external Predictor.
type Features struct {
	Symbol     domain.Symbol
	Closes     []float64
	Volatility float64 // stddev of last-20 log-returns
}

// RawPrediction is what the external Predictor returns, before
// calibration is applied to Confidence.
type RawPrediction struct {
	Action              domain.Action
	Confidence          float64
	ExpectedReturn      float64
	RiskLevel           int
	TimeHorizonHours    float64
	MarketRegime        domain.MarketRegime
	ActionProbabilities map[domain.Action]float64
	Uncertainty         float64
}

// Predictor is the external ML collaborator: an external process or
// service; this core only defines the calling contract.
type Predictor interface {
	Predict(ctx context.Context, features Features) (RawPrediction, error)
}

// ErrInsufficientData is returned when fewer than MinCandles candles are
// available for a symbol.
var ErrInsufficientData = fmt.Errorf("predict: fewer than %d candles available", MinCandles)

// calibrationFunc maps a raw confidence into a calibrated one; must be
// monotonic non-decreasing.
type calibrationFunc func(float64) float64

func identityCalibration(c float64) float64 { return c }

// Gateway is the Prediction Gateway.
type Gateway struct {
	ds        MarketDataSource
	predictor Predictor

	// calibration is replaced whole by SetCalibration so in-flight Predict
	// calls never observe a partially-updated function. Nothing in the
	// gateway updates it from trade outcomes.
	calibration atomic.Value // calibrationFunc

	idGen func() string
}

// NewGateway constructs a Gateway with the identity calibration function.
func NewGateway(ds MarketDataSource, predictor Predictor, idGen func() string) *Gateway {
	g := &Gateway{ds: ds, predictor: predictor, idGen: idGen}
	g.calibration.Store(calibrationFunc(identityCalibration))
	return g
}

// Predict implements the predict(symbol) operation.
func (g *Gateway) Predict(ctx context.Context, symbol domain.Symbol) (*domain.Prediction, string, error) {
	candles, err := g.ds.FetchCandles(ctx, symbol, CandleWindow)
	if err != nil {
		return nil, "", fmt.Errorf("predict: fetch candles: %w", err)
	}
	if len(candles) < MinCandles {
		return nil, "", ErrInsufficientData
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	volatility := indicators.ATRProxy(closes, 0)

	raw, err := g.predictor.Predict(ctx, Features{Symbol: symbol, Closes: closes, Volatility: volatility})
	if err != nil {
		return nil, "", fmt.Errorf("predict: external predictor: %w", err)
	}

	calibrate := g.calibration.Load().(calibrationFunc)
	calibrated := calibrate(raw.Confidence)

	prediction := &domain.Prediction{
		Symbol:              symbol,
		Action:              raw.Action,
		Confidence:          calibrated,
		ExpectedReturn:       raw.ExpectedReturn,
		RiskLevel:           raw.RiskLevel,
		TimeHorizonHours:    raw.TimeHorizonHours,
		MarketRegime:        raw.MarketRegime,
		ActionProbabilities: raw.ActionProbabilities,
		Uncertainty:         raw.Uncertainty,
		Timestamp:           time.Now(),
	}

	var predictionID string
	if g.idGen != nil {
		predictionID = g.idGen()
	}

	return prediction, predictionID, nil
}

// SetCalibration atomically swaps the calibration function, e.g. after a
// feedback-driven Platt-scaling refit.
func (g *Gateway) SetCalibration(fn func(float64) float64) {
	g.calibration.Store(calibrationFunc(fn))
}
