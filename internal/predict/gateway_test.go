package predict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fluxengine/internal/domain"
)

type fakeDataSource struct {
	candles []Candle
	err     error
}

func (f *fakeDataSource) FetchCandles(ctx context.Context, symbol domain.Symbol, n int) ([]Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.candles) > n {
		return f.candles[len(f.candles)-n:], nil
	}
	return f.candles, nil
}

type fakePredictor struct {
	raw RawPrediction
	err error
}

func (f *fakePredictor) Predict(ctx context.Context, features Features) (RawPrediction, error) {
	return f.raw, f.err
}

func candles(n int, start float64) []Candle {
	out := make([]Candle, n)
	price := start
	for i := range out {
		price *= 1.001
		out[i] = Candle{Time: time.Now(), Close: price}
	}
	return out
}

func TestPredict_RejectsInsufficientData(t *testing.T) {
	g := NewGateway(&fakeDataSource{candles: candles(10, 100)}, &fakePredictor{}, nil)
	_, _, err := g.Predict(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestPredict_AppliesIdentityCalibrationByDefault(t *testing.T) {
	g := NewGateway(&fakeDataSource{candles: candles(100, 100)}, &fakePredictor{raw: RawPrediction{
		Action: domain.ActionBuy, Confidence: 0.72, ExpectedReturn: 0.01,
	}}, nil)

	pred, _, err := g.Predict(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.72, pred.Confidence)
	assert.Equal(t, domain.ConfidenceHigh, pred.ConfidenceLevel())
}

func TestPredict_CalibrationSwapAffectsSubsequentCalls(t *testing.T) {
	g := NewGateway(&fakeDataSource{candles: candles(100, 100)}, &fakePredictor{raw: RawPrediction{
		Action: domain.ActionBuy, Confidence: 0.5,
	}}, nil)

	g.SetCalibration(func(c float64) float64 { return c * 0.5 })

	pred, _, err := g.Predict(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, pred.Confidence, 1e-9)
}

func TestPredict_PropagatesDataSourceError(t *testing.T) {
	g := NewGateway(&fakeDataSource{err: assertErr{}}, &fakePredictor{}, nil)
	_, _, err := g.Predict(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "data source unavailable" }
