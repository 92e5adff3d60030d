package predict

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fluxengine/internal/domain"
)

func TestHTTPPredictor_Predict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"action":"OPEN_LONG","confidence":0.8,"expected_return":0.02,"risk_level":2,"time_horizon_hours":4,"market_regime":"TRENDING","uncertainty":0.1}`))
	}))
	defer srv.Close()

	predictor := NewHTTPPredictor(srv.URL)
	raw, err := predictor.Predict(context.Background(), Features{Symbol: domain.Symbol("BTCUSDT"), Closes: []float64{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, domain.Action("OPEN_LONG"), raw.Action)
	assert.Equal(t, 0.8, raw.Confidence)
}

func TestHTTPPredictor_Predict_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	predictor := NewHTTPPredictor(srv.URL)
	_, err := predictor.Predict(context.Background(), Features{Symbol: domain.Symbol("BTCUSDT")})
	assert.Error(t, err)
}
