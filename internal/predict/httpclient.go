package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ajitpratap0/fluxengine/internal/domain"
)

const defaultPredictTimeout = 5 * time.Second

// HTTPPredictor implements Predictor by calling out to an external model
// service over HTTP. The core never loads a checkpoint itself — this is
// the calling contract, not the model.
type HTTPPredictor struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPPredictor constructs an HTTPPredictor against endpoint, a service
// expected to accept a POST with a JSON Features body and respond with a
// JSON RawPrediction.
func NewHTTPPredictor(endpoint string) *HTTPPredictor {
	return &HTTPPredictor{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultPredictTimeout},
	}
}

type predictRequestWire struct {
	Symbol     domain.Symbol `json:"symbol"`
	Closes     []float64     `json:"closes"`
	Volatility float64       `json:"volatility"`
}

type predictResponseWire struct {
	Action              string                     `json:"action"`
	Confidence          float64                    `json:"confidence"`
	ExpectedReturn      float64                    `json:"expected_return"`
	RiskLevel           int                        `json:"risk_level"`
	TimeHorizonHours    float64                    `json:"time_horizon_hours"`
	MarketRegime        string                     `json:"market_regime"`
	ActionProbabilities map[domain.Action]float64  `json:"action_probabilities"`
	Uncertainty         float64                    `json:"uncertainty"`
}

// Predict calls the external model service and adapts its response.
func (p *HTTPPredictor) Predict(ctx context.Context, features Features) (RawPrediction, error) {
	body, err := json.Marshal(predictRequestWire{
		Symbol:     features.Symbol,
		Closes:     features.Closes,
		Volatility: features.Volatility,
	})
	if err != nil {
		return RawPrediction{}, fmt.Errorf("marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return RawPrediction{}, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return RawPrediction{}, fmt.Errorf("predict request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return RawPrediction{}, fmt.Errorf("predict service returned status %d", resp.StatusCode)
	}

	var wire predictResponseWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return RawPrediction{}, fmt.Errorf("decode predict response: %w", err)
	}

	return RawPrediction{
		Action:              domain.Action(wire.Action),
		Confidence:          wire.Confidence,
		ExpectedReturn:      wire.ExpectedReturn,
		RiskLevel:           wire.RiskLevel,
		TimeHorizonHours:    wire.TimeHorizonHours,
		MarketRegime:        domain.MarketRegime(wire.MarketRegime),
		ActionProbabilities: wire.ActionProbabilities,
		Uncertainty:         wire.Uncertainty,
	}, nil
}
