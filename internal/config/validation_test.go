package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "FluxEngine",
			Version:     "1.0.0",
			Environment: "development",
			LogLevel:    "info",
		},
		Mode:    "paper",
		Symbols: []string{"BTCUSDT", "ETHUSDT"},
		Exchanges: []ExchangeConfig{
			{ID: "binance", Endpoint: "https://api.binance.com", Testnet: true, RateLimitMS: 100},
		},
		Trading: TradingConfig{
			CooldownBetweenTradesS:     1800,
			MaxDailyTradesPerSymbol:    20,
			MinConfidenceToTrade:       0.65,
			OppositeExitThreshold:      0.7,
			LowConfidenceExitThreshold: 0.3,
			MaxPositionDurationH:       24,
		},
		Risk: RiskConfig{
			MinBalance:             100,
			MaxDailyLoss:           1000,
			MaxConcurrentPositions: 3,
			RiskPerTradeStrong:     0.03,
			RiskPerTradeModerate:   0.02,
			RiskPerTradeWeak:       0.01,
			MinStopDistance:        0.005,
			MaxLeverage:            10,
			RRRatio:                2.0,
			HardStopPct:            0.05,
		},
		Arbitrage: ArbitrageConfig{
			Enabled:       false,
			PollIntervalS: 5,
			MinSpreadPct:  0.0015,
		},
		Sync: SyncConfig{
			IntervalS:    30,
			DesyncPauseS: 300,
		},
		NATS: NATSConfig{URL: "nats://localhost:4222"},
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	cfg := getValidConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsInvalidMode(t *testing.T) {
	cfg := getValidConfig()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
}

func TestValidate_RejectsEmptySymbols(t *testing.T) {
	cfg := getValidConfig()
	cfg.Symbols = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbols")
}

func TestValidate_RejectsNoExchanges(t *testing.T) {
	cfg := getValidConfig()
	cfg.Exchanges = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchanges")
}

func TestValidate_RequiresCredentialsForLiveMode(t *testing.T) {
	cfg := getValidConfig()
	cfg.Mode = "live"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials_opaque")
}

func TestValidate_AcceptsLiveModeWithCredentials(t *testing.T) {
	cfg := getValidConfig()
	cfg.Mode = "live"
	cfg.Exchanges[0].CredentialsOpaque = map[string]string{"api_key": "k", "secret_key": "s"}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsInvalidRiskTiers(t *testing.T) {
	cfg := getValidConfig()
	cfg.Risk.RiskPerTradeStrong = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk_per_trade_strong")
}

func TestValidate_ProductionRejectsTestnet(t *testing.T) {
	cfg := getValidConfig()
	cfg.App.Environment = "production"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "testnet")
}

func TestValidate_RejectsDesyncPauseBelowSyncInterval(t *testing.T) {
	cfg := getValidConfig()
	cfg.Sync.DesyncPauseS = 5
	cfg.Sync.IntervalS = 30
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "desync_pause_s")
}
