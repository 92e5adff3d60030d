package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Mode       string           `mapstructure:"mode"` // "paper", "live", "hft", "arbitrage_only"
	Symbols    []string         `mapstructure:"symbols"`
	Exchanges  []ExchangeConfig `mapstructure:"exchanges"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Arbitrage  ArbitrageConfig  `mapstructure:"arbitrage"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Latency    LatencyConfig    `mapstructure:"latency"`
	Predictor  PredictorConfig  `mapstructure:"predictor"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// ExchangeConfig describes one exchange connection: id, endpoint,
// opaque credentials, and rate limits.
// CredentialsOpaque is never logged or validated beyond presence — the
// core treats it as an opaque bag the exchange client alone interprets.
type ExchangeConfig struct {
	ID                string            `mapstructure:"id"`
	Endpoint          string            `mapstructure:"endpoint"`
	Testnet           bool              `mapstructure:"testnet"`
	CredentialsOpaque map[string]string `mapstructure:"credentials_opaque"`
	RateLimitMS       int               `mapstructure:"rate_limit_ms"`
	Fees              FeeConfig         `mapstructure:"fees"`
}

// FeeConfig contains exchange fee structure.
type FeeConfig struct {
	Maker        float64 `mapstructure:"maker"`
	Taker        float64 `mapstructure:"taker"`
	BaseSlippage float64 `mapstructure:"base_slippage"`
	MaxSlippage  float64 `mapstructure:"max_slippage"`
}

// TradingConfig contains per-symbol executor tunables.
type TradingConfig struct {
	CooldownBetweenTradesS int     `mapstructure:"cooldown_between_trades_s"`
	MaxDailyTradesPerSymbol int    `mapstructure:"max_daily_trades_per_symbol"`
	MinConfidenceToTrade   float64 `mapstructure:"min_confidence_to_trade"`
	OppositeExitThreshold  float64 `mapstructure:"opposite_exit_threshold"`
	LowConfidenceExitThreshold float64 `mapstructure:"low_confidence_exit_threshold"`
	MaxPositionDurationH   float64 `mapstructure:"max_position_duration_h"`
	HFTPollIntervalMS      int     `mapstructure:"hft_poll_interval_ms"`
}

// RiskConfig mirrors internal/risk.Config field-for-field.
type RiskConfig struct {
	MinBalance             float64 `mapstructure:"min_balance"`
	MaxDailyLoss           float64 `mapstructure:"max_daily_loss"`
	MaxConcurrentPositions int     `mapstructure:"max_concurrent_positions"`
	RiskPerTradeStrong     float64 `mapstructure:"risk_per_trade_strong"`
	RiskPerTradeModerate   float64 `mapstructure:"risk_per_trade_moderate"`
	RiskPerTradeWeak       float64 `mapstructure:"risk_per_trade_weak"`
	MinStopDistance        float64 `mapstructure:"min_stop_distance"`
	MaxLeverage            int     `mapstructure:"max_leverage"`
	RRRatio                float64 `mapstructure:"rr_ratio"`
	HardStopPct            float64 `mapstructure:"hard_stop_pct"`
}

// ArbitrageConfig mirrors internal/arbitrage.Config.
type ArbitrageConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	PollIntervalS      int     `mapstructure:"poll_interval_s"`
	MinSpreadPct       float64 `mapstructure:"min_spread_pct"`
	MaxNotional        float64 `mapstructure:"max_notional"`
	SlippageReservePct float64 `mapstructure:"slippage_reserve_pct"`
}

// SyncConfig mirrors internal/syncmgr's reconciliation tunables.
type SyncConfig struct {
	IntervalS             int     `mapstructure:"interval_s"`
	BalanceDriftThreshold float64 `mapstructure:"balance_drift_threshold"`
	PriceDriftThreshold   float64 `mapstructure:"price_drift_threshold"`
	DesyncPauseS          int     `mapstructure:"desync_pause_s"`
}

// LatencyConfig mirrors internal/latency's tunables.
type LatencyConfig struct {
	CacheTTLMS         int `mapstructure:"cache_ttl_ms"`
	BenchmarkIntervalS int `mapstructure:"benchmark_interval_s"`
	HFTPollHz          int `mapstructure:"hft_poll_hz"`
}

// PredictorConfig is opaque configuration for the prediction gateway's external model; the
// core never loads a checkpoint itself.
type PredictorConfig struct {
	ModelPath string `mapstructure:"model_path"`
	Endpoint  string `mapstructure:"endpoint"`
}

// NATSConfig contains NATS messaging settings for the outbound event bus.
type NATSConfig struct {
	URL   string `mapstructure:"url"`
	Topic string `mapstructure:"topic"`
}

// MonitoringConfig contains monitoring settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// AlertingConfig configures the out-of-band critical-event channels in
// internal/alerts. Telegram is optional: TelegramBotToken empty means the engine
// falls back to its log/console alerters only.
type AlertingConfig struct {
	TelegramBotToken string  `mapstructure:"telegram_bot_token"`
	TelegramChatIDs  []int64 `mapstructure:"telegram_chat_ids"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("FLUXENGINE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values matching the documented
// per-component defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "FluxEngine")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("mode", "paper")
	v.SetDefault("symbols", []string{"BTCUSDT", "ETHUSDT"})

	v.SetDefault("trading.cooldown_between_trades_s", 1800)
	v.SetDefault("trading.max_daily_trades_per_symbol", 20)
	v.SetDefault("trading.min_confidence_to_trade", 0.65)
	v.SetDefault("trading.opposite_exit_threshold", 0.7)
	v.SetDefault("trading.low_confidence_exit_threshold", 0.3)
	v.SetDefault("trading.max_position_duration_h", 24.0)
	v.SetDefault("trading.hft_poll_interval_ms", 100)

	v.SetDefault("risk.min_balance", 100.0)
	v.SetDefault("risk.max_daily_loss", 1000.0)
	v.SetDefault("risk.max_concurrent_positions", 3)
	v.SetDefault("risk.risk_per_trade_strong", 0.03)
	v.SetDefault("risk.risk_per_trade_moderate", 0.02)
	v.SetDefault("risk.risk_per_trade_weak", 0.01)
	v.SetDefault("risk.min_stop_distance", 0.005)
	v.SetDefault("risk.max_leverage", 10)
	v.SetDefault("risk.rr_ratio", 2.0)
	v.SetDefault("risk.hard_stop_pct", 0.05)

	v.SetDefault("arbitrage.enabled", false)
	v.SetDefault("arbitrage.poll_interval_s", 5)
	v.SetDefault("arbitrage.min_spread_pct", 0.0015)
	v.SetDefault("arbitrage.max_notional", 1000.0)
	v.SetDefault("arbitrage.slippage_reserve_pct", 0.0005)

	v.SetDefault("sync.interval_s", 30)
	v.SetDefault("sync.balance_drift_threshold", 10.0)
	v.SetDefault("sync.price_drift_threshold", 0.01)
	v.SetDefault("sync.desync_pause_s", 300)

	v.SetDefault("latency.cache_ttl_ms", 500)
	v.SetDefault("latency.benchmark_interval_s", 60)
	v.SetDefault("latency.hft_poll_hz", 10)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.topic", "fluxengine.engine.events")

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	v.SetDefault("alerting.telegram_bot_token", "")
	v.SetDefault("alerting.telegram_chat_ids", []int64{})

	v.SetDefault("exchanges", []map[string]any{
		{"id": "binance", "endpoint": "https://api.binance.com", "testnet": true,
			"fees": map[string]any{"maker": 0.001, "taker": 0.001, "base_slippage": 0.0005, "max_slippage": 0.003}},
	})
}

// Note: comprehensive validation is in validation.go; Config.Validate() is
// called during Load().

// CooldownBetweenTrades returns the configured cooldown as a
// time.Duration.
func (c *TradingConfig) CooldownBetweenTrades() time.Duration {
	return time.Duration(c.CooldownBetweenTradesS) * time.Second
}

// MaxPositionDuration returns the configured max position lifetime as a
// time.Duration.
func (c *TradingConfig) MaxPositionDuration() time.Duration {
	return time.Duration(c.MaxPositionDurationH * float64(time.Hour))
}

// Interval returns the configured sync interval as a time.Duration.
func (c *SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalS) * time.Second
}

// DesyncPause returns the configured prolonged-desync threshold as a
// time.Duration.
func (c *SyncConfig) DesyncPause() time.Duration {
	return time.Duration(c.DesyncPauseS) * time.Second
}

// PollInterval returns the configured arbitrage scan cadence as a
// time.Duration.
func (c *ArbitrageConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalS) * time.Second
}

// CacheTTL returns the configured order-book cache TTL as a
// time.Duration.
func (c *LatencyConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMS) * time.Millisecond
}
