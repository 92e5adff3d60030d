package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

var validModes = []string{"paper", "live", "hft", "arbitrage_only"}

// Validate performs comprehensive configuration validation.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateMode()...)
	errors = append(errors, c.validateTrading()...)
	errors = append(errors, c.validateRisk()...)
	errors = append(errors, c.validateExchanges()...)
	errors = append(errors, c.validateArbitrage()...)
	errors = append(errors, c.validateSync()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	c.warnOpenQuestions()

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{Field: "app.name", Message: "Application name is required"})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{Field: "app.environment", Message: "Environment is required (development, staging, or production)"})
	} else {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{Field: "app.log_level", Message: "Log level is required (debug, info, warn, error)"})
	}

	return errors
}

func (c *Config) validateMode() ValidationErrors {
	var errors ValidationErrors

	if c.Mode == "" {
		errors = append(errors, ValidationError{Field: "mode", Message: "Mode is required"})
		return errors
	}

	valid := false
	for _, m := range validModes {
		if strings.EqualFold(c.Mode, m) {
			valid = true
			break
		}
	}
	if !valid {
		errors = append(errors, ValidationError{
			Field:   "mode",
			Message: fmt.Sprintf("Invalid mode '%s'. Must be one of: %v", c.Mode, validModes),
		})
	}

	if len(c.Symbols) == 0 {
		errors = append(errors, ValidationError{Field: "symbols", Message: "At least one trading symbol is required"})
	}

	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors

	if c.Trading.CooldownBetweenTradesS < 0 {
		errors = append(errors, ValidationError{Field: "trading.cooldown_between_trades_s", Message: "cooldown_between_trades_s must be non-negative"})
	}
	if c.Trading.MaxDailyTradesPerSymbol < 1 {
		errors = append(errors, ValidationError{Field: "trading.max_daily_trades_per_symbol", Message: "max_daily_trades_per_symbol must be at least 1"})
	}
	if c.Trading.MinConfidenceToTrade < 0 || c.Trading.MinConfidenceToTrade > 1 {
		errors = append(errors, ValidationError{Field: "trading.min_confidence_to_trade", Message: "min_confidence_to_trade must be in [0,1]"})
	}
	if c.Trading.OppositeExitThreshold < 0 || c.Trading.OppositeExitThreshold > 1 {
		errors = append(errors, ValidationError{Field: "trading.opposite_exit_threshold", Message: "opposite_exit_threshold must be in [0,1]"})
	}
	if c.Trading.MaxPositionDurationH <= 0 {
		errors = append(errors, ValidationError{Field: "trading.max_position_duration_h", Message: "max_position_duration_h must be > 0"})
	}

	return errors
}

func (c *Config) validateRisk() ValidationErrors {
	var errors ValidationErrors

	if c.Risk.MinBalance < 0 {
		errors = append(errors, ValidationError{Field: "risk.min_balance", Message: "min_balance must be non-negative"})
	}
	if c.Risk.MaxDailyLoss <= 0 {
		errors = append(errors, ValidationError{Field: "risk.max_daily_loss", Message: "max_daily_loss must be > 0"})
	}
	if c.Risk.MaxConcurrentPositions < 1 {
		errors = append(errors, ValidationError{Field: "risk.max_concurrent_positions", Message: "max_concurrent_positions must be at least 1"})
	}
	for _, tier := range []struct {
		field string
		value float64
	}{
		{"risk.risk_per_trade_strong", c.Risk.RiskPerTradeStrong},
		{"risk.risk_per_trade_moderate", c.Risk.RiskPerTradeModerate},
		{"risk.risk_per_trade_weak", c.Risk.RiskPerTradeWeak},
	} {
		if tier.value <= 0 || tier.value > 1 {
			errors = append(errors, ValidationError{Field: tier.field, Message: fmt.Sprintf("%s must be in (0,1]", tier.field)})
		}
	}
	if c.Risk.MaxLeverage < 1 || c.Risk.MaxLeverage > 30 {
		errors = append(errors, ValidationError{Field: "risk.max_leverage", Message: "max_leverage must be in [1,30]"})
	}
	if c.Risk.RRRatio <= 0 {
		errors = append(errors, ValidationError{Field: "risk.rr_ratio", Message: "rr_ratio must be > 0"})
	}
	if c.Risk.HardStopPct <= 0 || c.Risk.HardStopPct > 1 {
		errors = append(errors, ValidationError{Field: "risk.hard_stop_pct", Message: "hard_stop_pct must be in (0,1]"})
	}

	return errors
}

func (c *Config) validateExchanges() ValidationErrors {
	var errors ValidationErrors

	if len(c.Exchanges) == 0 {
		errors = append(errors, ValidationError{Field: "exchanges", Message: "At least one exchange must be configured"})
	}

	live := strings.EqualFold(c.Mode, "live") || strings.EqualFold(c.Mode, "hft")
	for i, ex := range c.Exchanges {
		field := fmt.Sprintf("exchanges[%d]", i)
		if ex.ID == "" {
			errors = append(errors, ValidationError{Field: field + ".id", Message: "exchange id is required"})
		}
		if ex.Endpoint == "" {
			errors = append(errors, ValidationError{Field: field + ".endpoint", Message: "exchange endpoint is required"})
		}
		if live && len(ex.CredentialsOpaque) == 0 {
			errors = append(errors, ValidationError{Field: field + ".credentials_opaque", Message: "credentials are required for live/hft mode"})
		}
		if ex.RateLimitMS < 0 {
			errors = append(errors, ValidationError{Field: field + ".rate_limit_ms", Message: "rate_limit_ms must be non-negative"})
		}
	}

	return errors
}

func (c *Config) validateArbitrage() ValidationErrors {
	var errors ValidationErrors

	if c.Arbitrage.PollIntervalS < 1 {
		errors = append(errors, ValidationError{Field: "arbitrage.poll_interval_s", Message: "poll_interval_s must be at least 1"})
	}
	if c.Arbitrage.MinSpreadPct <= 0 {
		errors = append(errors, ValidationError{Field: "arbitrage.min_spread_pct", Message: "min_spread_pct must be > 0"})
	}
	if c.Arbitrage.Enabled && c.Arbitrage.MaxNotional <= 0 {
		errors = append(errors, ValidationError{Field: "arbitrage.max_notional", Message: "max_notional must be > 0 when arbitrage execution is enabled"})
	}

	return errors
}

func (c *Config) validateSync() ValidationErrors {
	var errors ValidationErrors

	if c.Sync.IntervalS < 1 {
		errors = append(errors, ValidationError{Field: "sync.interval_s", Message: "interval_s must be at least 1"})
	}
	if c.Sync.DesyncPauseS < c.Sync.IntervalS {
		errors = append(errors, ValidationError{Field: "sync.desync_pause_s", Message: "desync_pause_s must be >= sync.interval_s"})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{Field: "nats.url", Message: "NATS URL is required"})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") {
		errors = append(errors, ValidationError{Field: "nats.url", Message: "NATS URL must start with 'nats://'"})
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	if c.App.Environment == "production" {
		for i, ex := range c.Exchanges {
			if ex.Testnet {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("exchanges[%d].testnet", i),
					Message: "Testnet mode must be disabled in production",
				})
			}
			for key, val := range ex.CredentialsOpaque {
				field := fmt.Sprintf("exchanges[%d].credentials_opaque.%s", i, key)
				result := ValidateSecret(val, field, 20, true)
				if !result.IsValid {
					errors = append(errors, ValidationError{Field: field, Message: strings.Join(result.Errors, "; ")})
				}
			}
		}
	}

	return errors
}

// warnOpenQuestions logs (does not fail) the documented ambiguity around
// HFT mode and cooldown: mode=hft with the non-HFT cooldown default is
// legal, just worth a startup note.
func (c *Config) warnOpenQuestions() {
	if strings.EqualFold(c.Mode, "hft") && c.Trading.CooldownBetweenTradesS >= 1800 {
		log.Warn().
			Int("cooldown_between_trades_s", c.Trading.CooldownBetweenTradesS).
			Msg("mode=hft but cooldown_between_trades_s left at its non-HFT default; HFT does not implicitly shrink it")
	}
}

// ValidateAndLoad loads and validates configuration. configPath can be
// empty to use default config locations.
func ValidateAndLoad(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
