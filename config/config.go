package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"solbot/internal/api"
	"solbot/internal/engine"
	"solbot/internal/hours"
	"solbot/internal/indicator"
	"solbot/internal/market"
	"solbot/internal/position"
	"solbot/internal/risk"
	"solbot/internal/sentiment"
	"solbot/internal/signal"
	"solbot/internal/sizing"
	"solbot/internal/store"
)

// Config aggregates every component's settings. Values come from defaults,
// then an optional JSON file, then environment variables, in that order.
type Config struct {
	Engine      engine.Config           `json:"engine"`
	Indicators  indicator.Config        `json:"indicators"`
	Signals     signal.Config           `json:"signals"`
	Sizing      sizing.SizerConfig      `json:"sizing"`
	Martingale  sizing.MartingaleConfig `json:"martingale"`
	Position    position.ManagerConfig  `json:"position"`
	Drawdown    risk.DrawdownConfig     `json:"drawdown"`
	Correlation risk.CorrelationConfig  `json:"correlation"`
	Hours       hours.Config            `json:"hours"`
	Market      MarketConfig            `json:"market"`
	Sentiment   sentiment.Config        `json:"sentiment"`
	Database    store.Config            `json:"database"`
	Redis       store.RedisConfig       `json:"redis"`
	Server      api.ServerConfig        `json:"server"`
	Logging     LoggingConfig           `json:"logging"`
}

// MarketConfig selects the data source. With UseMock set the engine runs
// against generated candles and never talks to Binance.
type MarketConfig struct {
	UseMock bool                 `json:"use_mock"`
	Binance market.BinanceConfig `json:"binance"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level      string `json:"level"`
	JSONFormat bool   `json:"json_format"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Engine:      engine.DefaultConfig(),
		Indicators:  indicator.DefaultConfig(),
		Signals:     signal.DefaultConfig(),
		Sizing:      sizing.DefaultSizerConfig(),
		Martingale:  sizing.DefaultMartingaleConfig(),
		Position:    position.DefaultManagerConfig(),
		Drawdown:    risk.DefaultDrawdownConfig(),
		Correlation: risk.DefaultCorrelationConfig(),
		Hours:       hours.DefaultConfig(),
		Market: MarketConfig{
			UseMock: true,
			Binance: market.DefaultBinanceConfig(),
		},
		Sentiment: sentiment.DefaultConfig(),
		Database: store.Config{
			Host:     "localhost",
			Port:     5432,
			User:     "solbot",
			Password: "solbot",
			Database: "solbot",
			SSLMode:  "disable",
		},
		Redis: store.RedisConfig{
			Enabled:  true,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		Server: api.DefaultServerConfig(),
		Logging: LoggingConfig{
			Level:      "info",
			JSONFormat: false,
		},
	}
}

// Load builds the configuration: .env file (if present), defaults, the JSON
// file at path (if non-empty), then environment overrides. The result is
// validated before it is returned.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	// Database
	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvIntOrDefault("DB_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DB_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnvOrDefault("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", c.Database.SSLMode)

	// Redis
	c.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Address = getEnvOrDefault("REDIS_ADDR", c.Redis.Address)
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvIntOrDefault("REDIS_DB", c.Redis.DB)

	// Market data
	c.Market.UseMock = getEnvBoolOrDefault("USE_MOCK_DATA", c.Market.UseMock)
	c.Market.Binance.APIKey = getEnvOrDefault("BINANCE_API_KEY", c.Market.Binance.APIKey)
	c.Market.Binance.APISecret = getEnvOrDefault("BINANCE_API_SECRET", c.Market.Binance.APISecret)
	c.Market.Binance.Testnet = getEnvBoolOrDefault("BINANCE_TESTNET", c.Market.Binance.Testnet)

	// Engine
	c.Engine.DryRun = getEnvBoolOrDefault("DRY_RUN", c.Engine.DryRun)
	c.Engine.PollInterval = getEnvDurationOrDefault("POLL_INTERVAL", c.Engine.PollInterval)
	c.Engine.BaseAmount = getEnvFloatOrDefault("BASE_AMOUNT", c.Engine.BaseAmount)
	c.Engine.InitialBalance = getEnvFloatOrDefault("INITIAL_BALANCE", c.Engine.InitialBalance)

	// Server
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvIntOrDefault("SERVER_PORT", c.Server.Port)

	// Logging
	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", c.Logging.JSONFormat)
}

// Validate rejects any setting the engine cannot run with. It fails fast so
// a bad deployment never trades on silently clamped values.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}

	ind := c.Indicators
	for name, p := range map[string]int{
		"sma_period":       ind.SMAPeriod,
		"ema_fast_period":  ind.EMAFastPeriod,
		"ema_slow_period":  ind.EMASlowPeriod,
		"rsi_period":       ind.RSIPeriod,
		"macd_fast":        ind.MACDFast,
		"macd_slow":        ind.MACDSlow,
		"macd_signal":      ind.MACDSignal,
		"bollinger_period": ind.BollingerPeriod,
	} {
		if p <= 0 {
			return fmt.Errorf("indicators.%s must be positive, got %d", name, p)
		}
	}
	if ind.MACDFast >= ind.MACDSlow {
		return fmt.Errorf("indicators.macd_fast (%d) must be below macd_slow (%d)", ind.MACDFast, ind.MACDSlow)
	}
	if ind.EMAFastPeriod >= ind.EMASlowPeriod {
		return fmt.Errorf("indicators.ema_fast_period (%d) must be below ema_slow_period (%d)", ind.EMAFastPeriod, ind.EMASlowPeriod)
	}
	if ind.BollingerStdDevs <= 0 {
		return fmt.Errorf("indicators.bollinger_std_devs must be positive, got %v", ind.BollingerStdDevs)
	}

	sig := c.Signals
	if sig.RSIOversold <= 0 || sig.RSIOverbought >= 100 || sig.RSIOversold >= sig.RSIOverbought {
		return fmt.Errorf("signals: need 0 < rsi_oversold < rsi_overbought < 100, got %v and %v",
			sig.RSIOversold, sig.RSIOverbought)
	}
	if sig.MinConfluence < 1 || sig.MinConfluence > 3 {
		return fmt.Errorf("signals.min_confluence must be between 1 and 3, got %d", sig.MinConfluence)
	}
	if sig.SentimentWeight < 0 || sig.SentimentWeight > 1 {
		return fmt.Errorf("signals.sentiment_weight must be within [0, 1], got %v", sig.SentimentWeight)
	}

	sz := c.Sizing
	if sz.CautiousWinRate >= sz.ConfidentWinRate {
		return fmt.Errorf("sizing.cautious_win_rate (%v) must be below confident_win_rate (%v)",
			sz.CautiousWinRate, sz.ConfidentWinRate)
	}
	if sz.MaxMultiplier < 1 {
		return fmt.Errorf("sizing.max_multiplier must be at least 1, got %v", sz.MaxMultiplier)
	}
	if sz.MinFraction <= 0 || sz.MinFraction > 1 {
		return fmt.Errorf("sizing.min_fraction must be within (0, 1], got %v", sz.MinFraction)
	}

	mg := c.Martingale
	if mg.Mode != sizing.ModeMartingale && mg.Mode != sizing.ModeAntiMartingale {
		return fmt.Errorf("martingale.mode must be %q or %q, got %q",
			sizing.ModeMartingale, sizing.ModeAntiMartingale, mg.Mode)
	}
	if mg.StepFactor < 0 {
		return fmt.Errorf("martingale.step_factor must not be negative, got %v", mg.StepFactor)
	}
	if mg.MaxMultiplier < 1 {
		return fmt.Errorf("martingale.max_multiplier must be at least 1, got %v", mg.MaxMultiplier)
	}

	pos := c.Position
	if pos.MaxPerSymbol < 1 {
		return fmt.Errorf("position.max_per_symbol must be at least 1, got %d", pos.MaxPerSymbol)
	}
	if pos.StopLossPercent <= 0 || pos.TakeProfitPercent <= 0 {
		return fmt.Errorf("position: stop_loss_percent and take_profit_percent must be positive, got %v and %v",
			pos.StopLossPercent, pos.TakeProfitPercent)
	}
	if pos.TrailingEnabled {
		if pos.TrailingActivationPercent <= 0 {
			return fmt.Errorf("position.trailing_activation_percent must be positive, got %v", pos.TrailingActivationPercent)
		}
		if pos.TrailingLockFraction <= 0 || pos.TrailingLockFraction > 1 {
			return fmt.Errorf("position.trailing_lock_fraction must be within (0, 1], got %v", pos.TrailingLockFraction)
		}
	}
	if pos.CooldownMinutes < 0 {
		return fmt.Errorf("position.cooldown_minutes must not be negative, got %d", pos.CooldownMinutes)
	}

	dd := c.Drawdown
	if dd.Enabled {
		if dd.ThresholdPercent <= 0 || dd.ThresholdPercent >= 100 {
			return fmt.Errorf("drawdown.threshold_percent must be within (0, 100), got %v", dd.ThresholdPercent)
		}
		if dd.PauseMinutes < 0 {
			return fmt.Errorf("drawdown.pause_minutes must not be negative, got %d", dd.PauseMinutes)
		}
	}

	corr := c.Correlation
	if corr.Enabled {
		if corr.ReferenceSymbol == "" {
			return fmt.Errorf("correlation.reference_symbol must be set when the filter is enabled")
		}
		if corr.EMAPeriod <= 0 {
			return fmt.Errorf("correlation.ema_period must be positive, got %d", corr.EMAPeriod)
		}
		if corr.ConfidencePenalty < 0 || corr.ConfidencePenalty > 1 {
			return fmt.Errorf("correlation.confidence_penalty must be within [0, 1], got %v", corr.ConfidencePenalty)
		}
	}

	hrs := c.Hours
	if hrs.Enabled {
		if hrs.MinTrades < 1 {
			return fmt.Errorf("hours.min_trades must be at least 1, got %d", hrs.MinTrades)
		}
		if hrs.BadWinRate < 0 || hrs.GoodWinRate > 100 || hrs.BadWinRate >= hrs.GoodWinRate {
			return fmt.Errorf("hours: need 0 <= bad_win_rate < good_win_rate <= 100, got %v and %v",
				hrs.BadWinRate, hrs.GoodWinRate)
		}
		for _, h := range hrs.StaticBadHours {
			if h < 0 || h > 23 {
				return fmt.Errorf("hours.static_bad_hours entry %d is not a valid UTC hour", h)
			}
		}
	}

	if !c.Market.UseMock && c.Market.Binance.RequestsPerSecond <= 0 {
		return fmt.Errorf("market.binance.requests_per_second must be positive, got %d",
			c.Market.Binance.RequestsPerSecond)
	}

	if c.Sentiment.Enabled {
		if c.Sentiment.URL == "" {
			return fmt.Errorf("sentiment.url must be set when sentiment is enabled")
		}
		if c.Sentiment.UpdateInterval <= 0 {
			return fmt.Errorf("sentiment.update_interval must be positive, got %v", c.Sentiment.UpdateInterval)
		}
	}

	if c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "" {
		return fmt.Errorf("database: host, user and database are all required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port %d is out of range", c.Database.Port)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not a zerolog level", c.Logging.Level)
	}

	return nil
}

// GenerateSample writes a fully populated config file with default values,
// as a starting point for a deployment.
func GenerateSample(path string) error {
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sample config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write sample config %s: %w", path, err)
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
