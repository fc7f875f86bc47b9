package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/errs"
)

// Config is the full configuration surface consumed by the trading core.
// It is validated once at load time and never reloaded mid-cycle.
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Trading     TradingConfig    `mapstructure:"trading"`
	Risk        RiskConfig       `mapstructure:"risk"`
	Signal      SignalConfig     `mapstructure:"signal"`
	Advisory    AdvisoryConfig   `mapstructure:"advisory"`
	Broker      BrokerConfig     `mapstructure:"broker"`
	Market      MarketConfig     `mapstructure:"market"`
	Resilience  ResilienceConfig `mapstructure:"resilience"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Telegram    TelegramConfig   `mapstructure:"telegram"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// TradingConfig drives the execution scheduler.
type TradingConfig struct {
	Symbols []string `mapstructure:"symbols"`
	// CycleInterval is the fixed interval between cycle starts.
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	// WorkerPoolSize bounds concurrent per-symbol pipelines.
	WorkerPoolSize int `mapstructure:"worker_pool_size"`
	// MaxCycleFailures halts the session when exceeded within one cycle.
	MaxCycleFailures int `mapstructure:"max_cycle_failures"`
	// SymbolFailureLimit disables a symbol after this many consecutive failures.
	SymbolFailureLimit int `mapstructure:"symbol_failure_limit"`
	// SymbolCooldown re-enables a disabled symbol after this long.
	SymbolCooldown time.Duration `mapstructure:"symbol_cooldown"`
}

// RiskConfig holds position sizing limits and veto thresholds.
type RiskConfig struct {
	// RiskPercent is the share of equity risked per trade, in (0,100].
	RiskPercent float64 `mapstructure:"risk_percent"`
	// MaxDailyLoss is the daily loss cap in account currency. Must be negative.
	MaxDailyLoss          float64             `mapstructure:"max_daily_loss"`
	MinLot                float64             `mapstructure:"min_lot"`
	MaxLot                float64             `mapstructure:"max_lot"`
	LotStep               float64             `mapstructure:"lot_step"`
	MaxPositionsPerSymbol int                 `mapstructure:"max_positions_per_symbol"`
	MaxTotalPositions     int                 `mapstructure:"max_total_positions"`
	// TradeSpacing is the minimum gap between trades on the same symbol.
	TradeSpacing time.Duration `mapstructure:"trade_spacing"`
	// FreeMarginBuffer rejects orders needing more than this share of free margin.
	FreeMarginBuffer float64 `mapstructure:"free_margin_buffer"`
	// CorrelationClasses groups symbols whose exposure is capped jointly.
	CorrelationClasses map[string][]string `mapstructure:"correlation_classes"`
	// CorrelationCap is the max aggregated lot exposure per class.
	CorrelationCap float64             `mapstructure:"correlation_cap"`
	TrailingStop   TrailingStopConfig  `mapstructure:"trailing_stop"`
	PartialClose   []PartialCloseLevel `mapstructure:"partial_close"`
}

// TrailingStopConfig controls stop advancement. Start is the profit distance
// (in pips) before trailing activates, Step the trail distance behind price.
type TrailingStopConfig struct {
	Start float64 `mapstructure:"start"`
	Step  float64 `mapstructure:"step"`
}

// PartialCloseLevel is one rung of the partial-close ladder.
type PartialCloseLevel struct {
	// TargetPips is the profit target in pips that triggers the close.
	TargetPips float64 `mapstructure:"target_pips"`
	// Fraction of the original position to close, in (0,1].
	Fraction float64 `mapstructure:"fraction"`
}

// SignalConfig drives the rule filters and advisory confirmation.
type SignalConfig struct {
	RSIOversold   float64 `mapstructure:"rsi_oversold"`
	RSIOverbought float64 `mapstructure:"rsi_overbought"`
	// ConfidenceThreshold is the minimum advisory confidence in (0,1].
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	// DegradedConfidence is the fixed confidence of rule-only fallback decisions.
	DegradedConfidence float64 `mapstructure:"degraded_confidence"`
	// SRProximityPips vetoes entries too close to support/resistance.
	SRProximityPips float64 `mapstructure:"sr_proximity_pips"`
}

// AdvisoryConfig points at the Ollama-compatible advisory endpoint.
type AdvisoryConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// Models is the ordered fallback list tried on failure.
	Models  []string      `mapstructure:"models"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BrokerConfig points at the brokerage bridge HTTP service.
type BrokerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MarketConfig drives the indicator snapshot provider.
type MarketConfig struct {
	Timeframe   string        `mapstructure:"timeframe"`
	CandleCount int           `mapstructure:"candle_count"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ResilienceConfig carries per-dependency protection settings keyed by
// dependency id ("advisory", "brokerage").
type ResilienceConfig struct {
	Cache        CacheConfig                 `mapstructure:"cache"`
	Dependencies map[string]DependencyConfig `mapstructure:"dependencies"`
}

type CacheConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// DependencyConfig protects one external dependency.
type DependencyConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Timeout   time.Duration   `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	MaxCalls int           `mapstructure:"max_calls"`
	Interval time.Duration `mapstructure:"interval"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type RetryConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Load reads configuration from ./configs/config.yaml (optional), applies
// defaults, overlays environment variables and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; defaults and env vars suffice.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Environment = strings.ToLower(cfg.Environment)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks every constraint the core depends on. A violation is a
// ValidationError and fatal at startup.
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return errs.New(errs.KindValidation, "trading.symbols must not be empty")
	}
	if c.Trading.CycleInterval <= 0 {
		return errs.New(errs.KindValidation, "trading.cycle_interval must be positive")
	}
	if c.Trading.WorkerPoolSize <= 0 {
		return errs.New(errs.KindValidation, "trading.worker_pool_size must be positive")
	}
	if c.Risk.RiskPercent <= 0 || c.Risk.RiskPercent > 100 {
		return errs.Newf(errs.KindValidation, "risk.risk_percent must be in (0,100], got %v", c.Risk.RiskPercent)
	}
	if c.Risk.MaxDailyLoss >= 0 {
		return errs.Newf(errs.KindValidation, "risk.max_daily_loss must be negative, got %v", c.Risk.MaxDailyLoss)
	}
	if c.Risk.TrailingStop.Start <= 0 || c.Risk.TrailingStop.Step <= 0 {
		return errs.New(errs.KindValidation, "risk.trailing_stop start and step must be positive")
	}
	if c.Risk.MinLot <= 0 || c.Risk.MaxLot < c.Risk.MinLot {
		return errs.New(errs.KindValidation, "risk lot bounds invalid: need 0 < min_lot <= max_lot")
	}
	if c.Risk.LotStep <= 0 {
		return errs.New(errs.KindValidation, "risk.lot_step must be positive")
	}
	if err := validateLadder(c.Risk.PartialClose); err != nil {
		return err
	}
	if c.Signal.RSIOversold >= c.Signal.RSIOverbought {
		return errs.Newf(errs.KindValidation, "signal.rsi_oversold (%v) must be below rsi_overbought (%v)",
			c.Signal.RSIOversold, c.Signal.RSIOverbought)
	}
	if c.Signal.ConfidenceThreshold <= 0 || c.Signal.ConfidenceThreshold > 1 {
		return errs.Newf(errs.KindValidation, "signal.confidence_threshold must be in (0,1], got %v", c.Signal.ConfidenceThreshold)
	}
	if c.Signal.DegradedConfidence < 0 || c.Signal.DegradedConfidence > 1 {
		return errs.New(errs.KindValidation, "signal.degraded_confidence must be in [0,1]")
	}
	if c.Broker.BaseURL == "" {
		return errs.New(errs.KindValidation, "broker.base_url must be set")
	}
	if len(c.Advisory.Models) == 0 {
		return errs.New(errs.KindValidation, "advisory.models must list at least one model")
	}
	if c.Resilience.Cache.MaxSize <= 0 || c.Resilience.Cache.TTL <= 0 {
		return errs.New(errs.KindValidation, "resilience.cache max_size and ttl must be positive")
	}
	for dep, dc := range c.Resilience.Dependencies {
		if dc.RateLimit.MaxCalls <= 0 || dc.RateLimit.Interval <= 0 {
			return errs.Newf(errs.KindValidation, "resilience.dependencies.%s rate_limit invalid", dep)
		}
		if dc.Breaker.FailureThreshold <= 0 || dc.Breaker.ResetTimeout <= 0 {
			return errs.Newf(errs.KindValidation, "resilience.dependencies.%s breaker invalid", dep)
		}
		if dc.Retry.MaxRetries < 0 || dc.Retry.BackoffFactor < 1 {
			return errs.Newf(errs.KindValidation, "resilience.dependencies.%s retry invalid", dep)
		}
		if dc.Timeout <= 0 {
			return errs.Newf(errs.KindValidation, "resilience.dependencies.%s timeout must be positive", dep)
		}
	}
	return nil
}

func validateLadder(ladder []PartialCloseLevel) error {
	prev := 0.0
	cumulative := 0.0
	for i, level := range ladder {
		if level.TargetPips <= prev {
			return errs.Newf(errs.KindValidation, "risk.partial_close[%d]: targets must be strictly increasing", i)
		}
		if level.Fraction <= 0 || level.Fraction > 1 {
			return errs.Newf(errs.KindValidation, "risk.partial_close[%d]: fraction must be in (0,1]", i)
		}
		prev = level.TargetPips
		cumulative += level.Fraction
	}
	if cumulative > 1.0+1e-9 {
		return errs.Newf(errs.KindValidation, "risk.partial_close: cumulative fraction %.4f exceeds 1", cumulative)
	}
	return nil
}

// DependencyOrDefault returns the resilience settings for a dependency id,
// falling back to conservative defaults for unknown ids.
func (c *Config) DependencyOrDefault(dep string) DependencyConfig {
	if dc, ok := c.Resilience.Dependencies[dep]; ok {
		return dc
	}
	return DependencyConfig{
		RateLimit: RateLimitConfig{MaxCalls: 10, Interval: time.Minute},
		Breaker:   BreakerConfig{FailureThreshold: 3, ResetTimeout: 60 * time.Second},
		Retry:     RetryConfig{MaxRetries: 2, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffFactor: 2.0},
		Timeout:   15 * time.Second,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8090)

	v.SetDefault("trading.symbols", []string{"EURUSD", "GBPUSD", "USDJPY"})
	v.SetDefault("trading.cycle_interval", "120s")
	v.SetDefault("trading.worker_pool_size", 3)
	v.SetDefault("trading.max_cycle_failures", 5)
	v.SetDefault("trading.symbol_failure_limit", 3)
	v.SetDefault("trading.symbol_cooldown", "10m")

	v.SetDefault("risk.risk_percent", 2.0)
	v.SetDefault("risk.max_daily_loss", -500.0)
	v.SetDefault("risk.min_lot", 0.01)
	v.SetDefault("risk.max_lot", 1.0)
	v.SetDefault("risk.lot_step", 0.01)
	v.SetDefault("risk.max_positions_per_symbol", 1)
	v.SetDefault("risk.max_total_positions", 3)
	v.SetDefault("risk.trade_spacing", "300s")
	v.SetDefault("risk.free_margin_buffer", 0.8)
	v.SetDefault("risk.correlation_cap", 2.0)
	v.SetDefault("risk.trailing_stop.start", 20.0)
	v.SetDefault("risk.trailing_stop.step", 15.0)

	v.SetDefault("signal.rsi_oversold", 30.0)
	v.SetDefault("signal.rsi_overbought", 70.0)
	v.SetDefault("signal.confidence_threshold", 0.6)
	v.SetDefault("signal.degraded_confidence", 0.4)
	v.SetDefault("signal.sr_proximity_pips", 5.0)

	v.SetDefault("advisory.base_url", "http://localhost:11434")
	v.SetDefault("advisory.models", []string{"fingpt", "llama3"})
	v.SetDefault("advisory.timeout", "30s")

	v.SetDefault("broker.base_url", "http://localhost:5000")
	v.SetDefault("broker.timeout", "30s")

	v.SetDefault("market.timeframe", "M15")
	v.SetDefault("market.candle_count", 100)
	v.SetDefault("market.timeout", "10s")

	v.SetDefault("resilience.cache.max_size", 256)
	v.SetDefault("resilience.cache.ttl", "60s")
	for _, dep := range []string{"advisory", "brokerage"} {
		prefix := "resilience.dependencies." + dep
		v.SetDefault(prefix+".rate_limit.max_calls", 30)
		v.SetDefault(prefix+".rate_limit.interval", "60s")
		v.SetDefault(prefix+".breaker.failure_threshold", 3)
		v.SetDefault(prefix+".breaker.reset_timeout", "60s")
		v.SetDefault(prefix+".retry.max_retries", 2)
		v.SetDefault(prefix+".retry.initial_delay", "200ms")
		v.SetDefault(prefix+".retry.max_delay", "5s")
		v.SetDefault(prefix+".retry.backoff_factor", 2.0)
		v.SetDefault(prefix+".timeout", "15s")
	}

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)
}
