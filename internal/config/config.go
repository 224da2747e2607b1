// Package config defines all configuration for the grid-trading engine.
// Config is loaded from a YAML file with sensitive fields and operational
// gates overridable via GRINDER_* environment variables, following the
// teacher's viper/mapstructure pattern.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, mapping directly to the YAML
// file structure.
type Config struct {
	Armed            bool           `mapstructure:"armed"`
	Mode             string         `mapstructure:"mode"` // DRY_RUN | LIVE_TRADE
	OperatorOverride string         `mapstructure:"operator_override"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Symbols   []string        `mapstructure:"symbols"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Prefilter PrefilterConfig `mapstructure:"prefilter"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// EngineConfig tunes the per-symbol decision worker and the shared port
// worker pool, the knobs that don't belong to any single component's own
// Config struct.
type EngineConfig struct {
	DepthTopN              int    `mapstructure:"depth_top_n"`
	MaxFeedStalenessMs     int64  `mapstructure:"max_feed_staleness_ms"`
	FsmCooldownMs          int64  `mapstructure:"fsm_cooldown_ms"`
	FillProbThresholdX1000 int64  `mapstructure:"fill_prob_threshold_x1000"`
	PositionCloseThreshUsd string `mapstructure:"position_close_thresh_usd"`
	PortWorkerPoolSize     int    `mapstructure:"port_worker_pool_size"`
}

// DefaultEngineConfig returns spec-reasonable defaults, applied by Load
// when the YAML file omits the engine: section entirely.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DepthTopN:              5,
		MaxFeedStalenessMs:     10_000,
		FsmCooldownMs:          30_000,
		FillProbThresholdX1000: 400,
		PositionCloseThreshUsd: "0",
		PortWorkerPoolSize:     8,
	}
}

// ExchangeConfig holds the futures-exchange HMAC credentials and endpoints.
// AllowMainnetTrade is the hard safety gate: live orders are refused unless
// explicitly true, regardless of Mode.
type ExchangeConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	WSURL               string        `mapstructure:"ws_url"`
	ApiKey              string        `mapstructure:"api_key"`
	Secret              string        `mapstructure:"secret"`
	AllowMainnetTrade   bool          `mapstructure:"allow_mainnet_trade"`
	MaxNotionalPerOrder string        `mapstructure:"max_notional_per_order"`
	MaxOrdersPerRun     int           `mapstructure:"max_orders_per_run"`
	DeadlinePlaceMs     int           `mapstructure:"http_deadline_place_ms"`
	DeadlineCancelMs    int           `mapstructure:"http_deadline_cancel_ms"`
	DeadlineFetchMs     int           `mapstructure:"http_deadline_fetch_ms"`
	MaxAttemptsPlace    int           `mapstructure:"http_max_attempts_place"`
	MaxAttemptsCancel   int           `mapstructure:"http_max_attempts_cancel"`
	MaxAttemptsFetch    int           `mapstructure:"http_max_attempts_fetch"`
	CircuitOpenFor      time.Duration `mapstructure:"circuit_open_for"`
}

// PolicyConfig tunes the adaptive grid policy, carried 1:1 into
// policy.Config at engine startup.
type PolicyConfig struct {
	StepAlphaX1000    int64  `mapstructure:"step_alpha_x1000"`
	StepMinBps        int64  `mapstructure:"step_min_bps"`
	StepMaxBps        int64  `mapstructure:"step_max_bps"`
	StepEmaAlphaX1000 int64  `mapstructure:"step_ema_alpha_x1000"`
	LevelsUpDefault   int64  `mapstructure:"levels_up_default"`
	LevelsDownDefault int64  `mapstructure:"levels_down_default"`
	PaperSizePerLevel string `mapstructure:"paper_size_per_level"`
	MaxSkewBps        int64  `mapstructure:"max_skew_bps"`
}

// RiskConfig sets the drawdown guard's thresholds.
type RiskConfig struct {
	SessionDdBpsLimit        int64 `mapstructure:"session_dd_bps_limit"`
	DailyDdBpsLimit          int64 `mapstructure:"daily_dd_bps_limit"`
	ConsecutiveLossThreshold int   `mapstructure:"consecutive_loss_threshold"`
}

// PrefilterConfig tunes the top-K symbol selector.
type PrefilterConfig struct {
	TopK          int `mapstructure:"top_k"`
	MaxCorrelated int `mapstructure:"max_correlated"`
}

// StoreConfig sets where latch/budget state is persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the metrics HTTP server.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads config from a YAML file with GRINDER_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GRINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive/operational fields from env, matching the
	// teacher's explicit-env-wins-over-file pattern.
	if key := os.Getenv("GRINDER_API_KEY"); key != "" {
		cfg.Exchange.ApiKey = key
	}
	if secret := os.Getenv("GRINDER_API_SECRET"); secret != "" {
		cfg.Exchange.Secret = secret
	}
	if v := os.Getenv("ALLOW_MAINNET_TRADE"); v == "true" || v == "1" {
		cfg.Exchange.AllowMainnetTrade = true
	}
	if mode := os.Getenv("GRINDER_TRADING_MODE"); mode != "" {
		cfg.Mode = mode
	}
	if override := os.Getenv("GRINDER_OPERATOR_OVERRIDE"); override != "" {
		cfg.OperatorOverride = strings.ToUpper(override)
	}

	if cfg.Engine.PortWorkerPoolSize == 0 {
		cfg.Engine = DefaultEngineConfig()
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges, and enforces the
// mainnet trading gate before the engine can arm itself.
func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE_TRADE" {
		return fmt.Errorf("mode must be DRY_RUN or LIVE_TRADE, got %q", c.Mode)
	}
	if c.Mode == "LIVE_TRADE" && !c.Exchange.AllowMainnetTrade {
		return fmt.Errorf("mode=LIVE_TRADE requires exchange.allow_mainnet_trade=true (or ALLOW_MAINNET_TRADE=1)")
	}
	if c.Mode == "LIVE_TRADE" && (c.Exchange.ApiKey == "" || c.Exchange.Secret == "") {
		return fmt.Errorf("mode=LIVE_TRADE requires exchange.api_key and exchange.secret (or GRINDER_API_KEY/GRINDER_API_SECRET)")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must be non-empty")
	}
	if c.Policy.StepMinBps <= 0 || c.Policy.StepMaxBps <= c.Policy.StepMinBps {
		return fmt.Errorf("policy.step_min_bps/step_max_bps misconfigured")
	}
	if c.Risk.SessionDdBpsLimit <= 0 || c.Risk.DailyDdBpsLimit <= 0 {
		return fmt.Errorf("risk.session_dd_bps_limit and daily_dd_bps_limit must be > 0")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	return nil
}
