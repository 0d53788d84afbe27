// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the structure for all application configuration.
type Config struct {
	Instrument InstrumentConfig `yaml:"instrument"`
	Session    SessionConfig    `yaml:"session"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Risk       RiskConfig       `yaml:"risk"`
	Quote      QuoteConfig      `yaml:"quote"`
	Feed       FeedConfig       `yaml:"feed"`
	Broker     BrokerConfig     `yaml:"broker"`
	Journal    JournalConfig    `yaml:"journal"`
	Database   DatabaseConfig   `yaml:"database"`
	DBWriter   DBWriterConfig   `yaml:"db_writer"`
	Alert      AlertConfig      `yaml:"alert"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	LogLevel   string           `yaml:"log_level"`
}

// InstrumentConfig identifies the watched underlying and how its option contracts are named.
type InstrumentConfig struct {
	TickToken          string      `yaml:"tick_token"`           // token carried by feed messages, e.g. "26000"
	SubscriptionKey    string      `yaml:"subscription_key"`     // feed subscription key, e.g. "NSE|26000"
	HistorySymbol      string      `yaml:"history_symbol"`       // candles provider symbol, e.g. "NSE:NIFTY50-INDEX"
	OptionSymbolPrefix string      `yaml:"option_symbol_prefix"` // e.g. "NSE:NIFTY25515"
	StrikeStep         FlexDecimal `yaml:"strike_step"`
	StrikeCount        int         `yaml:"strike_count"`
	CandleResolution   string      `yaml:"candle_resolution"`
}

// SessionConfig holds the warm-up window, in the exchange's local time.
type SessionConfig struct {
	Timezone    string    `yaml:"timezone"`
	WarmupStart ClockTime `yaml:"warmup_start"`
	WarmupEnd   ClockTime `yaml:"warmup_end"`
}

// StrategyConfig holds ORB entry and in-trade parameters.
type StrategyConfig struct {
	BufferPoints     FlexDecimal `yaml:"buffer_points"`      // index points
	TouchEpsilon     FlexDecimal `yaml:"touch_epsilon"`      // index points
	TargetPremium    FlexDecimal `yaml:"target_premium"`     // option premium the contract selection aims for
	LotSize          int         `yaml:"lot_size"`           // contracts per lot
	CommissionRate   FlexDecimal `yaml:"commission_rate"`    // fraction per side, 0.0025 = 0.25%
	ProfitTarget     FlexDecimal `yaml:"profit_target"`      // currency, net of commission
	PriceMoveTrigger FlexDecimal `yaml:"price_move_trigger"` // option points gained before the stop is trailed
	StopOffset       FlexDecimal `yaml:"stop_offset"`        // option points below entry (initial) / above entry (trailed)
}

// RiskConfig holds the session risk budget.
type RiskConfig struct {
	MaxDailyProfit FlexDecimal `yaml:"max_daily_profit"`
	MaxDailyLoss   FlexDecimal `yaml:"max_daily_loss"` // negative amount
	MaxCEEntries   int         `yaml:"max_ce_entries"`
	MaxPEEntries   int         `yaml:"max_pe_entries"`
}

// QuoteConfig controls the options-chain cache and provider timeouts.
type QuoteConfig struct {
	RefreshIntervalMs int `yaml:"refresh_interval_ms"`
	FetchTimeoutMs    int `yaml:"fetch_timeout_ms"`
}

// FeedConfig holds the market-data websocket settings.
type FeedConfig struct {
	URL          string `yaml:"url"`
	UserID       string `yaml:"-"` // Loaded from env
	AccountID    string `yaml:"-"` // Loaded from env
	SessionToken string `yaml:"-"` // Loaded from env
}

// BrokerConfig holds the REST data provider settings (history, options chain, quotes).
type BrokerConfig struct {
	BaseURL     string `yaml:"base_url"`
	ClientID    string `yaml:"-"` // Loaded from env
	AccessToken string `yaml:"-"` // Loaded from env
}

// JournalConfig selects where entry/exit events are written for operators.
type JournalConfig struct {
	CSVPath string `yaml:"csv_path"`
}

// DatabaseConfig holds TimescaleDB connection settings.
type DatabaseConfig struct {
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	User          string   `yaml:"user"`
	Password      string   `yaml:"password"`
	Name          string   `yaml:"name"`
	SSLMode       string   `yaml:"sslmode"`
	MigrationsDir string   `yaml:"migrations_dir"`
	Enabled       FlexBool `yaml:"enabled"`
}

// DBWriterConfig holds batching settings for the journal writer.
type DBWriterConfig struct {
	BatchSize            int `yaml:"batch_size"`
	WriteIntervalSeconds int `yaml:"write_interval_seconds"`
	WriteTimeoutSeconds  int `yaml:"write_timeout_seconds"`
}

// AlertConfig configures the webhook notifier. An empty URL disables alerts.
type AlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// HTTPConfig configures the health/status/metrics server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures the optional rotating session log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DSN returns the postgres connection string for the journal database.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, sslMode)
}

// Location loads the exchange time zone.
func (s SessionConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// RefreshInterval returns the options-chain cache refresh interval.
func (q QuoteConfig) RefreshInterval() time.Duration {
	return time.Duration(q.RefreshIntervalMs) * time.Millisecond
}

// FetchTimeout returns the per-call timeout for pricing and history requests.
func (q QuoteConfig) FetchTimeout() time.Duration {
	return time.Duration(q.FetchTimeoutMs) * time.Millisecond
}

// LoadConfig loads configuration from the specified YAML file path
// and environment variables, then validates it.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		// Default values
		LogLevel: "info",
		HTTP:     HTTPConfig{Addr: ":8080"},
		DBWriter: DBWriterConfig{BatchSize: 100, WriteIntervalSeconds: 1, WriteTimeoutSeconds: 5},
		Instrument: InstrumentConfig{
			CandleResolution: "1",
		},
	}

	// Read YAML file
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides loads sensitive data and overrides from environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FYERS_CLIENT_ID"); v != "" {
		cfg.Broker.ClientID = v
	}
	if v := os.Getenv("FYERS_ACCESS_TOKEN"); v != "" {
		cfg.Broker.AccessToken = v
	}
	if v := os.Getenv("NOREN_USER_ID"); v != "" {
		cfg.Feed.UserID = v
	}
	if v := os.Getenv("NOREN_ACCOUNT_ID"); v != "" {
		cfg.Feed.AccountID = v
	}
	if v := os.Getenv("NOREN_SESSION_TOKEN"); v != "" {
		cfg.Feed.SessionToken = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
}

// Validate checks that every strategy and risk parameter is present and consistent.
// Strategy parameters have no defaults.
func (c *Config) Validate() error {
	var errs []error
	required := func(name string, fd FlexDecimal) {
		if !fd.Set {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	positive := func(name string, fd FlexDecimal) {
		required(name, fd)
		if fd.Set && !fd.IsPositive() {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Instrument.TickToken == "" {
		errs = append(errs, errors.New("instrument.tick_token is required"))
	}
	if c.Instrument.HistorySymbol == "" {
		errs = append(errs, errors.New("instrument.history_symbol is required"))
	}
	if c.Instrument.OptionSymbolPrefix == "" {
		errs = append(errs, errors.New("instrument.option_symbol_prefix is required"))
	}
	positive("instrument.strike_step", c.Instrument.StrikeStep)
	if c.Instrument.StrikeCount <= 0 {
		errs = append(errs, errors.New("instrument.strike_count must be positive"))
	}

	if _, err := c.Session.Location(); err != nil || c.Session.Timezone == "" {
		errs = append(errs, fmt.Errorf("session.timezone %q is invalid", c.Session.Timezone))
	}
	if !c.Session.WarmupStart.Set || !c.Session.WarmupEnd.Set {
		errs = append(errs, errors.New("session.warmup_start and session.warmup_end are required"))
	} else if c.Session.WarmupEnd.String() <= c.Session.WarmupStart.String() {
		errs = append(errs, errors.New("session.warmup_end must be after session.warmup_start"))
	}

	required("strategy.buffer_points", c.Strategy.BufferPoints)
	positive("strategy.touch_epsilon", c.Strategy.TouchEpsilon)
	positive("strategy.target_premium", c.Strategy.TargetPremium)
	required("strategy.commission_rate", c.Strategy.CommissionRate)
	positive("strategy.profit_target", c.Strategy.ProfitTarget)
	positive("strategy.price_move_trigger", c.Strategy.PriceMoveTrigger)
	required("strategy.stop_offset", c.Strategy.StopOffset)
	if c.Strategy.LotSize <= 0 {
		errs = append(errs, errors.New("strategy.lot_size must be positive"))
	}
	if c.Strategy.BufferPoints.IsNegative() || c.Strategy.CommissionRate.IsNegative() || c.Strategy.StopOffset.IsNegative() {
		errs = append(errs, errors.New("strategy.buffer_points, commission_rate and stop_offset must not be negative"))
	}

	positive("risk.max_daily_profit", c.Risk.MaxDailyProfit)
	required("risk.max_daily_loss", c.Risk.MaxDailyLoss)
	if c.Risk.MaxDailyLoss.Set && !c.Risk.MaxDailyLoss.IsNegative() {
		errs = append(errs, errors.New("risk.max_daily_loss must be negative"))
	}
	if c.Risk.MaxCEEntries < 0 || c.Risk.MaxPEEntries < 0 {
		errs = append(errs, errors.New("risk.max_ce_entries and risk.max_pe_entries must not be negative"))
	}

	if c.Quote.RefreshIntervalMs <= 0 {
		errs = append(errs, errors.New("quote.refresh_interval_ms must be positive"))
	}
	if c.Quote.FetchTimeoutMs <= 0 {
		errs = append(errs, errors.New("quote.fetch_timeout_ms must be positive"))
	}

	return errors.Join(errs...)
}
