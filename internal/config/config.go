// Package config provides configuration management for the realtime trading client.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Istanbul must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Streams     StreamConfig   `mapstructure:"streams"`
	API         APIConfig      `mapstructure:"api"`
	Orders      OrderConfig    `mapstructure:"orders"`
	Security    SecurityConfig `mapstructure:"security"`
	Log         LogConfig      `mapstructure:"log"`
	Credentials Credentials    `mapstructure:"-"` // Loaded separately
}

// StreamConfig holds the STOMP stream endpoints and connector behaviour.
type StreamConfig struct {
	MarketDataURL        string        `mapstructure:"market_data_url"`
	OrderBookURL         string        `mapstructure:"order_book_url"`
	TradesURL            string        `mapstructure:"trades_url"`
	ReconnectEnabled     bool          `mapstructure:"reconnect_enabled"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ConnectionTimeout    time.Duration `mapstructure:"connection_timeout"`
	HeartbeatOutgoing    time.Duration `mapstructure:"heartbeat_outgoing"`
	HeartbeatIncoming    time.Duration `mapstructure:"heartbeat_incoming"`
	UpdateFrequency      int           `mapstructure:"update_frequency"` // milliseconds
	DefaultSymbols       []string      `mapstructure:"default_symbols"`
	MaxOrderBookLevels   int           `mapstructure:"max_order_book_levels"`
	MaxTradeHistory      int           `mapstructure:"max_trade_history"`
}

// APIConfig holds REST endpoint settings.
type APIConfig struct {
	OrderBaseURL      string        `mapstructure:"order_base_url"`
	MarketBaseURL     string        `mapstructure:"market_base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	TenantID          int64         `mapstructure:"tenant_id"`
}

// OrderConfig holds order validation rules.
type OrderConfig struct {
	StalePriceAfter  time.Duration `mapstructure:"stale_price_after"`
	MaxScheduleAhead time.Duration `mapstructure:"max_schedule_ahead"`
	MarketOpen       string        `mapstructure:"market_open"`  // HH:MM
	MarketClose      string        `mapstructure:"market_close"` // HH:MM
	Timezone         string        `mapstructure:"timezone"`
	HolidayCalendar  bool          `mapstructure:"holiday_calendar"`
	CalendarMIC      string        `mapstructure:"calendar_mic"`
	DefaultAccount   string        `mapstructure:"default_account"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	AuditEnabled     bool   `mapstructure:"audit_enabled"`
	AuditDir         string `mapstructure:"audit_dir"`
	StrictValidation bool   `mapstructure:"strict_validation"`
	JournalPath      string `mapstructure:"journal_path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// Credentials holds the bearer token used for REST calls.
type Credentials struct {
	Token string `mapstructure:"token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/stofina"
	}
	return filepath.Join(home, ".config", "stofina")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
// A missing config.toml is replaced by a commented template and defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env files are optional; values already in the environment win.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.Security.AuditDir == "" {
		cfg.Security.AuditDir = filepath.Join(configDir, "audit")
	}
	if cfg.Security.JournalPath == "" {
		cfg.Security.JournalPath = filepath.Join(configDir, "journal.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("streams.market_data_url", "ws://localhost:9005/ws/websocket")
	v.SetDefault("streams.order_book_url", "ws://localhost:9006/ws/orderbook/websocket")
	v.SetDefault("streams.trades_url", "ws://localhost:9006/ws/trades/websocket")
	v.SetDefault("streams.reconnect_enabled", true)
	v.SetDefault("streams.reconnect_delay", "2s")
	v.SetDefault("streams.max_reconnect_attempts", 10)
	v.SetDefault("streams.connection_timeout", "10s")
	v.SetDefault("streams.heartbeat_outgoing", "4s")
	v.SetDefault("streams.heartbeat_incoming", "4s")
	v.SetDefault("streams.update_frequency", 1000)
	v.SetDefault("streams.default_symbols", []string{"THYAO", "GARAN", "ISCTR", "AKBNK", "TUPRS"})
	v.SetDefault("streams.max_order_book_levels", 20)
	v.SetDefault("streams.max_trade_history", 50)

	v.SetDefault("api.order_base_url", "http://localhost:8081")
	v.SetDefault("api.market_base_url", "http://localhost:8082")
	v.SetDefault("api.request_timeout", "10s")
	v.SetDefault("api.requests_per_second", 5.0)
	v.SetDefault("api.tenant_id", 1)

	v.SetDefault("orders.stale_price_after", "30s")
	v.SetDefault("orders.max_schedule_ahead", "168h")
	v.SetDefault("orders.market_open", "09:30")
	v.SetDefault("orders.market_close", "18:00")
	v.SetDefault("orders.timezone", "Europe/Istanbul")
	v.SetDefault("orders.holiday_calendar", false)
	v.SetDefault("orders.calendar_mic", "xist")

	v.SetDefault("security.audit_enabled", true)
	v.SetDefault("security.strict_validation", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", true)
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOFINA_TOKEN"); v != "" {
		cfg.Credentials.Token = v
	}
	if v := os.Getenv("STOFINA_ORDER_API"); v != "" {
		cfg.API.OrderBaseURL = v
	}
	if v := os.Getenv("STOFINA_MARKET_API"); v != "" {
		cfg.API.MarketBaseURL = v
	}
	if v := os.Getenv("STOFINA_MARKET_DATA_WS"); v != "" {
		cfg.Streams.MarketDataURL = v
	}
	if v := os.Getenv("STOFINA_ORDERBOOK_WS"); v != "" {
		cfg.Streams.OrderBookURL = v
	}
	if v := os.Getenv("STOFINA_TRADES_WS"); v != "" {
		cfg.Streams.TradesURL = v
	}
	if v := os.Getenv("STOFINA_ACCOUNT_ID"); v != "" {
		cfg.Orders.DefaultAccount = v
	}
	if v := os.Getenv("STOFINA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"streams.market_data_url": c.Streams.MarketDataURL,
		"streams.order_book_url":  c.Streams.OrderBookURL,
		"streams.trades_url":      c.Streams.TradesURL,
		"api.order_base_url":      c.API.OrderBaseURL,
		"api.market_base_url":     c.API.MarketBaseURL,
	} {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Streams.ReconnectDelay <= 0 {
		return fmt.Errorf("streams.reconnect_delay must be positive")
	}
	if c.Streams.MaxReconnectAttempts < 0 {
		return fmt.Errorf("streams.max_reconnect_attempts must be non-negative")
	}
	if c.Streams.ConnectionTimeout <= 0 {
		return fmt.Errorf("streams.connection_timeout must be positive")
	}
	if c.Streams.MaxTradeHistory <= 0 {
		return fmt.Errorf("streams.max_trade_history must be positive")
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be positive")
	}
	if c.Orders.StalePriceAfter <= 0 {
		return fmt.Errorf("orders.stale_price_after must be positive")
	}

	open, err := ParseClock(c.Orders.MarketOpen)
	if err != nil {
		return fmt.Errorf("orders.market_open: %w", err)
	}
	closing, err := ParseClock(c.Orders.MarketClose)
	if err != nil {
		return fmt.Errorf("orders.market_close: %w", err)
	}
	if open >= closing {
		return fmt.Errorf("orders.market_open must be before orders.market_close")
	}

	if _, err := time.LoadLocation(c.Orders.Timezone); err != nil {
		return fmt.Errorf("orders.timezone: %w", err)
	}

	return nil
}

// ParseClock parses an HH:MM wall-clock value into minutes after midnight.
func ParseClock(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
