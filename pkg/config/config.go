// Package config loads the static YAML configuration (endpoint URLs, rate
// limit table, breaker and retry tuning) and API credentials from the
// environment. Credentials never live in the YAML file; a local .env file is
// honored when present.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/volatiq/exchange-core/pkg/breaker"
	"github.com/volatiq/exchange-core/pkg/market"
	"github.com/volatiq/exchange-core/pkg/ratelimit"
	"github.com/volatiq/exchange-core/pkg/rest"
	"github.com/volatiq/exchange-core/pkg/snapshot"
	"github.com/volatiq/exchange-core/pkg/stream"
)

// Config is the application configuration root.
type Config struct {
	App       AppConfig       `yaml:"app"`
	REST      RESTConfig      `yaml:"rest"`
	Stream    StreamConfig    `yaml:"stream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// LogFile, when set, routes logs to a size-rotated file.
	LogFile      string `yaml:"log_file"`
	LogMaxSizeMB int    `yaml:"log_max_size_mb"`
}

// RESTConfig tunes the pooled HTTP session.
type RESTConfig struct {
	BaseURL          string `yaml:"base_url"`
	TimeoutMs        int    `yaml:"timeout_ms"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
	ReadTimeoutMs    int    `yaml:"read_timeout_ms"`
	MaxIdleConns     int    `yaml:"max_idle_conns"`
	MaxConnsPerHost  int    `yaml:"max_conns_per_host"`
	MaxRetries       int    `yaml:"max_retries"`
	RetryDelayMs     int    `yaml:"retry_delay_ms"`
	MaxJitterMs      int    `yaml:"max_jitter_ms"`
	RecvWindowMs     int    `yaml:"recv_window_ms"`
}

// StreamConfig tunes the WebSocket connection.
type StreamConfig struct {
	URL                     string `yaml:"url"`
	PingIntervalMs          int    `yaml:"ping_interval_ms"`
	ReadTimeoutMs           int    `yaml:"read_timeout_ms"`
	DeadAfterMs             int    `yaml:"dead_after_ms"`
	ReconnectDelayMs        int    `yaml:"reconnect_delay_ms"`
	MaxReconnectDelayMs     int    `yaml:"max_reconnect_delay_ms"`
	MaxReconnects           int    `yaml:"max_reconnects"`
	MaxParseErrors          int    `yaml:"max_parse_errors"`
	LiquidationRetentionHrs int    `yaml:"liquidation_retention_hours"`
}

// EndpointLimit is one row of the rate-limit table.
type EndpointLimit struct {
	Limit    int `yaml:"limit"`
	WindowMs int `yaml:"window_ms"`
}

// RateLimitConfig is the sliding-window quota table.
type RateLimitConfig struct {
	Global        EndpointLimit            `yaml:"global"`
	Default       EndpointLimit            `yaml:"default"`
	Endpoints     map[string]EndpointLimit `yaml:"endpoints"`
	LowWater      int                      `yaml:"low_water"`
	SafetyDelayMs int                      `yaml:"safety_delay_ms"`
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	Threshold         int `yaml:"threshold"`
	RecoveryTimeoutMs int `yaml:"recovery_timeout_ms"`
}

// SnapshotConfig tunes the aggregator's sub-fetch parameters.
type SnapshotConfig struct {
	Category             string `yaml:"category"`
	OrderBookDepth       int    `yaml:"orderbook_depth"`
	TradeLimit           int    `yaml:"trade_limit"`
	KlineLimit           int    `yaml:"kline_limit"`
	RatioPeriod          string `yaml:"ratio_period"`
	OpenInterestInterval string `yaml:"open_interest_interval"`
	OpenInterestLimit    int    `yaml:"open_interest_limit"`
}

// Load reads and validates the YAML config at path, applying defaults for
// anything omitted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogMaxSizeMB <= 0 {
		c.App.LogMaxSizeMB = 100
	}
	if c.REST.TimeoutMs <= 0 {
		c.REST.TimeoutMs = 30_000
	}
	if c.REST.ConnectTimeoutMs <= 0 {
		c.REST.ConnectTimeoutMs = 5_000
	}
	if c.REST.ReadTimeoutMs <= 0 {
		c.REST.ReadTimeoutMs = 15_000
	}
	if c.REST.MaxIdleConns <= 0 {
		c.REST.MaxIdleConns = 100
	}
	if c.REST.MaxConnsPerHost <= 0 {
		c.REST.MaxConnsPerHost = 20
	}
	if c.REST.MaxRetries <= 0 {
		c.REST.MaxRetries = 3
	}
	if c.REST.RetryDelayMs <= 0 {
		c.REST.RetryDelayMs = 1_000
	}
	if c.REST.MaxJitterMs <= 0 {
		c.REST.MaxJitterMs = 500
	}
	if c.REST.RecvWindowMs <= 0 {
		c.REST.RecvWindowMs = 5_000
	}
	if c.Stream.PingIntervalMs <= 0 {
		c.Stream.PingIntervalMs = 20_000
	}
	if c.Stream.ReadTimeoutMs <= 0 {
		c.Stream.ReadTimeoutMs = 30_000
	}
	if c.Stream.DeadAfterMs <= 0 {
		c.Stream.DeadAfterMs = 60_000
	}
	if c.Stream.ReconnectDelayMs <= 0 {
		c.Stream.ReconnectDelayMs = 1_000
	}
	if c.Stream.MaxReconnectDelayMs <= 0 {
		c.Stream.MaxReconnectDelayMs = 60_000
	}
	if c.Stream.MaxReconnects <= 0 {
		c.Stream.MaxReconnects = 10
	}
	if c.Stream.MaxParseErrors <= 0 {
		c.Stream.MaxParseErrors = 5
	}
	if c.Stream.LiquidationRetentionHrs <= 0 {
		c.Stream.LiquidationRetentionHrs = 24
	}
	if c.RateLimit.Global.Limit <= 0 {
		c.RateLimit.Global = EndpointLimit{Limit: 600, WindowMs: 5_000}
	}
	if c.RateLimit.Default.Limit <= 0 {
		c.RateLimit.Default = EndpointLimit{Limit: 120, WindowMs: 1_000}
	}
	if c.RateLimit.LowWater <= 0 {
		c.RateLimit.LowWater = 10
	}
	if c.RateLimit.SafetyDelayMs <= 0 {
		c.RateLimit.SafetyDelayMs = 500
	}
	if c.Breaker.Threshold <= 0 {
		c.Breaker.Threshold = 5
	}
	if c.Breaker.RecoveryTimeoutMs <= 0 {
		c.Breaker.RecoveryTimeoutMs = 60_000
	}
	if c.Snapshot.Category == "" {
		def := snapshot.DefaultOptions()
		c.Snapshot = SnapshotConfig{
			Category:             def.Category,
			OrderBookDepth:       def.OrderBookDepth,
			TradeLimit:           def.TradeLimit,
			KlineLimit:           def.KlineLimit,
			RatioPeriod:          def.RatioPeriod,
			OpenInterestInterval: def.OpenInterestInterval,
			OpenInterestLimit:    def.OpenInterestLimit,
		}
	}
}

func (c *Config) validate() error {
	if c.REST.BaseURL == "" {
		return fmt.Errorf("rest.base_url is required")
	}
	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url is required")
	}
	total := time.Duration(c.REST.TimeoutMs) * time.Millisecond
	layered := time.Duration(c.REST.ConnectTimeoutMs+c.REST.ReadTimeoutMs) * time.Millisecond
	if total <= layered {
		return fmt.Errorf("rest.timeout_ms must exceed connect_timeout_ms + read_timeout_ms")
	}
	return nil
}

// Credentials reads API_KEY and API_SECRET from the environment, loading a
// .env file first when one exists. Missing credentials are not an error:
// public market-data access works unauthenticated.
func Credentials() (key, secret string) {
	_ = godotenv.Load()
	return os.Getenv("API_KEY"), os.Getenv("API_SECRET")
}

// RESTClientConfig converts to the rest package's config.
func (c *Config) RESTClientConfig(apiKey, apiSecret string) *rest.Config {
	cfg := rest.DefaultConfig()
	cfg.BaseURL = c.REST.BaseURL
	cfg.APIKey = apiKey
	cfg.APISecret = apiSecret
	cfg.RecvWindowMs = int64(c.REST.RecvWindowMs)
	cfg.Timeout = time.Duration(c.REST.TimeoutMs) * time.Millisecond
	cfg.ConnectTimeout = time.Duration(c.REST.ConnectTimeoutMs) * time.Millisecond
	cfg.ReadTimeout = time.Duration(c.REST.ReadTimeoutMs) * time.Millisecond
	cfg.MaxIdleConns = c.REST.MaxIdleConns
	cfg.MaxConnsPerHost = c.REST.MaxConnsPerHost
	cfg.MaxRetries = uint(c.REST.MaxRetries)
	cfg.RetryDelay = time.Duration(c.REST.RetryDelayMs) * time.Millisecond
	cfg.MaxJitter = time.Duration(c.REST.MaxJitterMs) * time.Millisecond
	return cfg
}

// WindowConfig converts the rate-limit table.
func (c *Config) WindowConfig() ratelimit.WindowConfig {
	cfg := ratelimit.WindowConfig{
		Global: ratelimit.Rate{
			Limit:    c.RateLimit.Global.Limit,
			Interval: time.Duration(c.RateLimit.Global.WindowMs) * time.Millisecond,
		},
		DefaultEndpoint: ratelimit.Rate{
			Limit:    c.RateLimit.Default.Limit,
			Interval: time.Duration(c.RateLimit.Default.WindowMs) * time.Millisecond,
		},
		Endpoints:   make(map[market.Endpoint]ratelimit.Rate, len(c.RateLimit.Endpoints)),
		LowWater:    int64(c.RateLimit.LowWater),
		SafetyDelay: time.Duration(c.RateLimit.SafetyDelayMs) * time.Millisecond,
	}
	for name, limit := range c.RateLimit.Endpoints {
		cfg.Endpoints[market.Endpoint(name)] = ratelimit.Rate{
			Limit:    limit.Limit,
			Interval: time.Duration(limit.WindowMs) * time.Millisecond,
		}
	}
	return cfg
}

// BreakerSettings converts the breaker tuning.
func (c *Config) BreakerSettings() breaker.Config {
	return breaker.Config{
		Threshold:       c.Breaker.Threshold,
		RecoveryTimeout: time.Duration(c.Breaker.RecoveryTimeoutMs) * time.Millisecond,
	}
}

// StreamSettings converts the stream tuning.
func (c *Config) StreamSettings() stream.Config {
	cfg := stream.DefaultConfig(c.Stream.URL)
	cfg.PingInterval = time.Duration(c.Stream.PingIntervalMs) * time.Millisecond
	cfg.ReadTimeout = time.Duration(c.Stream.ReadTimeoutMs) * time.Millisecond
	cfg.DeadAfter = time.Duration(c.Stream.DeadAfterMs) * time.Millisecond
	cfg.ReconnectDelay = time.Duration(c.Stream.ReconnectDelayMs) * time.Millisecond
	cfg.MaxReconnectDelay = time.Duration(c.Stream.MaxReconnectDelayMs) * time.Millisecond
	cfg.MaxReconnects = uint(c.Stream.MaxReconnects)
	cfg.MaxParseErrors = c.Stream.MaxParseErrors
	cfg.LiquidationRetention = time.Duration(c.Stream.LiquidationRetentionHrs) * time.Hour
	return cfg
}

// SnapshotOptions converts the aggregator tuning.
func (c *Config) SnapshotOptions() snapshot.Options {
	return snapshot.Options{
		Category:             c.Snapshot.Category,
		OrderBookDepth:       c.Snapshot.OrderBookDepth,
		TradeLimit:           c.Snapshot.TradeLimit,
		KlineLimit:           c.Snapshot.KlineLimit,
		RatioPeriod:          c.Snapshot.RatioPeriod,
		OpenInterestInterval: c.Snapshot.OpenInterestInterval,
		OpenInterestLimit:    c.Snapshot.OpenInterestLimit,
	}
}
