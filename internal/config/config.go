// Package config provides configuration management for the gateway desk.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultConnectTimeout is used when gateway.connect_timeout is unset
	defaultConnectTimeout = "10s"
	// defaultQuotePollInterval matches the venue's observed tick latency
	defaultQuotePollInterval = "100ms"
	// defaultQuotePollTimeout caps every per-field wait
	defaultQuotePollTimeout = "2s"
	// defaultHVWindow is the bar window for historical volatility
	defaultHVWindow = 20
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	MarketData  MarketDataConfig  `yaml:"market_data"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
	Orders      OrdersConfig      `yaml:"orders"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// GatewayConfig defines the venue gateway connection settings.
type GatewayConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ClientID       int    `yaml:"client_id"`
	ConnectTimeout string `yaml:"connect_timeout"`
	RequestTimeout string `yaml:"request_timeout"`
	// MarketDataType selects the venue feed: 1 real-time, 2 frozen, 3 delayed
	MarketDataType int `yaml:"market_data_type"`
}

// MarketDataConfig tunes the bounded quote/volatility polls.
type MarketDataConfig struct {
	PollInterval string `yaml:"poll_interval"`
	PollTimeout  string `yaml:"poll_timeout"`
}

// AnalyticsConfig defines pricing model inputs.
type AnalyticsConfig struct {
	RiskFreeRate float64 `yaml:"risk_free_rate"`
	HVWindow     int     `yaml:"hv_window"`
}

// OrdersConfig tunes the post-submit status poll.
type OrdersConfig struct {
	PollInterval string `yaml:"poll_interval"`
	PollTimeout  string `yaml:"poll_timeout"`
}

// DashboardConfig defines the JSON status server. An empty auth token
// leaves the API open.
type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	AuthToken  string `yaml:"auth_token"`
}

// StorageConfig defines storage settings for the IV reading journal.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be in (0,65535]")
	}
	if c.Gateway.ClientID < 0 {
		return fmt.Errorf("gateway.client_id must be >= 0")
	}
	switch c.Gateway.MarketDataType {
	case 0, 1, 2, 3:
	default:
		return fmt.Errorf("gateway.market_data_type must be 1 (real-time), 2 (frozen) or 3 (delayed)")
	}

	c.normalize()

	for _, d := range []struct {
		name  string
		value string
	}{
		{"gateway.connect_timeout", c.Gateway.ConnectTimeout},
		{"gateway.request_timeout", c.Gateway.RequestTimeout},
		{"market_data.poll_interval", c.MarketData.PollInterval},
		{"market_data.poll_timeout", c.MarketData.PollTimeout},
		{"orders.poll_interval", c.Orders.PollInterval},
		{"orders.poll_timeout", c.Orders.PollTimeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s invalid: %w", d.name, err)
		}
	}
	if parseDur(c.MarketData.PollInterval, 0) >= parseDur(c.MarketData.PollTimeout, 0) {
		return fmt.Errorf("market_data.poll_interval must be < market_data.poll_timeout")
	}

	if c.Analytics.RiskFreeRate < 0 || c.Analytics.RiskFreeRate > 0.25 {
		return fmt.Errorf("analytics.risk_free_rate must be between 0 and 0.25")
	}
	if c.Analytics.HVWindow <= 1 {
		return fmt.Errorf("analytics.hv_window must be > 1")
	}

	if c.Dashboard.Enabled && c.Dashboard.ListenAddr == "" {
		return fmt.Errorf("dashboard.listen_addr is required when the dashboard is enabled")
	}

	return nil
}

// normalize fills defaults for unset optional fields.
func (c *Config) normalize() {
	if c.Gateway.ConnectTimeout == "" {
		c.Gateway.ConnectTimeout = defaultConnectTimeout
	}
	if c.Gateway.RequestTimeout == "" {
		c.Gateway.RequestTimeout = defaultConnectTimeout
	}
	if c.MarketData.PollInterval == "" {
		c.MarketData.PollInterval = defaultQuotePollInterval
	}
	if c.MarketData.PollTimeout == "" {
		c.MarketData.PollTimeout = defaultQuotePollTimeout
	}
	if c.Orders.PollInterval == "" {
		c.Orders.PollInterval = "500ms"
	}
	if c.Orders.PollTimeout == "" {
		c.Orders.PollTimeout = "3s"
	}
	if c.Analytics.HVWindow == 0 {
		c.Analytics.HVWindow = defaultHVWindow
	}
}

// IsPaperTrading returns true if the desk is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// ConnectTimeout returns the gateway connect timeout duration.
func (c *Config) ConnectTimeout() time.Duration {
	return parseDur(c.Gateway.ConnectTimeout, 10*time.Second)
}

// RequestTimeout returns the per-request gateway timeout duration.
func (c *Config) RequestTimeout() time.Duration {
	return parseDur(c.Gateway.RequestTimeout, 10*time.Second)
}

// QuotePollInterval returns the market data poll interval.
func (c *Config) QuotePollInterval() time.Duration {
	return parseDur(c.MarketData.PollInterval, 100*time.Millisecond)
}

// QuotePollTimeout returns the market data poll ceiling.
func (c *Config) QuotePollTimeout() time.Duration {
	return parseDur(c.MarketData.PollTimeout, 2*time.Second)
}

// OrderPollInterval returns the order status poll interval.
func (c *Config) OrderPollInterval() time.Duration {
	return parseDur(c.Orders.PollInterval, 500*time.Millisecond)
}

// OrderPollTimeout returns the order status poll ceiling.
func (c *Config) OrderPollTimeout() time.Duration {
	return parseDur(c.Orders.PollTimeout, 3*time.Second)
}

func parseDur(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
