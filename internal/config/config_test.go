package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
environment:
  mode: paper
  log_level: info
gateway:
  host: localhost
  port: 7497
  client_id: 7
  market_data_type: 3
market_data:
  poll_interval: 100ms
  poll_timeout: 2s
analytics:
  risk_free_rate: 0.05
  hv_window: 20
dashboard:
  enabled: true
  listen_addr: ":9000"
storage:
  path: data/iv_readings.json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, "localhost", cfg.Gateway.Host)
	assert.Equal(t, 7497, cfg.Gateway.Port)
	assert.Equal(t, 3, cfg.Gateway.MarketDataType)
	assert.Equal(t, 100*time.Millisecond, cfg.QuotePollInterval())
	assert.Equal(t, 2*time.Second, cfg.QuotePollTimeout())
	assert.Equal(t, 0.05, cfg.Analytics.RiskFreeRate)
	assert.Equal(t, "data/iv_readings.json", cfg.Storage.Path)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment:
  mode: live
gateway:
  host: gw.internal
  port: 4001
analytics:
  risk_free_rate: 0.04
`))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.QuotePollInterval())
	assert.Equal(t, 2*time.Second, cfg.QuotePollTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.OrderPollInterval())
	assert.Equal(t, 3*time.Second, cfg.OrderPollTimeout())
	assert.Equal(t, defaultHVWindow, cfg.Analytics.HVWindow)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("DESK_GW_HOST", "gw.example.net")

	cfg, err := Load(writeConfig(t, `
environment:
  mode: paper
gateway:
  host: ${DESK_GW_HOST}
  port: 7497
analytics:
  risk_free_rate: 0.05
`))
	require.NoError(t, err)
	assert.Equal(t, "gw.example.net", cfg.Gateway.Host)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, validYAML+"\nbogus_section:\n  key: value\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestValidateFailures(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: EnvironmentConfig{Mode: "paper"},
			Gateway:     GatewayConfig{Host: "localhost", Port: 7497, MarketDataType: 1},
			Analytics:   AnalyticsConfig{RiskFreeRate: 0.05, HVWindow: 20},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "sandbox" }, "environment.mode"},
		{"missing host", func(c *Config) { c.Gateway.Host = "" }, "gateway.host"},
		{"bad port", func(c *Config) { c.Gateway.Port = 70000 }, "gateway.port"},
		{"negative client id", func(c *Config) { c.Gateway.ClientID = -1 }, "gateway.client_id"},
		{"bad data type", func(c *Config) { c.Gateway.MarketDataType = 9 }, "market_data_type"},
		{"bad poll interval", func(c *Config) { c.MarketData.PollInterval = "fast" }, "poll_interval"},
		{"interval above ceiling", func(c *Config) {
			c.MarketData.PollInterval = "5s"
			c.MarketData.PollTimeout = "2s"
		}, "must be <"},
		{"bad risk free rate", func(c *Config) { c.Analytics.RiskFreeRate = 0.5 }, "risk_free_rate"},
		{"bad hv window", func(c *Config) { c.Analytics.HVWindow = 1 }, "hv_window"},
		{"dashboard without addr", func(c *Config) { c.Dashboard.Enabled = true }, "listen_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}
