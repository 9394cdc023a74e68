package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"zero ssdp window", func(c *Config) { c.Discovery.SSDPWindow = 0 }},
		{"zero ssdp rounds", func(c *Config) { c.Discovery.SSDPRounds = 0 }},
		{"mdns enabled without timeout", func(c *Config) { c.Discovery.MDNSTimeout = 0 }},
		{"miracast port out of range", func(c *Config) { c.Miracast.ControlPort = 70000 }},
		{"zero miracast accept timeout", func(c *Config) { c.Miracast.AcceptTimeout = 0 }},
		{"zero castv2 request timeout", func(c *Config) { c.CastV2.RequestTimeout = 0 }},
		{"relay port out of range", func(c *Config) { c.Relay.Port = -1 }},
		{"zero relay connect rate", func(c *Config) { c.Relay.ConnectsPerSecond = 0 }},
		{"zero monitor interval", func(c *Config) { c.Session.MonitorInterval = 0 }},
		{"tracing enabled without url", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.JaegerURL = ""
		}},
		{"tracing sample rate out of range", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2
		}},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Relay.Port, cfg.Relay.Port)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: ":9090"
relay:
  port: 9999
  advertise_host: "10.0.0.2"
discovery:
  ssdp_window: 4s
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 9999, cfg.Relay.Port)
	assert.Equal(t, "10.0.0.2", cfg.Relay.AdvertiseHost)
	assert.Equal(t, 4*time.Second, cfg.Discovery.SSDPWindow)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep defaults.
	assert.Equal(t, 7236, cfg.Miracast.ControlPort)
}

func TestLoadInvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay:\n  port: -5\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CASTBRIDGE_SERVER_ADDRESS", ":7070")
	t.Setenv("CASTBRIDGE_RELAY_PORT", "8889")
	t.Setenv("CASTBRIDGE_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 8889, cfg.Relay.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}
