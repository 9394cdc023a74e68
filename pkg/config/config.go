package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"castbridge/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Discovery struct {
		SSDPWindow     time.Duration `yaml:"ssdp_window"`
		SSDPRounds     int           `yaml:"ssdp_rounds"`
		SSDPRoundDelay time.Duration `yaml:"ssdp_round_delay"`
		MDNSEnabled    bool          `yaml:"mdns_enabled"`
		MDNSTimeout    time.Duration `yaml:"mdns_timeout"`
	} `yaml:"discovery"`

	Miracast struct {
		ControlPort   int           `yaml:"control_port"`
		AcceptTimeout time.Duration `yaml:"accept_timeout"`
	} `yaml:"miracast"`

	CastV2 struct {
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"castv2"`

	Relay struct {
		Port              int     `yaml:"port"`
		AdvertiseHost     string  `yaml:"advertise_host"`
		ConnectsPerSecond float64 `yaml:"connects_per_second"`
	} `yaml:"relay"`

	Session struct {
		MonitorInterval   time.Duration `yaml:"monitor_interval"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	} `yaml:"session"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Discovery.SSDPWindow = 8 * time.Second
	cfg.Discovery.SSDPRounds = 3
	cfg.Discovery.SSDPRoundDelay = 500 * time.Millisecond
	cfg.Discovery.MDNSEnabled = true
	cfg.Discovery.MDNSTimeout = 5 * time.Second

	cfg.Miracast.ControlPort = 7236
	cfg.Miracast.AcceptTimeout = 30 * time.Second

	cfg.CastV2.RequestTimeout = 5 * time.Second

	cfg.Relay.Port = 8888
	cfg.Relay.ConnectsPerSecond = 10

	cfg.Session.MonitorInterval = 5 * time.Second
	cfg.Session.HeartbeatInterval = 5 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Discovery.SSDPWindow <= 0 {
		return fmt.Errorf("discovery.ssdp_window must be > 0")
	}
	if c.Discovery.SSDPRounds <= 0 {
		return fmt.Errorf("discovery.ssdp_rounds must be > 0")
	}
	if c.Discovery.SSDPRoundDelay < 0 {
		return fmt.Errorf("discovery.ssdp_round_delay must be >= 0")
	}
	if c.Discovery.MDNSEnabled && c.Discovery.MDNSTimeout <= 0 {
		return fmt.Errorf("discovery.mdns_timeout must be > 0 when mdns_enabled=true")
	}

	if err := validation.ValidatePort(c.Miracast.ControlPort); err != nil {
		return fmt.Errorf("miracast.control_port: %w", err)
	}
	if c.Miracast.AcceptTimeout <= 0 {
		return fmt.Errorf("miracast.accept_timeout must be > 0")
	}

	if c.CastV2.RequestTimeout <= 0 {
		return fmt.Errorf("castv2.request_timeout must be > 0")
	}

	if err := validation.ValidatePort(c.Relay.Port); err != nil {
		return fmt.Errorf("relay.port: %w", err)
	}
	if c.Relay.ConnectsPerSecond <= 0 {
		return fmt.Errorf("relay.connects_per_second must be > 0")
	}

	if c.Session.MonitorInterval <= 0 {
		return fmt.Errorf("session.monitor_interval must be > 0")
	}
	if c.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("session.heartbeat_interval must be > 0")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the file without
// editing it.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CASTBRIDGE_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("CASTBRIDGE_RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Relay.Port = port
		}
	}
	if v := os.Getenv("CASTBRIDGE_RELAY_ADVERTISE_HOST"); v != "" {
		c.Relay.AdvertiseHost = v
	}
	if v := os.Getenv("CASTBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CASTBRIDGE_TRACING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = enabled
		}
	}
}
