package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Marketmux Marketmux                `yaml:"marketmux"`
	Manager   ManagerConfig            `yaml:"manager"`
	Venues    map[string]VenueConfig   `yaml:"venues"`
	Metrics   MetricsConfig            `yaml:"metrics"`
	Dashboard DashboardConfig          `yaml:"dashboard"`
	Logging   LoggingConfig            `yaml:"logging"`
}

type Marketmux struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ManagerConfig bounds the multiplexer as a whole.
type ManagerConfig struct {
	MaxConnections    int           `yaml:"max_connections"`
	OutboundQueueSize int           `yaml:"outbound_queue_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LivenessPeriod    time.Duration `yaml:"liveness_period"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	SendRate          float64       `yaml:"send_rate"`
	SendBurst         int           `yaml:"send_burst"`
}

// VenueConfig describes one upstream data provider.
type VenueConfig struct {
	Family      string            `yaml:"family"`
	Endpoint    string            `yaml:"endpoint"`
	Enabled     bool              `yaml:"enabled"`
	Symbols     []string          `yaml:"symbols"`
	Channels    []string          `yaml:"channels"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
}

type CredentialsConfig struct {
	Key        string `yaml:"key"`
	Secret     string `yaml:"secret"`
	Passphrase string `yaml:"passphrase"`
}

type ReconnectConfig struct {
	Enabled        *bool         `yaml:"enabled"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

type MetricsConfig struct {
	PrometheusAddress string            `yaml:"prometheus_address"`
	CloudWatch        CloudWatchConfig  `yaml:"cloudwatch"`
	ReportInterval    time.Duration     `yaml:"report_interval"`
}

type CloudWatchConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Region    string        `yaml:"region"`
	Namespace string        `yaml:"namespace"`
	Interval  time.Duration `yaml:"interval"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	LogHistory      int           `yaml:"log_history"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// knownFamilies mirrors the codec registry; validation happens before the
// registry is consulted so a typoed family fails at startup, not on connect.
var knownFamilies = map[string]struct{}{
	"binance": {},
	"kucoin":  {},
	"bybit":   {},
	"okx":     {},
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		return os.Getenv(name)
	})
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for name, venue := range config.Venues {
		venue.Credentials.Key = strings.TrimSpace(expandEnv(venue.Credentials.Key))
		venue.Credentials.Secret = strings.TrimSpace(expandEnv(venue.Credentials.Secret))
		venue.Credentials.Passphrase = strings.TrimSpace(expandEnv(venue.Credentials.Passphrase))
		config.Venues[name] = venue
	}

	config.ApplyDefaults()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills unset manager and venue values.
func (c *Config) ApplyDefaults() {
	if c.Manager.MaxConnections <= 0 {
		c.Manager.MaxConnections = 32
	}
	if c.Manager.OutboundQueueSize <= 0 {
		c.Manager.OutboundQueueSize = 1000
	}
	if c.Manager.HeartbeatInterval <= 0 {
		c.Manager.HeartbeatInterval = 30 * time.Second
	}
	if c.Manager.LivenessPeriod <= 0 {
		c.Manager.LivenessPeriod = 30 * time.Second
	}
	if c.Manager.WriteTimeout <= 0 {
		c.Manager.WriteTimeout = 5 * time.Second
	}
	if c.Manager.SendRate <= 0 {
		c.Manager.SendRate = 10
	}
	if c.Manager.SendBurst <= 0 {
		c.Manager.SendBurst = 20
	}
	if c.Metrics.ReportInterval <= 0 {
		c.Metrics.ReportInterval = 30 * time.Second
	}
	if c.Metrics.CloudWatch.Interval <= 0 {
		c.Metrics.CloudWatch.Interval = time.Minute
	}
	if c.Dashboard.LogHistory <= 0 {
		c.Dashboard.LogHistory = 200
	}
	if c.Dashboard.RefreshInterval <= 0 {
		c.Dashboard.RefreshInterval = 5 * time.Second
	}

	for name, venue := range c.Venues {
		if venue.Reconnect.InitialBackoff <= 0 {
			venue.Reconnect.InitialBackoff = time.Second
		}
		if venue.Reconnect.MaxBackoff <= 0 {
			venue.Reconnect.MaxBackoff = time.Minute
		}
		if venue.Reconnect.Multiplier <= 0 {
			venue.Reconnect.Multiplier = 2.0
		}
		if venue.Reconnect.Enabled == nil {
			enabled := true
			venue.Reconnect.Enabled = &enabled
		}
		if venue.Family == "" {
			venue.Family = name
		}
		c.Venues[name] = venue
	}
}

func validateConfig(c *Config) error {
	for name, venue := range c.Venues {
		if !venue.Enabled {
			continue
		}
		if venue.Endpoint == "" {
			return fmt.Errorf("venue %q: endpoint is required", name)
		}
		if _, ok := knownFamilies[venue.Family]; !ok {
			return fmt.Errorf("venue %q: unknown family %q", name, venue.Family)
		}
		if venue.Reconnect.MaxBackoff < venue.Reconnect.InitialBackoff {
			return fmt.Errorf("venue %q: max_backoff below initial_backoff", name)
		}
	}
	return nil
}
