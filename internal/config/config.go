// ABOUTME: Configuration loading and parsing for agentgate
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete agentgate configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale" toml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Ledger       LedgerConfig       `yaml:"ledger" toml:"ledger"`
	Subscription SubscriptionConfig `yaml:"subscription" toml:"subscription"`
	Runtime      RuntimeConfig      `yaml:"runtime" toml:"runtime"`
	Reconcile    ReconcileConfig    `yaml:"reconcile" toml:"reconcile"`
	Auth         AuthConfig         `yaml:"auth" toml:"auth"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP front end settings
type ServerConfig struct {
	HTTPAddr   string `yaml:"http_addr" toml:"http_addr"`
	CORSOrigin string `yaml:"cors_origin" toml:"cors_origin"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds the history database location
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LedgerConfig holds the subscription ledger location
type LedgerConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// SubscriptionConfig holds billing period and pricing
type SubscriptionConfig struct {
	Period   time.Duration `yaml:"-" toml:"-"`
	UnitCost int64         `yaml:"unit_cost" toml:"unit_cost"`
	Currency string        `yaml:"currency" toml:"currency"`

	PeriodRaw string `yaml:"period" toml:"period"`
}

// RuntimeConfig holds the agent runtime endpoint
type RuntimeConfig struct {
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// ReconcileConfig holds reconciliation loop settings
type ReconcileConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Interval time.Duration `yaml:"-" toml:"-"`

	IntervalRaw string `yaml:"interval" toml:"interval"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret" toml:"jwt_secret"`
	IdentityHeader string `yaml:"identity_header" toml:"identity_header"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:   "localhost:8000",
			CORSOrigin: "*",
		},
		Database: DatabaseConfig{Path: DefaultDatabasePath()},
		Ledger:   LedgerConfig{Path: "./container_mount/subscription.json"},
		Subscription: SubscriptionConfig{
			Period:    30 * 24 * time.Hour,
			PeriodRaw: "720h",
			UnitCost:  1,
			Currency:  "ProcessingUnits",
		},
		Runtime: RuntimeConfig{
			BaseURL:    "http://localhost:3000",
			Timeout:    10 * time.Second,
			TimeoutRaw: "10s",
		},
		Reconcile: ReconcileConfig{
			Enabled:     true,
			Interval:    time.Hour,
			IntervalRaw: "1h",
		},
		Auth:    AuthConfig{IdentityHeader: "X-User-Address"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// DefaultDatabasePath returns the history database location.
// Priority: XDG_DATA_HOME/agentgate > ~/.local/share/agentgate
func DefaultDatabasePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "history.db"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "agentgate", "history.db")
}

// Path returns the config file location.
// Priority: AGENTGATE_CONFIG env var > XDG_CONFIG_HOME/agentgate/config.yaml > ~/.config/agentgate/config.yaml
func Path() string {
	if envPath := os.Getenv("AGENTGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agentgate", "config.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded and unset
// fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes configuration content. See Load.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if isTOML {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies environment overrides, parses durations, and validates.
func (c *Config) finish() error {
	if port := os.Getenv("PORT"); port != "" {
		addr, err := overridePort(c.Server.HTTPAddr, port)
		if err != nil {
			return fmt.Errorf("applying PORT: %w", err)
		}
		c.Server.HTTPAddr = addr
	}

	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// overridePort swaps the port of addr, keeping its host.
func overridePort(addr, port string) (string, error) {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid port %q", port)
		}
	}
	return net.JoinHostPort(host, port), nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}

	if c.Subscription.Period < time.Second {
		return fmt.Errorf("subscription.period must be at least 1s")
	}
	if c.Subscription.UnitCost < 0 {
		return fmt.Errorf("subscription.unit_cost must not be negative")
	}
	if c.Subscription.Currency == "" {
		return fmt.Errorf("subscription.currency is required")
	}

	u, err := url.Parse(c.Runtime.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("runtime.base_url must be an http(s) URL, got %q", c.Runtime.BaseURL)
	}
	if c.Runtime.Timeout <= 0 {
		return fmt.Errorf("runtime.timeout must be positive")
	}

	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Subscription.PeriodRaw != "" {
		cfg.Subscription.Period, err = time.ParseDuration(cfg.Subscription.PeriodRaw)
		if err != nil {
			return fmt.Errorf("parsing subscription.period %q: %w", cfg.Subscription.PeriodRaw, err)
		}
	}

	if cfg.Runtime.TimeoutRaw != "" {
		cfg.Runtime.Timeout, err = time.ParseDuration(cfg.Runtime.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing runtime.timeout %q: %w", cfg.Runtime.TimeoutRaw, err)
		}
	}

	if cfg.Reconcile.IntervalRaw != "" {
		cfg.Reconcile.Interval, err = time.ParseDuration(cfg.Reconcile.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing reconcile.interval %q: %w", cfg.Reconcile.IntervalRaw, err)
		}
	}

	return nil
}
