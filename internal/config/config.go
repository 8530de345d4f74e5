// Package config provides configuration types, defaults, and persistence for
// the datasources daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/datasources/internal/log"
	"github.com/zjrosen/datasources/internal/requirement"
)

// DataSourcesKey is the configuration namespace holding data-source definitions.
const DataSourcesKey = "datasources"

// Config holds all configuration options for the daemon.
type Config struct {
	Server  ServerConfig    `mapstructure:"server"`
	Log     LogConfig       `mapstructure:"log"`
	Host    HostConfig      `mapstructure:"host"`
	Journal JournalConfig   `mapstructure:"journal"`
	Tracing TracingConfig   `mapstructure:"tracing"`
	Metrics MetricsConfig   `mapstructure:"metrics"`
	Flags   map[string]bool `mapstructure:"flags"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LogConfig holds logging settings. An empty Path logs to stderr.
type LogConfig struct {
	Path  string `mapstructure:"path"`
	Level string `mapstructure:"level"` // debug, info (default), warn, error
}

// HostConfig holds the host runtime's readiness policy.
type HostConfig struct {
	// RequiredProviders lists provider types that must be bound before readiness
	// fires. Empty means every provider the host instantiates.
	RequiredProviders []string `mapstructure:"required_providers"`

	// MinProviders is the minimum number of bound providers before readiness fires.
	MinProviders int `mapstructure:"min_providers"`

	// ReadinessTimeout, when positive, logs a diagnostic naming the missing
	// requirements if readiness has not fired in time. It never forces a fire.
	ReadinessTimeout time.Duration `mapstructure:"readiness_timeout"`

	// DisabledProviders lists catalog provider types the host must not bind.
	DisabledProviders []string `mapstructure:"disabled_providers"`
}

// Policy converts the host settings to a readiness policy.
func (h HostConfig) Policy() requirement.Policy {
	return requirement.Policy{
		RequiredProviders: h.RequiredProviders,
		MinProviders:      h.MinProviders,
	}
}

// JournalConfig holds the lifecycle journal settings.
type JournalConfig struct {
	// Path is the sqlite database file. Default: ~/.config/datasources/journal.db
	Path string `mapstructure:"path"`

	// Retain caps the number of kept entries; 0 keeps everything.
	Retain int `mapstructure:"retain"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"` // none, file (default), stdout, otlp
	FilePath     string  `mapstructure:"file_path"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultConfigDir returns ~/.config/datasources, or "" if the home directory
// is unavailable.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "datasources")
}

// DefaultJournalPath returns the default journal database path.
func DefaultJournalPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "journal.db")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr: "localhost:19998",
		},
		Log: LogConfig{
			Level: "info",
		},
		Journal: JournalConfig{
			Path:   DefaultJournalPath(),
			Retain: 10000,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     DefaultTracesFilePath(),
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for errors.
func Validate(c Config) error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is invalid (use debug, info, warn or error)", c.Log.Level)
	}
	if err := c.Host.Policy().Validate(); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	if c.Host.ReadinessTimeout < 0 {
		return fmt.Errorf("host.readiness_timeout must be >= 0, got %s", c.Host.ReadinessTimeout)
	}
	if c.Journal.Retain < 0 {
		return fmt.Errorf("journal.retain must be >= 0, got %d", c.Journal.Retain)
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(t TracingConfig) error {
	switch t.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter %q is invalid (use none, file, stdout or otlp)", t.Exporter)
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}
	if t.Enabled && t.Exporter == "file" && t.FilePath == "" {
		return fmt.Errorf("tracing.file_path is required for the file exporter")
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# datasources configuration

# HTTP API
server:
  addr: localhost:19998
  # cors_origins:
  #   - http://localhost:3000

# Logging (empty path logs to stderr)
log:
  level: info          # debug, info, warn, error
  # path: /var/log/datasources.log

# Host readiness policy. Initialization runs once both the naming context
# and the configuration source are bound and this policy is satisfied.
host:
  # required_providers: [rdbms]   # default: every enabled provider
  min_providers: 0
  # readiness_timeout: 30s        # log what is missing after this long (never forces)
  # disabled_providers: [redis]   # catalog providers the host must not bind

# Lifecycle journal (sqlite)
journal:
  # path: ~/.config/datasources/journal.db
  retain: 10000

# Distributed tracing
# tracing:
#   enabled: false
#   exporter: file                # none, file, stdout, otlp
#   file_path: ~/.config/datasources/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0

metrics:
  enabled: true
  path: /metrics

# Feature flags
# flags:
#   journal: true
#   config-watch: true
#   event-stream: true
#   persist-datasources: true   # write API changes back to this file

# Data sources created at initialization.
# definition.type selects the provider (reader) that creates the data source.
datasources:
  - name: local
    description: Embedded sqlite database
    jndi:
      name: jdbc/local
    definition:
      type: rdbms
      configuration:
        driver: sqlite3
        dsn: "file:local.db"
        validate: true

  # - name: cache
  #   definition:
  #     type: redis
  #     configuration:
  #       addr: localhost:6379
  #       db: 0
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
