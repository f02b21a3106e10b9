// Package config loads the broker configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Dispatch strategies.
const (
	ModeThreadPerClient = "tpc"
	ModeReactor         = "reactor"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the TCP dispatch strategy.
type ServerConfig struct {
	Mode         string        `yaml:"mode"`
	Addr         string        `yaml:"addr"`
	Workers      int           `yaml:"workers"`        // reactor worker pool size
	MaxFrameSize int           `yaml:"max_frame_size"` // bytes
	WriteTimeout time.Duration `yaml:"write_timeout"`
	AcceptRate   RateConfig    `yaml:"accept_rate"`
}

// RateConfig is a token bucket: PerSecond tokens per second, Burst capacity.
type RateConfig struct {
	Enabled   bool    `yaml:"enabled"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// WebSocketConfig configures the optional STOMP-over-WebSocket gateway.
// The gateway is disabled when Addr is empty.
type WebSocketConfig struct {
	Addr           string     `yaml:"addr"`
	Path           string     `yaml:"path"`
	AllowedOrigins []string   `yaml:"allowed_origins"`
	RateLimit      RateConfig `yaml:"rate_limit"`
}

// StoreConfig selects and configures the persistence collaborator.
type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	Timeout  time.Duration  `yaml:"timeout"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds the database file path (":memory:" is accepted).
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds a single PostgreSQL connection.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig configures the Prometheus endpoint. Disabled when Addr is empty.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// NormalizeMode maps accepted spellings of a dispatch strategy to its
// canonical name. Unknown values are returned lower-cased and unchanged.
func NormalizeMode(mode string) string {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case "tpc", "thread-per-client", "thread-per-connection":
		return ModeThreadPerClient
	case "reactor":
		return ModeReactor
	default:
		return m
	}
}
