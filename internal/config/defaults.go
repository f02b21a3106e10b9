package config

import (
	"fmt"
	"runtime"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultMode          = ModeThreadPerClient
	DefaultPort          = 7777
	DefaultMaxFrameSize  = 1 << 20
	DefaultWriteTimeout  = 10 * time.Second
	DefaultAcceptBurst   = 32
	DefaultWSPath        = "/ws"
	DefaultWSRate        = 100
	DefaultWSBurst       = 200
	DefaultStoreDriver   = DriverMemory
	DefaultStoreTimeout  = 5 * time.Second
	DefaultSQLitePath    = "stompnet.db"
	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2
	DefaultMetricsPath   = "/metrics"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = FormatText
	defaultAcceptPerSecs = 100
)

// DefaultAddr is the listen address used when none is configured.
var DefaultAddr = fmt.Sprintf(":%d", DefaultPort)

// ApplyDefaults fills every zero-valued optional field.
func (c *Config) ApplyDefaults() {
	// Server defaults
	c.Server.Mode = NormalizeMode(c.Server.Mode)
	if c.Server.Mode == "" {
		c.Server.Mode = DefaultMode
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = runtime.NumCPU()
	}
	if c.Server.MaxFrameSize == 0 {
		c.Server.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	applyRateDefaults(&c.Server.AcceptRate, defaultAcceptPerSecs, DefaultAcceptBurst)

	// WebSocket defaults
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = DefaultWSPath
	}
	applyRateDefaults(&c.WebSocket.RateLimit, DefaultWSRate, DefaultWSBurst)

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = DefaultStoreTimeout
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = DefaultSQLitePath
	}
	applyDBDefaults(&c.Store.Postgres)

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyRateDefaults(r *RateConfig, perSecond float64, burst int) {
	if r.PerSecond == 0 {
		r.PerSecond = perSecond
	}
	if r.Burst == 0 {
		r.Burst = burst
	}
}

func applyDBDefaults(db *PostgresConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
