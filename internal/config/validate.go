package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case ModeThreadPerClient, ModeReactor:
	default:
		return fmt.Errorf("server.mode must be %q or %q, got %q", ModeThreadPerClient, ModeReactor, c.Server.Mode)
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.Workers < 1 {
		return errors.New("server.workers must be >= 1")
	}
	if c.Server.MaxFrameSize < 64 {
		return fmt.Errorf("server.max_frame_size must be >= 64, got %d", c.Server.MaxFrameSize)
	}
	if c.Server.WriteTimeout < 0 {
		return errors.New("server.write_timeout must not be negative")
	}
	if err := c.Server.AcceptRate.validate("server.accept_rate"); err != nil {
		return err
	}

	if c.WebSocket.Addr != "" {
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			return fmt.Errorf("websocket.path must start with '/', got %q", c.WebSocket.Path)
		}
		if err := c.WebSocket.RateLimit.validate("websocket.rate_limit"); err != nil {
			return err
		}
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLite.Path == "" {
			return errors.New("store.sqlite.path is required")
		}
	case DriverPostgres:
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store.driver must be one of memory, sqlite, postgres, got %q", c.Store.Driver)
	}
	if c.Store.Timeout <= 0 {
		return errors.New("store.timeout must be positive")
	}

	if c.Metrics.Addr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}

	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("log.format must be %q or %q, got %q", FormatText, FormatJSON, c.Log.Format)
	}

	return nil
}

func (r *RateConfig) validate(prefix string) error {
	if !r.Enabled {
		return nil
	}
	if r.PerSecond <= 0 {
		return fmt.Errorf("%s.per_second must be positive", prefix)
	}
	if r.Burst < 1 {
		return fmt.Errorf("%s.burst must be >= 1", prefix)
	}
	return nil
}

func (db *PostgresConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
