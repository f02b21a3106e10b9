// Package server runs connection handlers under one of two dispatch
// strategies: ThreadPerClient gives every connection its own goroutine
// blocked in reads, and Reactor multiplexes every socket on one event loop
// and hands frame processing to a worker pool that runs at most one task per
// connection at a time.
//
// Both strategies follow the same lifecycle for an accepted connection:
// allocate a connection id, create and start the protocol, register the
// handler with the registry, then feed it decoded messages in arrival order.
// Once the protocol asks to terminate, or the transport fails, the handler is
// closed exactly once: its context is cancelled, the registry entry is
// released and the socket is closed.
package server

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/stompnet/internal/codec"
	"github.com/luciancaetano/stompnet/internal/metrics"
	"github.com/luciancaetano/stompnet/internal/registry"
)

// ErrHandlerClosed is returned by Send on a closed handler.
var ErrHandlerClosed = errors.New("server: connection handler closed")

// DefaultWriteTimeout bounds a blocking socket write.
const DefaultWriteTimeout = 10 * time.Second

// Registry is the part of the shared registry the dispatch layer needs.
type Registry interface {
	Register(id int64, conn registry.Conn) bool
	Disconnect(id int64)
}

// ConnectionHandler is the write side of one accepted connection.
type ConnectionHandler interface {
	registry.Conn
	ID() int64
	Close() error
}

var lastConnectionID atomic.Int64

// NextConnectionID returns a process-wide unique connection id, starting at 0.
func NextConnectionID() int64 {
	return lastConnectionID.Add(1) - 1
}

// Config configures both dispatch strategies.
type Config struct {
	// Addr is the TCP listen address, for example ":7777".
	Addr string

	Protocol MessagingProtocolFactory
	Codec    codec.Factory

	// Registry is optional; the echo service runs without one.
	Registry Registry

	Logger  *slog.Logger
	Metrics *metrics.Collector

	// WriteTimeout bounds blocking writes. Zero selects DefaultWriteTimeout;
	// negative disables the deadline.
	WriteTimeout time.Duration

	// AcceptLimiter, when set, closes connections accepted faster than it allows.
	AcceptLimiter *rate.Limiter

	// Workers is the reactor's worker pool size. Zero selects runtime.NumCPU().
	Workers int
}

func (c Config) writeTimeout() time.Duration {
	switch {
	case c.WriteTimeout == 0:
		return DefaultWriteTimeout
	case c.WriteTimeout < 0:
		return 0
	default:
		return c.WriteTimeout
	}
}

func (c Config) allowAccept() bool {
	return c.AcceptLimiter == nil || c.AcceptLimiter.Allow()
}
