// Package tcp serves a protocol over raw TCP using one of two dispatch
// strategies.
//
// ThreadPerClient runs one goroutine per connection, blocked in reads.
// Reactor multiplexes every socket on a single event loop and processes
// frames on a bounded worker pool, one task per connection at a time.
// Both behave identically from the client's point of view.
package tcp

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/stompnet"
	"github.com/luciancaetano/stompnet/internal/codec"
	"github.com/luciancaetano/stompnet/internal/metrics"
	"github.com/luciancaetano/stompnet/internal/server"
)

type (
	// Registry receives every accepted connection and is told when it closes.
	Registry = server.Registry

	ThreadPerClientServer = server.ThreadPerClient
	ReactorServer         = server.Reactor
)

// Config configures a TCP server carrying NUL-terminated frames.
type Config struct {
	Addr     string
	Protocol stompnet.ProtocolFactory
	Registry Registry

	// MaxFrameSize bounds one frame. Zero selects the codec default.
	MaxFrameSize int
	// WriteTimeout bounds blocking writes on thread-per-client connections.
	WriteTimeout time.Duration
	// AcceptRate limits accepted connections. Nil accepts all.
	AcceptRate *rate.Limiter
	// Workers sizes the reactor's worker pool. Zero selects the CPU count.
	Workers int

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

func (c Config) server() server.Config {
	maxSize := c.MaxFrameSize
	return server.Config{
		Addr:          c.Addr,
		Protocol:      server.Adapt(c.Protocol),
		Codec:         func() codec.EncoderDecoder { return codec.NewFrameCodec(maxSize) },
		Registry:      c.Registry,
		Logger:        c.Logger,
		Metrics:       c.Metrics,
		WriteTimeout:  c.WriteTimeout,
		AcceptLimiter: c.AcceptRate,
		Workers:       c.Workers,
	}
}

// ThreadPerClient returns a server giving each connection its own goroutine.
func ThreadPerClient(cfg Config) *ThreadPerClientServer {
	return server.NewThreadPerClient(cfg.server())
}

// Reactor returns a server multiplexing connections on one event loop.
func Reactor(cfg Config) *ReactorServer {
	return server.NewReactor(cfg.server())
}

var (
	_ stompnet.Server = (*ThreadPerClientServer)(nil)
	_ stompnet.Server = (*ReactorServer)(nil)
)
