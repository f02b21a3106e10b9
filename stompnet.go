package stompnet

import (
	"context"
	"net"
)

// Protocol is the per-connection capability the dispatch layer drives.
//
// One Protocol instance is created for every accepted connection. The dispatch
// strategy calls Start exactly once, then Process once per decoded message in
// arrival order, and polls ShouldTerminate after every Process call.
//
// Implementations never write to the transport directly: replies and fan-out
// go through the shared registry the implementation was constructed with.
//
// Example:
//
//	b := broker.New(broker.MemoryStore(), broker.WithLogger(logger))
//	srv := tcp.ThreadPerClient(tcp.Config{Addr: ":7777", Protocol: b.Protocol(), Registry: b.Registry()})
type Protocol interface {
	// Start binds the protocol to its connection.
	//
	// The context is the connection's lifecycle context; it is cancelled once
	// the connection has been torn down.
	Start(ctx context.Context, connectionID int64)

	// Process consumes one complete message as produced by the decoder.
	Process(msg string)

	// ShouldTerminate reports whether the connection must be closed.
	//
	// Once it returns true it keeps returning true. It is safe to call from a
	// goroutine other than the one running Process.
	ShouldTerminate() bool
}

// ProtocolFactory creates a fresh Protocol for a newly accepted connection.
type ProtocolFactory func() Protocol

// Server is implemented by every dispatch strategy and by the WebSocket gateway.
type Server interface {
	// Serve accepts connections until the context is cancelled or the
	// listener fails. It returns nil after a shutdown caused by ctx.
	Serve(ctx context.Context) error

	// Addr returns the bound listen address, or nil before Serve has bound it.
	Addr() net.Addr
}
