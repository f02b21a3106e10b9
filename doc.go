// Package stompnet is a small publish/subscribe broker speaking a subset of
// STOMP 1.2 over TCP and WebSocket.
//
// Clients log in with CONNECT, subscribe to named topics, publish with SEND
// and leave with DISCONNECT. Every SEND is fanned out as a MESSAGE frame to
// all current subscribers of its destination, including clients connected
// through a different transport.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/stompnet/broker"
//	    "github.com/luciancaetano/stompnet/tcp"
//	    "github.com/luciancaetano/stompnet/ws"
//	)
//
//	b := broker.New(broker.MemoryStore())
//	defer b.Close()
//
//	srv := tcp.Reactor(tcp.Config{Addr: ":7777", Protocol: b.Protocol(), Registry: b.Registry()})
//	gw := ws.New(ws.NewConfig(":8080", b.Protocol(), b.Registry(), ws.DefaultRateLimitConfig(), ws.AllOrigins()))
//
//	go gw.Serve(ctx)
//	srv.Serve(ctx)
//
// # Frame Format
//
// A frame is a command line, header lines of the form key:value, an empty
// line and a body, terminated by a single NUL byte:
//
//	SEND
//	destination:/chat
//	receipt:42
//
//	hello^@
//
// Newlines received between frames are heart-beats and are ignored. Header
// values are not escaped.
//
// # Dispatch Strategies
//
// tcp.ThreadPerClient runs one goroutine per connection. tcp.Reactor runs a
// single event loop and processes frames on a bounded worker pool, never
// running two tasks for the same connection at once. Replies to a connection
// are written in the order the frames producing them arrived.
//
// # Sessions
//
// A username may be logged in from one connection at a time. A wrong
// password, a second login for an active user, or a second CONNECT on a
// connection produces an ERROR frame and closes the connection. Sessions and
// file-upload audits are kept by a broker.Store: in memory, in SQLite or in
// PostgreSQL.
//
// # Rate Limiting
//
// The WebSocket gateway limits messages per client with a token bucket:
//
//	// Default: 100 messages/second, burst 200
//	cfg.RateLimitConfig = ws.DefaultRateLimitConfig()
//
//	// Disabled
//	cfg.RateLimitConfig = ws.NoRateLimit()
//
// When the limit is exceeded the client receives close code 1008 (Policy
// Violation). TCP servers can limit accepted connections with
// tcp.Config.AcceptRate.
//
// # Important
//
//   - Configure CheckOriginFn in production (never use ws.AllOrigins() in production)
//   - Message ids are unique per broker process, not across restarts
package stompnet
