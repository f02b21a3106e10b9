// Package ws serves the broker to browsers and other WebSocket clients.
// Each text message carries one or more NUL-terminated STOMP frames.
package ws

import (
	"net/http"

	"github.com/luciancaetano/stompnet"
	"github.com/luciancaetano/stompnet/internal/websocket"
)

type (
	Client          = websocket.Client
	Server          = websocket.Server
	ServerConfig    = websocket.ServerConfig
	RateLimitConfig = websocket.RateLimitConfig
	CheckOriginFn   = websocket.CheckOriginFn
	OnConnectFn     = websocket.OnConnectFn
	OnDisconnectFn  = websocket.OnClientDisconnectFn
)

// DefaultPath is the path New upgrades on unless ServerConfig.Path is set.
const DefaultPath = websocket.DefaultPath

// New creates a WebSocket gateway. Serve starts it.
//
// Example:
//
//	b := broker.New(broker.MemoryStore())
//	gw := ws.New(ws.NewConfig(":8080", b.Protocol(), b.Registry(), ws.DefaultRateLimitConfig(), ws.AllOrigins()))
//	err := gw.Serve(ctx)
func New(cfg *ServerConfig) *Server {
	return websocket.New(cfg)
}

// NewConfig returns a config for the common case. Callbacks and limits can
// be set on the result before calling New.
func NewConfig(addr string, protocol stompnet.ProtocolFactory, registry websocket.Registry,
	rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn) *ServerConfig {
	return &websocket.ServerConfig{
		Addr:            addr,
		Protocol:        protocol,
		Registry:        registry,
		RateLimitConfig: rateLimitConfig,
		CheckOrigin:     checkOrigin,
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

var _ stompnet.Server = (*Server)(nil)
