// Package websocket exposes the broker over WebSocket. Every text message
// carries NUL-terminated STOMP frames; they are decoded with the same codec
// the TCP transports use and fed to a per-connection protocol that shares
// the broker's registry.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/stompnet"
	"github.com/luciancaetano/stompnet/internal/codec"
	"github.com/luciancaetano/stompnet/internal/logging"
	"github.com/luciancaetano/stompnet/internal/metrics"
	"github.com/luciancaetano/stompnet/internal/server"
)

// DefaultPath is the HTTP path the gateway upgrades on.
const DefaultPath = "/ws"

const shutdownTimeout = 5 * time.Second

// CheckOriginFn is a callback type used to validate the origin of incoming WebSocket connection requests.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called after a client has been registered and before its
// first message is read.
type OnConnectFn = func(client *Client)

// OnClientDisconnectFn is called once the client's read loop has ended.
// voluntary is true when the protocol asked to terminate or the peer closed
// the socket normally.
type OnClientDisconnectFn = func(client *Client, voluntary bool)

// Registry receives every upgraded client and is told when it leaves.
type Registry = server.Registry

type ServerConfig struct {
	Addr string
	// Path defaults to DefaultPath.
	Path string

	Protocol stompnet.ProtocolFactory
	Registry Registry

	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn

	// MaxFrameSize bounds one decoded frame. Zero selects codec.DefaultMaxMessageSize.
	MaxFrameSize int

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// RateLimitConfig defines rate limiting configuration for clients
type RateLimitConfig struct {
	// MessagesPerSecond is the maximum number of messages per second allowed per client
	MessagesPerSecond rate.Limit
	// Burst is the maximum burst size
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100, // 100 messages per second
		Burst:             200, // Allow bursts up to 200 messages
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Server is the WebSocket gateway.
type Server struct {
	cfg      ServerConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
	clients  sync.Map // map[int64]*Client

	mu    sync.Mutex
	ln    net.Listener
	ready chan struct{}

	// ctx is the serving context; handlers derive client contexts from it.
	ctx context.Context
	wg  sync.WaitGroup
}

// New creates a gateway for cfg. A nil RateLimitConfig selects
// DefaultRateLimitConfig; a nil CheckOrigin uses gorilla's same-origin check.
func New(cfg *ServerConfig) *Server {
	c := *cfg
	if c.RateLimitConfig == nil {
		c.RateLimitConfig = DefaultRateLimitConfig()
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	return &Server{
		cfg:    c,
		logger: logging.OrDefault(c.Logger).With("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     c.CheckOrigin,
		},
		ready: make(chan struct{}),
	}
}

// Handler returns the upgrade handler without a listener, for mounting on an
// existing mux. Clients served this way are bound to ctx.
func (s *Server) Handler(ctx context.Context) http.Handler {
	s.mu.Lock()
	if s.ctx == nil {
		s.ctx = ctx
	}
	s.mu.Unlock()
	return http.HandlerFunc(s.handleWebSocket)
}

// Serve listens on cfg.Addr until ctx is cancelled. On shutdown every client
// is closed and Serve waits for their read loops to finish.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		close(s.ready)
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.Handler(ctx))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	close(s.ready)
	s.logger.Info("websocket gateway listening", "addr", ln.Addr().String(), "path", s.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.closeClients()
		s.wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve websocket: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked connections are not tracked by http.Server.
	err = srv.Shutdown(shutdownCtx)
	s.closeClients()
	s.wg.Wait()
	s.logger.Info("websocket gateway stopped")
	if err != nil {
		return fmt.Errorf("shutdown websocket: %w", err)
	}
	return nil
}

// Addr returns the bound address, or nil before Serve has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Ready is closed once the listener is bound, or once Serve fails to bind it,
// in which case Addr stays nil.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Client returns a connected client by id.
func (s *Server) Client(id int64) (*Client, bool) {
	v, ok := s.clients.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Client), true
}

func (s *Server) closeClients() {
	s.clients.Range(func(_, value any) bool {
		value.(*Client).CloseWithCode(websocket.CloseGoingAway, "server shutting down")
		return true
	})
}

func (s *Server) serveContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := s.serveContext()
	if ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	// Added before the upgrade so Shutdown still tracks the request.
	s.wg.Add(1)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.wg.Done()
		// Upgrade has already replied to the client.
		s.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	id := server.NextConnectionID()
	cd := codec.NewFrameCodec(s.cfg.MaxFrameSize)
	client := NewClient(ctx, id, conn, r.RemoteAddr, cd, s.cfg.RateLimitConfig, s.logger)
	s.clients.Store(id, client)

	go func() {
		defer s.wg.Done()
		s.handleClient(client)
	}()
}

// handleClient runs the client's protocol until it terminates or the socket fails.
func (s *Server) handleClient(client *Client) {
	protocol := s.cfg.Protocol()
	protocol.Start(client.Context(), client.ID())
	if s.cfg.Registry != nil {
		s.cfg.Registry.Register(client.ID(), client)
	}
	s.cfg.Metrics.ConnectionOpened("websocket")
	client.logger.Debug("websocket client connected")

	voluntary := false
	defer func() {
		if s.cfg.Registry != nil {
			s.cfg.Registry.Disconnect(client.ID())
		}
		client.Close()
		s.clients.Delete(client.ID())
		if s.cfg.OnClientDisconnect != nil {
			s.cfg.OnClientDisconnect(client, voluntary)
		}
		client.logger.Debug("websocket client disconnected", "voluntary", voluntary)
	}()

	conn := client.conn

	// Set read deadline to prevent indefinite blocking
	conn.SetReadDeadline(time.Now().Add(pongWait))

	// Set pong handler to reset read deadline on pong
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(client)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				voluntary = true
			} else if client.IsAlive() {
				client.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		// Reset read deadline after successful read
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if !client.CheckRateLimit() {
			client.logger.Warn("rate limit exceeded")
			s.cfg.Metrics.ConnectionRejected("websocket")
			client.CloseWithCode(websocket.ClosePolicyViolation, "Rate limit exceeded")
			return
		}

		msgs, err := client.codec.Decode(data)
		for _, msg := range msgs {
			protocol.Process(msg)
			if protocol.ShouldTerminate() {
				voluntary = true
				return
			}
		}
		if err != nil {
			client.logger.Warn("invalid frame", "error", err)
			client.CloseWithCode(websocket.CloseMessageTooBig, "frame too large")
			return
		}
	}
}
