package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/stompnet/internal/codec"
)

var (
	// ErrConnectionClosed is returned by Send on a closed client.
	ErrConnectionClosed = errors.New("websocket: connection closed")

	// ErrSlowConsumer is returned by Send when the send buffer is full. The
	// client is closed with ClosePolicyViolation.
	ErrSlowConsumer = errors.New("websocket: send buffer full")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Client is one STOMP-over-WebSocket connection. Outgoing frames are queued
// and written by a single write pump; Close lets the pump flush the queue
// before the close handshake.
type Client struct {
	id          int64
	conn        *websocket.Conn
	remoteAddr  string
	codec       codec.EncoderDecoder
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan []byte
	done        chan struct{}
	mu          sync.RWMutex
	closed      bool
	closeCode   int
	closeReason string
	rateLimiter *rate.Limiter // Rate limiter for incoming messages
}

// NewClient wraps conn and starts its write pump. Cancelling parent closes
// the client with CloseGoingAway.
func NewClient(parent context.Context, id int64, conn *websocket.Conn, remoteAddr string,
	cd codec.EncoderDecoder, rateLimitConfig *RateLimitConfig, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(parent)

	var limiter *rate.Limiter
	if rateLimitConfig != nil && rateLimitConfig.Enabled {
		limiter = rate.NewLimiter(rateLimitConfig.MessagesPerSecond, rateLimitConfig.Burst)
	}

	c := &Client{
		id:          id,
		conn:        conn,
		remoteAddr:  remoteAddr,
		codec:       cd,
		logger:      logger.With("conn_id", id, "remote_addr", remoteAddr),
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		closeCode:   websocket.CloseNormalClosure,
		rateLimiter: limiter,
	}

	go c.writePump()
	context.AfterFunc(parent, func() {
		c.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
	})

	return c
}

// ID returns the connection id shared with the registry.
func (c *Client) ID() int64 {
	return c.id
}

// RemoteAddr returns the client's remote network address
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Context returns the client's lifecycle context
func (c *Client) Context() context.Context {
	return c.ctx
}

// Done is closed once the write pump has exited and the socket is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send queues one STOMP frame as a NUL-terminated text message. It never
// blocks: a client whose send buffer is full is disconnected.
func (c *Client) Send(msg string) error {
	data := c.codec.Encode(msg)

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrConnectionClosed
	}
	// Holding the read lock keeps Close from closing sendCh under us.
	select {
	case c.sendCh <- data:
		c.mu.RUnlock()
		return nil
	default:
	}
	c.mu.RUnlock()

	c.logger.Warn("send buffer full, closing slow client", "buffered", sendBufferSize)
	c.CloseWithCode(websocket.ClosePolicyViolation, "send buffer full")
	return ErrSlowConsumer
}

// Close flushes queued frames and closes the connection normally.
func (c *Client) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode flushes queued frames, then closes the connection with a
// close code and optional reason. Only the first call has any effect.
func (c *Client) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.sendCh)
	return nil
}

// IsAlive returns true if the connection is still active
func (c *Client) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// CheckRateLimit checks if the client has exceeded the rate limit
// Returns true if the message is allowed, false if rate limited
func (c *Client) CheckRateLimit() bool {
	if c.rateLimiter == nil {
		return true
	}
	return c.rateLimiter.Allow()
}

// writePump pumps messages from the send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.RLock()
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
				c.mu.RUnlock()
				c.conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
