package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/gnet/v2"

	"github.com/luciancaetano/stompnet/internal/codec"
)

// NonBlockingHandler owns one connection served by the Reactor. Reads are
// decoded on the event loop; processing runs on the actor pool. Writes are
// queued with gnet's AsyncWrite, which hands them to the event loop and wakes
// it, so Send never blocks.
type NonBlockingHandler struct {
	id       int64
	conn     gnet.Conn
	codec    codec.EncoderDecoder
	protocol MessagingProtocol
	registry Registry
	logger   *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ ConnectionHandler = (*NonBlockingHandler)(nil)

// NewNonBlockingHandler wraps c. reg may be nil.
func NewNonBlockingHandler(parent context.Context, id int64, c gnet.Conn, cd codec.EncoderDecoder,
	protocol MessagingProtocol, reg Registry, logger *slog.Logger) *NonBlockingHandler {
	ctx, cancel := context.WithCancel(parent)
	return &NonBlockingHandler{
		id:       id,
		conn:     c,
		codec:    cd,
		protocol: protocol,
		registry: reg,
		logger:   logger.With("conn_id", id, "remote_addr", c.RemoteAddr().String()),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ID returns the connection id.
func (h *NonBlockingHandler) ID() int64 { return h.id }

// Context is cancelled once the handler is closed.
func (h *NonBlockingHandler) Context() context.Context { return h.ctx }

// continueRead decodes data on the event loop and returns the processing
// task for the messages it completed, or nil when none completed. A decode
// error is terminal; messages completed before it are still returned.
func (h *NonBlockingHandler) continueRead(data []byte) (func(), error) {
	msgs, err := h.codec.Decode(data)
	if len(msgs) == 0 {
		return nil, err
	}
	return func() { h.process(msgs) }, err
}

func (h *NonBlockingHandler) process(msgs []string) {
	for _, msg := range msgs {
		if h.closed.Load() || h.protocol.ShouldTerminate() {
			break
		}
		if reply, ok := h.protocol.Process(msg); ok {
			if err := h.Send(reply); err != nil {
				h.logger.Debug("reply write failed", "error", err)
			}
		}
	}
	if h.protocol.ShouldTerminate() {
		h.Close()
	}
}

// Send queues one message with its transport terminator.
func (h *NonBlockingHandler) Send(msg string) error {
	if h.closed.Load() {
		return ErrHandlerClosed
	}
	return h.conn.AsyncWrite(h.codec.Encode(msg), nil)
}

// Close releases the registry entry and asks the event loop to close the
// socket after flushing queued writes. Only the first call has any effect.
func (h *NonBlockingHandler) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.release()
		err = h.conn.Close()
	})
	return err
}

// onClosed runs after the event loop has closed the socket.
func (h *NonBlockingHandler) onClosed() {
	h.closeOnce.Do(h.release)
}

func (h *NonBlockingHandler) release() {
	h.closed.Store(true)
	h.cancel()
	if h.registry != nil {
		h.registry.Disconnect(h.id)
	}
	h.logger.Debug("connection released")
}
