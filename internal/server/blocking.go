package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luciancaetano/stompnet/internal/codec"
)

// BlockingHandler owns one connection served by a dedicated goroutine that
// blocks in socket reads. Send may be called from any goroutine; writes are
// serialized and bounded by the write timeout.
type BlockingHandler struct {
	id       int64
	conn     net.Conn
	codec    codec.EncoderDecoder
	protocol MessagingProtocol
	registry Registry
	logger   *slog.Logger

	writeTimeout time.Duration
	writeMu      sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	stopWatch func() bool
	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

var _ ConnectionHandler = (*BlockingHandler)(nil)

// NewBlockingHandler wraps conn. The handler is closed when parent is
// cancelled. reg may be nil.
func NewBlockingHandler(parent context.Context, id int64, conn net.Conn, cd codec.EncoderDecoder,
	protocol MessagingProtocol, reg Registry, logger *slog.Logger, writeTimeout time.Duration) *BlockingHandler {
	ctx, cancel := context.WithCancel(parent)
	h := &BlockingHandler{
		id:           id,
		conn:         conn,
		codec:        cd,
		protocol:     protocol,
		registry:     reg,
		logger:       logger.With("conn_id", id, "remote_addr", conn.RemoteAddr().String()),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	h.stopWatch = context.AfterFunc(parent, func() { h.Close() })
	return h
}

// ID returns the connection id.
func (h *BlockingHandler) ID() int64 { return h.id }

// Context is cancelled once the handler is closed.
func (h *BlockingHandler) Context() context.Context { return h.ctx }

// Run reads and processes messages until the protocol terminates or the
// transport fails, then closes the handler.
func (h *BlockingHandler) Run() {
	defer h.Close()

	r := codec.NewReader(h.conn, h.codec, 0)
	for !h.protocol.ShouldTerminate() {
		msg, err := r.Next()
		if err != nil {
			h.logReadError(err)
			return
		}

		reply, ok := h.protocol.Process(msg)
		if ok {
			if err := h.Send(reply); err != nil {
				h.logger.Debug("reply write failed", "error", err)
				return
			}
		}
	}
}

func (h *BlockingHandler) logReadError(err error) {
	switch {
	case h.closed.Load(), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		h.logger.Debug("connection closed", "error", err)
	case errors.Is(err, codec.ErrFrameTooLarge):
		h.logger.Warn("frame too large", "error", err)
	default:
		h.logger.Info("read failed", "error", err)
	}
}

// Send writes one message with its transport terminator.
func (h *BlockingHandler) Send(msg string) error {
	if h.closed.Load() {
		return ErrHandlerClosed
	}
	data := h.codec.Encode(msg)

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.writeTimeout > 0 {
		if err := h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := h.conn.Write(data)
	return err
}

// Close releases the registry entry and closes the socket. Only the first
// call has any effect.
func (h *BlockingHandler) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.stopWatch()
		h.cancel()
		if h.registry != nil {
			h.registry.Disconnect(h.id)
		}

		// Let an in-flight write finish before the socket goes away.
		h.writeMu.Lock()
		h.closeErr = h.conn.Close()
		h.writeMu.Unlock()

		h.logger.Debug("connection released")
	})
	return h.closeErr
}
