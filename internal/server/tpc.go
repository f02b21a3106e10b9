package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/luciancaetano/stompnet/internal/logging"
)

// ThreadPerClient accepts connections and serves each one on its own
// goroutine with a BlockingHandler.
type ThreadPerClient struct {
	cfg Config

	mu    sync.Mutex
	ln    net.Listener
	ready chan struct{}
}

// NewThreadPerClient returns a server for cfg. Serve starts it.
func NewThreadPerClient(cfg Config) *ThreadPerClient {
	cfg.Logger = logging.OrDefault(cfg.Logger).With("component", "tpc")
	return &ThreadPerClient{cfg: cfg, ready: make(chan struct{})}
}

// Serve listens on cfg.Addr and accepts until ctx is cancelled or the
// listener fails. Before returning it closes every live connection and waits
// for their goroutines.
func (s *ThreadPerClient) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		close(s.ready)
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	close(s.ready)

	s.cfg.Logger.Info("server listening", "addr", ln.Addr().String())

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.cfg.Logger.Info("server stopped")
				return nil
			}
			ln.Close()
			return fmt.Errorf("accept: %w", err)
		}

		if !s.cfg.allowAccept() {
			s.cfg.Logger.Warn("connection rejected by accept rate limit", "remote_addr", conn.RemoteAddr().String())
			s.cfg.Metrics.ConnectionRejected("tcp")
			conn.Close()
			continue
		}

		h := s.accept(ctx, conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Run()
		}()
	}
}

func (s *ThreadPerClient) accept(ctx context.Context, conn net.Conn) *BlockingHandler {
	id := NextConnectionID()
	protocol := s.cfg.Protocol()
	h := NewBlockingHandler(ctx, id, conn, s.cfg.Codec(), protocol, s.cfg.Registry, s.cfg.Logger, s.cfg.writeTimeout())

	protocol.Start(h.Context(), id)
	if s.cfg.Registry != nil {
		s.cfg.Registry.Register(id, h)
	}
	s.cfg.Metrics.ConnectionOpened("tcp")
	h.logger.Debug("connection accepted")
	return h
}

// Addr returns the bound address, or nil before Serve has bound it.
func (s *ThreadPerClient) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Ready is closed once the listener is bound, or once Serve fails to bind it,
// in which case Addr stays nil.
func (s *ThreadPerClient) Ready() <-chan struct{} {
	return s.ready
}
