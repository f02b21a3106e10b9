package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/gnet/v2"

	"github.com/luciancaetano/stompnet/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Reactor multiplexes every connection on a single gnet event loop. The loop
// only accepts, reads, decodes and flushes; decoded messages are processed on
// an ActorPool keyed by connection id, so one connection's messages never run
// concurrently and a slow protocol step never stalls the loop.
type Reactor struct {
	gnet.BuiltinEventEngine

	cfg  Config
	pool *ActorPool
	ctx  context.Context

	mu     sync.Mutex
	eng    gnet.Engine
	addr   net.Addr
	booted chan struct{}
}

// NewReactor returns a reactor for cfg. Serve starts it.
func NewReactor(cfg Config) *Reactor {
	cfg.Logger = logging.OrDefault(cfg.Logger).With("component", "reactor")
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Reactor{cfg: cfg, booted: make(chan struct{})}
}

// Serve runs the event loop until ctx is cancelled or the engine fails.
// Shutdown closes every connection and drains the worker pool.
func (r *Reactor) Serve(ctx context.Context) error {
	pool, err := NewActorPool(r.cfg.Workers, r.cfg.Logger)
	if err != nil {
		return err
	}
	r.pool = pool
	r.ctx = ctx

	errCh := make(chan error, 1)
	go func() {
		errCh <- gnet.Run(r, "tcp://"+r.cfg.Addr,
			gnet.WithMulticore(false),
			gnet.WithNumEventLoop(1),
			gnet.WithTCPNoDelay(gnet.TCPNoDelay),
			gnet.WithLogger(logging.NewPrintf(r.cfg.Logger)),
		)
	}()

	select {
	case err = <-errCh:
		// Engine failed to start or stopped by itself.
	case <-ctx.Done():
		select {
		case <-r.booted:
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			r.mu.Lock()
			eng := r.eng
			r.mu.Unlock()
			if serr := eng.Stop(stopCtx); serr != nil {
				r.cfg.Logger.Warn("engine stop failed", "error", serr)
			}
			cancel()
			err = <-errCh
		case err = <-errCh:
		}
	}

	if perr := pool.Shutdown(shutdownTimeout); perr != nil {
		r.cfg.Logger.Warn("worker pool shutdown", "error", perr)
	}
	r.cfg.Logger.Info("reactor stopped")

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("reactor: %w", err)
	}
	return nil
}

// Addr returns the bound listen address once the engine has booted.
func (r *Reactor) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// Ready is closed once the event loop is accepting connections.
func (r *Reactor) Ready() <-chan struct{} {
	return r.booted
}

func (r *Reactor) OnBoot(eng gnet.Engine) gnet.Action {
	addr, err := boundAddr(eng)
	if err != nil {
		r.cfg.Logger.Warn("read bound address", "addr", r.cfg.Addr, "error", err)
		if tcp, rerr := net.ResolveTCPAddr("tcp", r.cfg.Addr); rerr == nil {
			addr = tcp
		}
	}

	r.mu.Lock()
	r.eng = eng
	r.addr = addr
	r.mu.Unlock()
	close(r.booted)

	if addr != nil {
		r.cfg.Logger.Info("server listening", "addr", addr.String(), "workers", r.cfg.Workers)
	}
	return gnet.None
}

// boundAddr reads the listener's local address from a duplicate of its
// descriptor, which resolves a ":0" port to the one the kernel picked.
func boundAddr(eng gnet.Engine) (net.Addr, error) {
	fd, err := eng.Dup()
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), "listener")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	return ln.Addr(), nil
}

func (r *Reactor) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	if !r.cfg.allowAccept() {
		r.cfg.Logger.Warn("connection rejected by accept rate limit", "remote_addr", c.RemoteAddr().String())
		r.cfg.Metrics.ConnectionRejected("tcp")
		return nil, gnet.Close
	}

	id := NextConnectionID()
	protocol := r.cfg.Protocol()
	h := NewNonBlockingHandler(r.ctx, id, c, r.cfg.Codec(), protocol, r.cfg.Registry, r.cfg.Logger)

	protocol.Start(h.Context(), id)
	if r.cfg.Registry != nil {
		r.cfg.Registry.Register(id, h)
	}
	c.SetContext(h)
	r.cfg.Metrics.ConnectionOpened("tcp")
	h.logger.Debug("connection accepted")
	return nil, gnet.None
}

func (r *Reactor) OnTraffic(c gnet.Conn) gnet.Action {
	h, ok := c.Context().(*NonBlockingHandler)
	if !ok {
		return gnet.Close
	}

	buf, err := c.Next(-1)
	if err != nil {
		h.logger.Info("read failed", "error", err)
		return gnet.Close
	}

	task, decErr := h.continueRead(buf)
	if task != nil {
		if err := r.pool.Submit(h.id, task); err != nil {
			h.logger.Warn("dispatch failed", "error", err)
			return gnet.Close
		}
	}
	if decErr != nil {
		h.logger.Warn("decode failed", "error", decErr)
		// Close behind the messages already queued for this connection.
		if err := r.pool.Submit(h.id, func() { h.Close() }); err != nil {
			return gnet.Close
		}
	}
	return gnet.None
}

func (r *Reactor) OnClose(c gnet.Conn, err error) gnet.Action {
	h, ok := c.Context().(*NonBlockingHandler)
	if !ok {
		return gnet.None
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		h.logger.Debug("connection error", "error", err)
	}

	// Registry cleanup may reach the store; keep it off the event loop.
	if serr := r.pool.Submit(h.id, h.onClosed); serr != nil {
		go h.onClosed()
	}
	return gnet.None
}
