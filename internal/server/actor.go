package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("server: actor pool closed")

// ActorPool runs tasks on a fixed set of ants workers while guaranteeing that
// tasks submitted for the same actor run one at a time, in submission order.
//
// Actors with pending work wait in a ready queue. A worker takes the actor at
// the head, runs one of its tasks and puts the actor back at the tail if more
// are pending, so an actor occupies at most one worker and busy actors take
// turns.
type ActorPool struct {
	pool   *ants.Pool
	logger *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	closed    bool
	stopping  bool
	pending   map[int64][]func()
	scheduled map[int64]struct{}
	ready     []int64
	active    sync.WaitGroup
}

// NewActorPool starts size workers. Submit never blocks: tasks queue until a
// worker is free.
func NewActorPool(size int, logger *slog.Logger) (*ActorPool, error) {
	p := &ActorPool{
		logger:    logger,
		pending:   make(map[int64][]func()),
		scheduled: make(map[int64]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			p.logger.Error("worker panicked", "panic", v)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	p.pool = pool

	for i := 0; i < size; i++ {
		if err := pool.Submit(p.work); err != nil {
			p.stop()
			pool.Release()
			return nil, fmt.Errorf("start worker: %w", err)
		}
	}
	return p, nil
}

// Submit queues task behind any pending tasks of the same actor.
func (p *ActorPool) Submit(actor int64, task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.pending[actor] = append(p.pending[actor], task)
	if _, ok := p.scheduled[actor]; ok {
		return nil
	}
	p.scheduled[actor] = struct{}{}
	p.active.Add(1)
	p.ready = append(p.ready, actor)
	p.cond.Signal()
	return nil
}

func (p *ActorPool) work() {
	for {
		p.mu.Lock()
		for len(p.ready) == 0 && !p.stopping {
			p.cond.Wait()
		}
		if p.stopping {
			p.mu.Unlock()
			return
		}
		actor := p.ready[0]
		p.ready = p.ready[1:]
		queue := p.pending[actor]
		task := queue[0]
		queue[0] = nil
		p.pending[actor] = queue[1:]
		p.mu.Unlock()

		p.run(task)

		p.mu.Lock()
		if len(p.pending[actor]) > 0 {
			p.ready = append(p.ready, actor)
			p.mu.Unlock()
			continue
		}
		delete(p.pending, actor)
		delete(p.scheduled, actor)
		p.mu.Unlock()
		p.active.Done()
	}
}

// run keeps a panicking task from taking its worker down.
func (p *ActorPool) run(task func()) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("task panicked", "panic", v)
		}
	}()
	task()
}

func (p *ActorPool) stop() {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Running returns the number of live workers.
func (p *ActorPool) Running() int {
	return p.pool.Running()
}

// Shutdown rejects new tasks, waits up to timeout for queued tasks to finish
// and stops the workers. Tasks still queued after timeout are dropped.
func (p *ActorPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.active.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("actor pool: tasks still running after %s", timeout)
	}
	p.stop()
	if rerr := p.pool.ReleaseTimeout(timeout); rerr != nil && err == nil {
		err = fmt.Errorf("release worker pool: %w", rerr)
	}
	return err
}
