package server

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/stompnet/internal/logging"
)

func TestActorPoolPreservesPerActorOrder(t *testing.T) {
	p, err := NewActorPool(4, logging.Discard())
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	const (
		actors = 8
		tasks  = 200
	)
	var (
		mu   sync.Mutex
		seen = make(map[int64][]int)
		wg   sync.WaitGroup
	)
	wg.Add(actors * tasks)
	for i := 0; i < tasks; i++ {
		for a := int64(0); a < actors; a++ {
			a, i := a, i
			require.NoError(t, p.Submit(a, func() {
				defer wg.Done()
				mu.Lock()
				seen[a] = append(seen[a], i)
				mu.Unlock()
			}))
		}
	}
	wg.Wait()

	for a := int64(0); a < actors; a++ {
		require.Len(t, seen[a], tasks)
		for i, v := range seen[a] {
			assert.Equal(t, i, v, "actor %d out of order", a)
		}
	}
}

func TestActorPoolNeverRunsOneActorConcurrently(t *testing.T) {
	p, err := NewActorPool(8, logging.Discard())
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	var (
		inFlight atomic.Int32
		overlap  atomic.Bool
		wg       sync.WaitGroup
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(1, func() {
			defer wg.Done()
			if inFlight.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(100 * time.Microsecond)
			inFlight.Add(-1)
		}))
	}
	wg.Wait()
	assert.False(t, overlap.Load())
}

func TestActorPoolRunsActorsInParallel(t *testing.T) {
	p, err := NewActorPool(2, logging.Discard())
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	release := make(chan struct{})
	started := make(chan int64, 2)
	for a := int64(0); a < 2; a++ {
		a := a
		require.NoError(t, p.Submit(a, func() {
			started <- a
			<-release
		}))
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("actors did not run in parallel")
		}
	}
	close(release)
}

func TestActorPoolSurvivesPanic(t *testing.T) {
	p, err := NewActorPool(1, logging.Discard())
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	done := make(chan struct{})
	require.NoError(t, p.Submit(1, func() { panic("boom") }))
	require.NoError(t, p.Submit(1, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task after panic never ran")
	}
}

func TestActorPoolShutdown(t *testing.T) {
	p, err := NewActorPool(2, logging.Discard())
	require.NoError(t, err)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(int64(i%3), func() {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		}))
	}

	require.NoError(t, p.Shutdown(2*time.Second))
	assert.Equal(t, int32(10), ran.Load())
	assert.ErrorIs(t, p.Submit(1, func() {}), ErrPoolClosed)
}

func TestActorPoolSubmitDoesNotBlockWhenWorkersBusy(t *testing.T) {
	p, err := NewActorPool(1, logging.Discard())
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	release := make(chan struct{})
	held := make(chan struct{})
	require.NoError(t, p.Submit(1, func() {
		close(held)
		<-release
	}))
	<-held

	// Every worker is busy; further submits must still return at once.
	submitted := make(chan struct{})
	var ran atomic.Int32
	go func() {
		for a := int64(2); a < 50; a++ {
			_ = p.Submit(a, func() { ran.Add(1) })
		}
		close(submitted)
	}()
	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked while every worker was busy")
	}

	close(release)
	assert.Eventually(t, func() bool { return ran.Load() == 48 }, 2*time.Second, 5*time.Millisecond)
}

func TestActorPoolRunning(t *testing.T) {
	p, err := NewActorPool(3, logging.Discard())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return p.Running() == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Shutdown(time.Second))
	assert.Equal(t, 0, p.Running())
}
