package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luciancaetano/stompnet"
)

type fakeProtocol struct {
	started   int64
	processed []string
	terminate bool
}

func (p *fakeProtocol) Start(_ context.Context, id int64) { p.started = id }
func (p *fakeProtocol) Process(msg string)                { p.processed = append(p.processed, msg) }
func (p *fakeProtocol) ShouldTerminate() bool             { return p.terminate }

func TestProtocolAdapter(t *testing.T) {
	t.Parallel()

	inner := &fakeProtocol{}
	a := NewProtocolAdapter(inner)

	a.Start(context.Background(), 12)
	assert.Equal(t, int64(12), inner.started)

	reply, ok := a.Process("SEND\n\n")
	assert.False(t, ok)
	assert.Empty(t, reply)
	assert.Equal(t, []string{"SEND\n\n"}, inner.processed)

	assert.False(t, a.ShouldTerminate())
	inner.terminate = true
	assert.True(t, a.ShouldTerminate())
}

func TestAdapt(t *testing.T) {
	t.Parallel()

	var made int
	factory := Adapt(func() stompnet.Protocol {
		made++
		return &fakeProtocol{}
	})

	p1, p2 := factory(), factory()
	assert.NotSame(t, p1, p2)
	assert.Equal(t, 2, made)
	assert.IsType(t, &ProtocolAdapter{}, p1)
}

func TestNextConnectionIDMonotonic(t *testing.T) {
	t.Parallel()

	a := NextConnectionID()
	b := NextConnectionID()
	assert.Greater(t, b, a)
}
