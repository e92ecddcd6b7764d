// Package testutil holds in-process stand-ins for the external collaborators
// used by service and handler tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"
)

// FakeEngine is a scriptable transport engine. Each Invoke produces an
// Invocation the test drives by hand.
type FakeEngine struct {
	mu          sync.Mutex
	invocations []*Invocation
	cancels     int
	// InvokeErr, when set, makes every Invoke fail.
	InvokeErr error
	// Invoked receives every new invocation.
	Invoked chan *Invocation
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{Invoked: make(chan *Invocation, 16)}
}

var _ ports.TransportEngine = (*FakeEngine)(nil)

func (e *FakeEngine) Invoke(ctx context.Context, descriptor *domain.TransportDescriptor) (*ports.EngineHandle, error) {
	e.mu.Lock()
	if e.InvokeErr != nil {
		err := e.InvokeErr
		e.mu.Unlock()
		return nil, err
	}
	events := make(chan domain.TransportEvent, 64)
	inv := &Invocation{
		Ctx:        ctx,
		Descriptor: descriptor,
		events:     events,
	}
	inv.Handle = &ports.EngineHandle{ID: fmt.Sprintf("fake-%d", len(e.invocations)+1), Events: events}
	e.invocations = append(e.invocations, inv)
	e.mu.Unlock()

	select {
	case e.Invoked <- inv:
	default:
	}
	return inv.Handle, nil
}

// Cancel delivers a trailing cancelled terminal event the way a real
// engine would after being killed.
func (e *FakeEngine) Cancel(handle *ports.EngineHandle) error {
	e.mu.Lock()
	e.cancels++
	var target *Invocation
	for _, inv := range e.invocations {
		if inv.Handle == handle {
			target = inv
		}
	}
	e.mu.Unlock()
	if target == nil {
		return fmt.Errorf("unknown handle %s", handle.ID)
	}
	target.mu.Lock()
	target.cancelled = true
	target.mu.Unlock()
	target.Finish(domain.OutcomeCancelled, "")
	return nil
}

func (e *FakeEngine) Invocations() []*Invocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Invocation, len(e.invocations))
	copy(out, e.invocations)
	return out
}

func (e *FakeEngine) CancelCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels
}

// Last returns the most recent invocation or nil.
func (e *FakeEngine) Last() *Invocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.invocations) == 0 {
		return nil
	}
	return e.invocations[len(e.invocations)-1]
}

type Invocation struct {
	Ctx        context.Context
	Descriptor *domain.TransportDescriptor
	Handle     *ports.EngineHandle

	mu        sync.Mutex
	events    chan domain.TransportEvent
	closed    bool
	cancelled bool
}

// Emit sends ev unless the stream is already closed. A terminal event closes
// the stream.
func (i *Invocation) Emit(ev domain.TransportEvent) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return false
	}
	i.events <- ev
	if ev.Kind == domain.TransportTerminal {
		i.closed = true
		close(i.events)
	}
	return true
}

func (i *Invocation) LogLine(line string) bool {
	return i.Emit(domain.LogLineEvent(line))
}

func (i *Invocation) Counters(c domain.TransportCounters) bool {
	return i.Emit(domain.CountersEvent(c))
}

func (i *Invocation) Finish(outcome domain.TerminalOutcome, diagnostic string) bool {
	return i.Emit(domain.TerminalEvent(outcome, diagnostic))
}

// Close ends the stream without a terminal event.
func (i *Invocation) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.closed {
		i.closed = true
		close(i.events)
	}
}

func (i *Invocation) Cancelled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cancelled
}
