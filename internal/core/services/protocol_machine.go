package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"

	"go.uber.org/zap"
)

const (
	defaultTickInterval = time.Second
	releaseDrainTimeout = 5 * time.Second
)

// Phrases the transport engine uses to report connection progress.
var (
	phrasesConnected = []string{"connection established"}
	phrasesStreaming = []string{"streaming started"}
	phrasesFailed    = []string{"connection lost", "connection failed"}
)

type logSignal int

const (
	signalNone logSignal = iota
	signalConnected
	signalStreaming
	signalFailed
)

func classifyLogLine(line string) logSignal {
	lower := strings.ToLower(line)
	contains := func(phrases []string) bool {
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				return true
			}
		}
		return false
	}
	switch {
	case contains(phrasesFailed):
		return signalFailed
	case contains(phrasesStreaming):
		return signalStreaming
	case contains(phrasesConnected):
		return signalConnected
	}
	return signalNone
}

// ProtocolMachine runs the session lifecycle for one protocol variant.
// Transport events for a session are consumed by a single pump goroutine;
// every state change and stats update happens under mu. Events are queued
// under mu and delivered after it is released, in queue order.
type ProtocolMachine struct {
	variant  domain.ProtocolVariant
	engine   ports.TransportEngine
	strategy DescriptorStrategy
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu           sync.Mutex
	status       domain.SessionStatus
	paused       bool
	stats        *StatsAggregator
	tickInterval time.Duration
	sink         chan<- domain.ProtocolEvent
	// generation changes on every start and stop so events from an older
	// invocation can be told apart and dropped.
	generation uint64
	handle     *ports.EngineHandle
	cancelCtx  context.CancelFunc
	tickStop   chan struct{}
	released   bool
	done       chan struct{}
	// workers tracks the pump and ticker goroutines.
	workers sync.WaitGroup

	outbox []queuedEvent
	sendMu sync.Mutex
}

type queuedEvent struct {
	sink  chan<- domain.ProtocolEvent
	event domain.ProtocolEvent
}

// NewProtocolMachine creates an idle machine that builds descriptors with
// strategy and dispatches them to engine.
func NewProtocolMachine(
	variant domain.ProtocolVariant,
	engine ports.TransportEngine,
	strategy DescriptorStrategy,
	logger *zap.SugaredLogger,
) *ProtocolMachine {
	return &ProtocolMachine{
		variant:      variant,
		engine:       engine,
		strategy:     strategy,
		logger:       logger.With("variant", string(variant)),
		now:          time.Now,
		status:       domain.StatusIdle,
		stats:        NewStatsAggregator(),
		tickInterval: defaultTickInterval,
		done:         make(chan struct{}),
	}
}

// SetTickInterval changes the narration period for sessions started later.
func (m *ProtocolMachine) SetTickInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	m.tickInterval = interval
	m.mu.Unlock()
}

func (m *ProtocolMachine) Variant() domain.ProtocolVariant {
	return m.variant
}

// Status returns the current session status.
func (m *ProtocolMachine) Status() domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Stats returns a snapshot of the current session statistics.
func (m *ProtocolMachine) Stats() domain.StreamStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.Snapshot()
}

// SetConfig hands the strategy a new configuration. A running session
// keeps the snapshot it was started with.
func (m *ProtocolMachine) SetConfig(cfg *domain.StreamConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy.Reconfigure(cfg)
}

// Start begins a session from cfg and reports every transition on events.
// It is ignored while a session is active or after Release.
func (m *ProtocolMachine) Start(cfg *domain.StreamConfig, events chan<- domain.ProtocolEvent) {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		m.logger.Warnw("start ignored, protocol released")
		return
	}
	if !m.status.AcceptsStart() {
		status := m.status
		m.mu.Unlock()
		m.logger.Warnw("start ignored", "status", status)
		return
	}

	m.sink = events
	m.generation++
	gen := m.generation
	m.paused = false
	m.stats.Reset(m.now())

	out := []domain.ProtocolEvent{
		m.transitionLocked(domain.StatusConnecting, domain.ProtocolStatusChanged, "connecting to "+domain.HostOf(cfg.DestinationURL())),
	}

	desc, err := m.buildDescriptor(cfg)
	if err != nil {
		out = append(out, m.failLocked(fmt.Errorf("%w: %v", domain.ErrEngineDispatch, err)))
		m.queueLocked(events, out...)
		m.mu.Unlock()
		m.flush()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := m.engine.Invoke(ctx, desc)
	if err != nil {
		cancel()
		out = append(out, m.failLocked(fmt.Errorf("%w: %v", domain.ErrEngineDispatch, err)))
		m.queueLocked(events, out...)
		m.mu.Unlock()
		m.flush()
		return
	}

	m.handle = handle
	m.cancelCtx = cancel
	m.tickStop = make(chan struct{})
	m.workers.Add(2)
	go m.pump(gen, handle)
	go m.runTicker(gen, m.tickInterval, m.tickStop)
	m.queueLocked(events, out...)
	m.mu.Unlock()

	m.logger.Infow("session dispatched", "engine_handle", handle.ID, "destination_host", domain.HostOf(desc.DestinationURL))
	m.flush()
}

// buildDescriptor converts a panic inside a strategy into an error so a
// failed build always ends in StatusError.
func (m *ProtocolMachine) buildDescriptor(cfg *domain.StreamConfig) (desc *domain.TransportDescriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("descriptor build panicked: %v", r)
		}
	}()
	return m.strategy.Build(cfg)
}

// Stop cancels the engine invocation and moves to Disconnected. It is
// ignored from Idle and Disconnected.
func (m *ProtocolMachine) Stop() {
	m.mu.Lock()
	if m.status == domain.StatusIdle || m.status == domain.StatusDisconnected {
		status := m.status
		m.mu.Unlock()
		m.logger.Warnw("stop ignored", "status", status)
		return
	}
	m.stopLocked()
}

// stopLocked is called with mu held and releases it.
func (m *ProtocolMachine) stopLocked() {
	handle := m.handle
	m.detachLocked()
	m.stats.MarkEnded(m.now())
	m.queueLocked(m.sink, m.transitionLocked(domain.StatusDisconnected, domain.ProtocolStopped, "stopped"))
	m.mu.Unlock()

	if handle != nil {
		if err := m.engine.Cancel(handle); err != nil {
			m.logger.Warnw("engine cancel failed", "engine_handle", handle.ID, "error", err)
		}
	}
	m.flush()
}

// detachLocked forgets the current invocation: later transport events and
// ticks for it are ignored.
func (m *ProtocolMachine) detachLocked() {
	m.generation++
	m.handle = nil
	m.paused = false
	if m.cancelCtx != nil {
		m.cancelCtx()
		m.cancelCtx = nil
	}
	if m.tickStop != nil {
		close(m.tickStop)
		m.tickStop = nil
	}
}

// Pause suppresses narration while streaming. The engine keeps running.
func (m *ProtocolMachine) Pause() {
	m.mu.Lock()
	if m.status != domain.StatusStreaming {
		status := m.status
		m.mu.Unlock()
		m.logger.Debugw("pause ignored", "status", status)
		return
	}
	m.paused = true
	ev := m.transitionLocked(domain.StatusPaused, domain.ProtocolStatusChanged, "paused")
	m.queueLocked(m.sink, ev)
	m.mu.Unlock()
	m.flush()
}

// Resume undoes Pause.
func (m *ProtocolMachine) Resume() {
	m.mu.Lock()
	if m.status != domain.StatusPaused {
		status := m.status
		m.mu.Unlock()
		m.logger.Debugw("resume ignored", "status", status)
		return
	}
	m.paused = false
	ev := m.transitionLocked(domain.StatusStreaming, domain.ProtocolStatusChanged, "resumed")
	m.queueLocked(m.sink, ev)
	m.mu.Unlock()
	m.flush()
}

// Release stops an active session and shuts the instance down, waiting a
// bounded time for the transport event stream to drain. Calls after the
// first are no-ops.
func (m *ProtocolMachine) Release() {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.released = true
	if m.status.IsActive() {
		m.stopLocked()
	} else {
		m.detachLocked()
		m.mu.Unlock()
	}
	close(m.done)

	drained := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		m.logger.Debugw("protocol released")
	case <-time.After(releaseDrainTimeout):
		m.logger.Warnw("protocol released with transport events still pending")
	}
}

// pump feeds transport events for one invocation into the machine and
// synthesizes a failed terminal if the stream closes without one.
func (m *ProtocolMachine) pump(gen uint64, handle *ports.EngineHandle) {
	defer m.workers.Done()
	terminal := false
	for ev := range handle.Events {
		if ev.Kind == domain.TransportTerminal {
			terminal = true
		}
		m.handleTransportEvent(gen, handle, ev)
	}
	if !terminal {
		m.handleTransportEvent(gen, handle, domain.TerminalEvent(domain.OutcomeFailed, "transport event stream closed without a terminal event"))
	}
}

func (m *ProtocolMachine) handleTransportEvent(gen uint64, handle *ports.EngineHandle, ev domain.TransportEvent) {
	m.mu.Lock()
	if gen != m.generation || !m.status.IsActive() {
		m.mu.Unlock()
		m.logger.Debugw("ignoring late transport event", "kind", ev.Kind, "engine_handle", handle.ID)
		return
	}

	var (
		out          []domain.ProtocolEvent
		cancelEngine bool
	)
	switch ev.Kind {
	case domain.TransportLogLine:
		switch classifyLogLine(ev.Line) {
		case signalConnected:
			if m.status == domain.StatusConnecting {
				out = append(out, m.transitionLocked(domain.StatusConnected, domain.ProtocolStatusChanged, "connected"))
			}
		case signalStreaming:
			if m.status == domain.StatusConnecting || m.status == domain.StatusConnected {
				out = append(out, m.transitionLocked(domain.StatusStreaming, domain.ProtocolStarted, "streaming started"))
			}
		case signalFailed:
			out = append(out, m.failLocked(fmt.Errorf("%w: %s", domain.ErrTransportFailure, ev.Line)))
			cancelEngine = true
		default:
			m.logger.Debugw("engine log", "line", ev.Line)
		}
	case domain.TransportCountersUpdate:
		m.stats.Update(ev.Counters)
	case domain.TransportTerminal:
		m.handle = nil
		switch ev.Outcome {
		case domain.OutcomeSuccess, domain.OutcomeCancelled:
			m.detachLocked()
			m.stats.MarkEnded(m.now())
			out = append(out, m.transitionLocked(domain.StatusDisconnected, domain.ProtocolStopped, "stopped: transport "+ev.Outcome.String()))
		default:
			out = append(out, m.failLocked(fmt.Errorf("%w: %s", domain.ErrTransportFailure, ev.Diagnostic)))
		}
	}
	m.queueLocked(m.sink, out...)
	m.mu.Unlock()

	if cancelEngine {
		if err := m.engine.Cancel(handle); err != nil {
			m.logger.Warnw("engine cancel after failure", "engine_handle", handle.ID, "error", err)
		}
	}
	m.flush()
}

// failLocked moves to StatusError and tears the invocation down.
func (m *ProtocolMachine) failLocked(err error) domain.ProtocolEvent {
	m.detachLocked()
	m.stats.MarkEnded(m.now())
	m.logger.Errorw("session failed", "error", err)
	return m.transitionLocked(domain.StatusError, domain.ProtocolError, err.Error())
}

func (m *ProtocolMachine) transitionLocked(to domain.SessionStatus, kind domain.ProtocolEventKind, message string) domain.ProtocolEvent {
	from := m.status
	m.status = to
	m.logger.Infow("status changed", "from", from, "to", to)
	return domain.ProtocolEvent{
		Variant: m.variant,
		Kind:    kind,
		Status:  to,
		Message: message,
		Stats:   m.stats.Snapshot(),
		At:      m.now(),
	}
}

func (m *ProtocolMachine) runTicker(gen uint64, interval time.Duration, stop <-chan struct{}) {
	defer m.workers.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.narrate(gen)
		}
	}
}

func (m *ProtocolMachine) narrate(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.status != domain.StatusStreaming || m.paused {
		m.mu.Unlock()
		return
	}
	now := m.now()
	stats := m.stats.Snapshot()
	ev := domain.ProtocolEvent{
		Variant: m.variant,
		Kind:    domain.ProtocolNarration,
		Status:  m.status,
		Message: m.strategy.Narrate(stats, stats.RunningTimeAt(now)),
		Stats:   stats,
		At:      now,
	}
	m.queueLocked(m.sink, ev)
	m.mu.Unlock()
	m.flush()
}

// queueLocked appends events in the order their transitions happened.
func (m *ProtocolMachine) queueLocked(sink chan<- domain.ProtocolEvent, events ...domain.ProtocolEvent) {
	if sink == nil {
		return
	}
	for _, ev := range events {
		m.outbox = append(m.outbox, queuedEvent{sink: sink, event: ev})
	}
}

// flush delivers queued events without holding mu. sendMu keeps a single
// sender at a time, so the sink sees events in queue order.
func (m *ProtocolMachine) flush() {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	for {
		m.mu.Lock()
		batch := m.outbox
		m.outbox = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, q := range batch {
			select {
			case q.sink <- q.event:
			case <-m.done:
				return
			}
		}
	}
}
