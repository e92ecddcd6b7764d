package services

import (
	"sync"

	"liveorch/internal/core/ports"

	"go.uber.org/zap"
)

// NoopListener drops every notification.
type NoopListener struct{}

func (NoopListener) OnStatusChanged(string) {}

func (NoopListener) OnError(string) {}

// LogListener writes every republished event to the service log.
type LogListener struct {
	logger *zap.SugaredLogger
}

func NewLogListener(logger *zap.SugaredLogger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) OnStatusChanged(text string) {
	l.logger.Infow("session status", "text", text)
}

func (l *LogListener) OnError(text string) {
	l.logger.Errorw("session error", "text", text)
}

// MultiListener fans the orchestrator's single listener slot out to any
// number of listeners. Listeners can be added while events flow.
type MultiListener struct {
	mu        sync.RWMutex
	listeners []ports.StatusListener
}

// NewMultiListener fans notifications out to listeners in order.
func NewMultiListener(listeners ...ports.StatusListener) *MultiListener {
	return &MultiListener{listeners: listeners}
}

func (m *MultiListener) Add(listener ports.StatusListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, listener)
	m.mu.Unlock()
}

func (m *MultiListener) snapshot() []ports.StatusListener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listeners
}

func (m *MultiListener) OnStatusChanged(text string) {
	for _, l := range m.snapshot() {
		l.OnStatusChanged(text)
	}
}

func (m *MultiListener) OnError(text string) {
	for _, l := range m.snapshot() {
		l.OnError(text)
	}
}
