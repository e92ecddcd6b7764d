package testutil

import (
	"sync"

	"liveorch/internal/core/domain"
)

// RecordingListener keeps every status and error line it receives.
type RecordingListener struct {
	mu       sync.Mutex
	statuses []string
	errors   []string
}

func (l *RecordingListener) OnStatusChanged(text string) {
	l.mu.Lock()
	l.statuses = append(l.statuses, text)
	l.mu.Unlock()
}

func (l *RecordingListener) OnError(text string) {
	l.mu.Lock()
	l.errors = append(l.errors, text)
	l.mu.Unlock()
}

func (l *RecordingListener) Statuses() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.statuses...)
}

func (l *RecordingListener) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

// EventSink collects protocol events from a channel handed to a protocol.
type EventSink struct {
	C chan domain.ProtocolEvent

	mu     sync.Mutex
	events []domain.ProtocolEvent
	done   chan struct{}
}

func NewEventSink() *EventSink {
	s := &EventSink{
		C:    make(chan domain.ProtocolEvent, 256),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		for ev := range s.C {
			s.mu.Lock()
			s.events = append(s.events, ev)
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *EventSink) Events() []domain.ProtocolEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ProtocolEvent(nil), s.events...)
}

// Statuses returns the status of every transition, skipping narration.
func (s *EventSink) Statuses() []domain.SessionStatus {
	var out []domain.SessionStatus
	for _, ev := range s.Events() {
		if ev.Kind != domain.ProtocolNarration {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (s *EventSink) Count(kind domain.ProtocolEventKind) int {
	n := 0
	for _, ev := range s.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// RecordingObserver keeps every observed protocol event.
type RecordingObserver struct {
	mu     sync.Mutex
	events []domain.ProtocolEvent
}

func (o *RecordingObserver) ObserveEvent(ev domain.ProtocolEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *RecordingObserver) Events() []domain.ProtocolEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.ProtocolEvent(nil), o.events...)
}
