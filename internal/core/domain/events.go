package domain

import "time"

type TransportEventKind int

const (
	TransportLogLine TransportEventKind = iota
	TransportCountersUpdate
	TransportTerminal
)

type TerminalOutcome int

const (
	OutcomeSuccess TerminalOutcome = iota
	OutcomeCancelled
	OutcomeFailed
)

func (o TerminalOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// TransportEvent is emitted by the transport engine for one invocation.
// Exactly one TransportTerminal event ends the sequence.
type TransportEvent struct {
	Kind       TransportEventKind
	Line       string
	Counters   TransportCounters
	Outcome    TerminalOutcome
	Diagnostic string
}

func LogLineEvent(line string) TransportEvent {
	return TransportEvent{Kind: TransportLogLine, Line: line}
}

func CountersEvent(c TransportCounters) TransportEvent {
	return TransportEvent{Kind: TransportCountersUpdate, Counters: c}
}

func TerminalEvent(outcome TerminalOutcome, diagnostic string) TransportEvent {
	return TransportEvent{Kind: TransportTerminal, Outcome: outcome, Diagnostic: diagnostic}
}

type ProtocolEventKind int

const (
	// ProtocolStatusChanged carries a lifecycle transition.
	ProtocolStatusChanged ProtocolEventKind = iota
	ProtocolStarted
	ProtocolStopped
	ProtocolError
	// ProtocolNarration is a free-form status line with no transition.
	ProtocolNarration
)

func (k ProtocolEventKind) String() string {
	switch k {
	case ProtocolStatusChanged:
		return "status"
	case ProtocolStarted:
		return "started"
	case ProtocolStopped:
		return "stopped"
	case ProtocolError:
		return "error"
	case ProtocolNarration:
		return "narration"
	default:
		return "unknown"
	}
}

// ProtocolEvent flows from a protocol instance to the orchestrator.
type ProtocolEvent struct {
	Variant ProtocolVariant   `json:"variant"`
	Kind    ProtocolEventKind `json:"kind"`
	Status  SessionStatus     `json:"status"`
	Message string            `json:"message"`
	Stats   StreamStats       `json:"stats"`
	At      time.Time         `json:"at"`
}

// Terminal reports whether the event closes a session.
func (e ProtocolEvent) Terminal() bool {
	return e.Kind == ProtocolStopped || (e.Kind == ProtocolError && !e.Status.IsActive())
}
