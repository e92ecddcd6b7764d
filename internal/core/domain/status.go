package domain

import "fmt"

type SessionStatus int

const (
	StatusIdle SessionStatus = iota
	StatusConnecting
	StatusConnected
	StatusStreaming
	StatusPaused
	StatusError
	StatusDisconnected
)

var statusNames = [...]string{
	StatusIdle:         "idle",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusStreaming:    "streaming",
	StatusPaused:       "paused",
	StatusError:        "error",
	StatusDisconnected: "disconnected",
}

var statusDescriptions = [...]string{
	StatusIdle:         "not streaming",
	StatusConnecting:   "connecting to ingest server",
	StatusConnected:    "connected, waiting for media",
	StatusStreaming:    "streaming live",
	StatusPaused:       "streaming paused",
	StatusError:        "session failed",
	StatusDisconnected: "disconnected",
}

func (s SessionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s SessionStatus) Description() string {
	if s < 0 || int(s) >= len(statusDescriptions) {
		return "unknown"
	}
	return statusDescriptions[s]
}

// IsActive reports whether a session is in flight: an engine invocation may
// exist and transport events are still honored.
func (s SessionStatus) IsActive() bool {
	switch s {
	case StatusConnecting, StatusConnected, StatusStreaming, StatusPaused:
		return true
	}
	return false
}

// AcceptsStart reports whether a fresh start may begin from this status.
func (s SessionStatus) AcceptsStart() bool {
	return !s.IsActive()
}

func (s SessionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionStatus) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = SessionStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", string(text))
}
