package domain

import (
	"net/url"
	"time"
)

// SessionRecord is the persisted summary of one finished session.
type SessionRecord struct {
	ID              string          `json:"id"`
	Variant         ProtocolVariant `json:"variant"`
	DestinationHost string          `json:"destination_host"`
	FinalStatus     SessionStatus   `json:"final_status"`
	Error           string          `json:"error,omitempty"`
	ConfigSummary   string          `json:"config_summary"`
	Stats           StreamStats     `json:"stats"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at"`
}

// Credential is an access grant issued by the identity service.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id,omitempty"`
	// Destination is cached once fetched for this credential.
	Destination *Destination `json:"destination,omitempty"`
}

// Expired reports whether the access token is past its expiry. A zero
// ExpiresAt never expires.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// HostOf returns the host part of an ingest URL so records never carry the
// stream key.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}
