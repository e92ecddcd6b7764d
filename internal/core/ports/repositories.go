package ports

import (
	"context"

	"liveorch/internal/core/domain"
)

// SessionRepository stores finished session records.
type SessionRepository interface {
	Save(ctx context.Context, record *domain.SessionRecord) error
	GetByID(ctx context.Context, id string) (*domain.SessionRecord, error)
	// List returns the most recent records first, at most limit of them.
	List(ctx context.Context, limit int) ([]*domain.SessionRecord, error)
}

// CredentialStore persists the identity service's credential between runs.
type CredentialStore interface {
	Load(ctx context.Context) (*domain.Credential, error)
	Save(ctx context.Context, cred *domain.Credential) error
	Clear(ctx context.Context) error
}
