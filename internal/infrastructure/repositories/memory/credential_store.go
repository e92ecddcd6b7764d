package memory

import (
	"context"
	"sync"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"
)

type MemoryCredentialStore struct {
	mu   sync.RWMutex
	cred *domain.Credential
}

func NewMemoryCredentialStore() ports.CredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Load(ctx context.Context) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cred == nil {
		return nil, domain.ErrNotAuthenticated
	}
	return copyCredential(s.cred), nil
}

func (s *MemoryCredentialStore) Save(ctx context.Context, cred *domain.Credential) error {
	s.mu.Lock()
	s.cred = copyCredential(cred)
	s.mu.Unlock()
	return nil
}

func (s *MemoryCredentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	return nil
}

func copyCredential(cred *domain.Credential) *domain.Credential {
	if cred == nil {
		return nil
	}
	dup := *cred
	if cred.Destination != nil {
		dest := *cred.Destination
		dup.Destination = &dest
	}
	return &dup
}
