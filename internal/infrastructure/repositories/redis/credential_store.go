package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisCredentialStore struct {
	client *redis.Client
}

// NewRedisCredentialStore creates a credential store backed by Redis
func NewRedisCredentialStore(client *redis.Client) ports.CredentialStore {
	return &RedisCredentialStore{client: client}
}

func (s *RedisCredentialStore) Load(ctx context.Context) (*domain.Credential, error) {
	data, err := s.client.Get(ctx, credentialKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	var cred domain.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

// Save keeps the credential without expiry; a stale access token is still
// needed to refresh.
func (s *RedisCredentialStore) Save(ctx context.Context, cred *domain.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	if err := s.client.Set(ctx, credentialKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, credentialKey).Err()
}
