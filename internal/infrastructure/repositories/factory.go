package repositories

import (
	"context"

	"liveorch/internal/core/ports"
	"liveorch/internal/infrastructure/repositories/memory"
	redisrepo "liveorch/internal/infrastructure/repositories/redis"
	"liveorch/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory uses Redis when it is enabled and reachable and
// falls back to process memory otherwise.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

// UsingRedis reports whether the factory connected to Redis
func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// Client returns the shared Redis client, or nil in memory mode.
func (f *RepositoryFactory) Client() *redis.Client {
	return f.redisClient
}

// CreateSessionRepository creates a session repository
func (f *RepositoryFactory) CreateSessionRepository() ports.SessionRepository {
	if f.UsingRedis() {
		return redisrepo.NewRedisSessionRepository(f.redisClient)
	}
	return memory.NewMemorySessionRepository()
}

// CreateCredentialStore creates a credential store
func (f *RepositoryFactory) CreateCredentialStore() ports.CredentialStore {
	if f.UsingRedis() {
		return redisrepo.NewRedisCredentialStore(f.redisClient)
	}
	return memory.NewMemoryCredentialStore()
}

// Close closes all connections
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsingRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
