package monitoring

import (
	"context"
	"time"

	"liveorch/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddRepositoryCheck lists one session record to prove the history store answers.
func (h *HealthChecker) AddRepositoryCheck(repo ports.SessionRepository, timeout time.Duration) {
	h.AddCheck("session_repository", func(ctx context.Context) error {
		_, err := repo.List(ctx, 1)
		return err
	}, timeout)
}

type versioner interface {
	Version(ctx context.Context) (string, error)
}

// AddEngineCheck verifies the transport binary can be executed.
func (h *HealthChecker) AddEngineCheck(engine versioner, timeout time.Duration) {
	h.AddCheck("engine", func(ctx context.Context) error {
		_, err := engine.Version(ctx)
		return err
	}, timeout)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Healthy()
}
