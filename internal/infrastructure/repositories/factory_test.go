package repositories

import (
	"context"
	"testing"

	"liveorch/internal/infrastructure/repositories/memory"
	"liveorch/pkg/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestRepositoryFactory_MemoryWhenRedisDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false

	f := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	defer f.Close()

	assert.False(t, f.UsingRedis())
	assert.Nil(t, f.Client())
	assert.IsType(t, &memory.MemorySessionRepository{}, f.CreateSessionRepository())
	assert.IsType(t, &memory.MemoryCredentialStore{}, f.CreateCredentialStore())
	assert.NoError(t, f.HealthCheck(context.Background()))
}

func TestRepositoryFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1" // nothing listens on port 1

	f := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	defer f.Close()

	assert.False(t, f.UsingRedis())
	assert.IsType(t, &memory.MemorySessionRepository{}, f.CreateSessionRepository())
}
