package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"liveorch/internal/core/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestClient connects to LIVEORCH_TEST_REDIS_ADDR on a scratch DB.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("LIVEORCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIVEORCH_TEST_REDIS_ADDR not set")
	}
	client, err := NewRedisClient(addr, "", 15, 4, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		_ = client.Close()
	})
	require.NoError(t, client.FlushDB(context.Background()).Err())
	require.NoError(t, Migrate(context.Background(), client, nil))
	return client
}

func TestRedisSessionRepository(t *testing.T) {
	client := newTestClient(t)
	repo := NewRedisSessionRepository(client)
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for i, id := range ids {
		require.NoError(t, repo.Save(ctx, &domain.SessionRecord{
			ID:          id,
			Variant:     domain.VariantATS,
			FinalStatus: domain.StatusDisconnected,
			StartedAt:   base,
			EndedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := repo.GetByID(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, domain.VariantATS, got.Variant)
	assert.Equal(t, domain.StatusDisconnected, got.FinalStatus)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	list, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)
}

func TestRedisCredentialStore(t *testing.T) {
	client := newTestClient(t)
	store := NewRedisCredentialStore(client)
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	require.NoError(t, store.Save(ctx, &domain.Credential{AccessToken: "at", RefreshToken: "rt"}))
	cred, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rt", cred.RefreshToken)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestMigrate_RemovesDanglingIndexEntries(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Del(ctx, schemaVersionKey).Err())
	require.NoError(t, client.ZAdd(ctx, sessionIndexKey, redis.Z{Score: 1, Member: "ghost"}).Err())

	require.NoError(t, Migrate(ctx, client, nil))

	members, err := client.ZRange(ctx, sessionIndexKey, 0, -1).Result()
	require.NoError(t, err)
	assert.NotContains(t, members, "ghost")

	version, err := getSchemaVersion(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}
