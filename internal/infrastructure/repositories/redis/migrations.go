package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix        = "liveorch:"
	schemaVersionKey = keyPrefix + "schema:version"
	sessionPrefix    = keyPrefix + "session:"
	sessionIndexKey  = keyPrefix + "sessions:by_end"
	credentialKey    = keyPrefix + "identity:credential"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, client *redis.Client) error
}

// Migrate runs every migration newer than the stored schema version.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	current, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	migrations := getMigrations()
	target := migrations[len(migrations)-1].Version
	if current >= target {
		if logger != nil {
			logger.Debugw("schema is up to date", "version", current)
		}
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", m.Version, "description", m.Description)
		}
		if err := m.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "from_version", current, "to_version", target)
	}
	return nil
}

// getSchemaVersion returns the current schema version
func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// getMigrations returns all migrations in order
func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "session history index",
			Up: func(ctx context.Context, client *redis.Client) error {
				// Index entries without a record body are left over from
				// interrupted writes.
				ids, err := client.ZRange(ctx, sessionIndexKey, 0, -1).Result()
				if err != nil {
					return err
				}
				for _, id := range ids {
					n, err := client.Exists(ctx, sessionPrefix+id).Result()
					if err != nil {
						return err
					}
					if n == 0 {
						if err := client.ZRem(ctx, sessionIndexKey, id).Err(); err != nil {
							return err
						}
					}
				}
				return nil
			},
		},
	}
}
