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

// RedisSessionRepository stores records as JSON and indexes them in a
// sorted set scored by end time.
type RedisSessionRepository struct {
	client *redis.Client
}

// NewRedisSessionRepository creates a session history store backed by Redis
func NewRedisSessionRepository(client *redis.Client) ports.SessionRepository {
	return &RedisSessionRepository{client: client}
}

// Save stores the record and indexes it by end time
func (r *RedisSessionRepository) Save(ctx context.Context, record *domain.SessionRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("session record must have an id")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	score := float64(record.EndedAt.UnixMilli())
	if record.EndedAt.IsZero() {
		score = float64(record.StartedAt.UnixMilli())
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionPrefix+record.ID, data, 0)
		pipe.ZAdd(ctx, sessionIndexKey, redis.Z{Score: score, Member: record.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id string) (*domain.SessionRecord, error) {
	data, err := r.client.Get(ctx, sessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}

	var record domain.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

// List returns up to limit records, most recently ended first
func (r *RedisSessionRepository) List(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, sessionIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session index: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.SessionRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionPrefix + id
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session records: %w", err)
	}

	records := make([]*domain.SessionRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // expired or removed between the two reads
		}
		var record domain.SessionRecord
		if err := json.Unmarshal([]byte(s), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
		}
		records = append(records, &record)
	}
	return records, nil
}
