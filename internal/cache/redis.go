package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "accafreeze:cache:"

// RedisStore keeps entries in Redis. Entries expire after the retention
// period regardless of the freshness asked for by readers.
type RedisStore struct {
	client    redis.Cmdable
	retention time.Duration
}

// NewRedisStore creates a Redis backed store
func NewRedisStore(client redis.Cmdable, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisStore{client: client, retention: retention}
}

// Load returns the entry for key
func (s *RedisStore) Load(ctx context.Context, key string) (Entry, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis get %s: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("unmarshaling cache entry %s: %w", key, err)
	}
	return e, nil
}

// Save stores e with the retention period as expiry
func (s *RedisStore) Save(ctx context.Context, key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling cache entry %s: %w", key, err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, data, s.retention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
