package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes the session hash when none is configured
const DefaultNamespace = "storefront"

// RedisStore is a Redis-backed implementation of storefront.SessionStore.
// Fields live in one hash so a session is written and cleared as a unit.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis store. The session hash is stored under
// "<namespace>:session"; a zero ttl disables expiry.
func NewRedisStore(client *redis.Client, namespace string, ttl time.Duration) *RedisStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisStore{
		client: client,
		key:    namespace + ":session",
		ttl:    ttl,
	}
}

// Load retrieves the session hash
func (s *RedisStore) Load(ctx context.Context) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}
	return values, nil
}

// Save replaces the session hash in one transaction
func (s *RedisStore) Save(ctx context.Context, values map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) == 0 {
			return nil
		}
		pipe.HSet(ctx, s.key, values)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
		return nil
	})
	return err
}

// Clear deletes the session hash
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
