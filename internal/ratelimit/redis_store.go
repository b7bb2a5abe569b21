package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront/pkg/redis"
)

type redisKV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	RateLimitKey(scope, key string) string
}

// RedisStore shares buckets between instances. Each bucket is a JSON value
// expiring with its window.
type RedisStore struct {
	client redisKV
}

func NewRedisStore(client redisKV) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Bucket, bool, error) {
	raw, err := s.client.Get(ctx, s.client.RateLimitKey(key, ""))
	if err != nil {
		if redis.IsNil(err) {
			return Bucket{}, false, nil
		}
		return Bucket{}, false, err
	}
	var bucket Bucket
	if err := json.Unmarshal([]byte(raw), &bucket); err != nil {
		return Bucket{}, false, fmt.Errorf("decode bucket: %w", err)
	}
	return bucket, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, bucket Bucket, ttl time.Duration) error {
	payload, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("encode bucket: %w", err)
	}
	return s.client.Set(ctx, s.client.RateLimitKey(key, ""), string(payload), ttl)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.client.RateLimitKey(key, ""))
}
