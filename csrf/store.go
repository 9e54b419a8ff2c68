package csrf

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

type Store interface {
	Save(ctx context.Context, token string, ttl time.Duration) error
	Exists(ctx context.Context, token string) (bool, error)
}

type MemStore struct {
	data *expirable.LRU[string, struct{}]
}

var _ Store = (*MemStore)(nil)

// NewMemStore remembers up to capacity tokens. Entries expire after ttl
// regardless of the ttl passed to Save.
func NewMemStore(capacity int, ttl time.Duration) *MemStore {
	return &MemStore{data: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

func (s *MemStore) Save(ctx context.Context, token string, ttl time.Duration) error {
	s.data.Add(token, struct{}{})
	return nil
}

func (s *MemStore) Exists(ctx context.Context, token string) (bool, error) {
	_, ok := s.data.Get(token)
	return ok, nil
}

type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(token string) string {
	return "csrf:" + token
}

func (s *RedisStore) Save(ctx context.Context, token string, ttl time.Duration) error {
	return s.client.Set(ctx, redisKey(token), "1", ttl).Err()
}

func (s *RedisStore) Exists(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKey(token)).Result()
	return n > 0, err
}
