package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// StateStore holds pending authorization requests, keyed by OAuth state.
// Take must return a value at most once.
type StateStore interface {
	Put(ctx context.Context, state, value string, ttl time.Duration) error
	Take(ctx context.Context, state string) (string, bool, error)
}

type MemStateStore struct {
	mu   sync.Mutex
	data *expirable.LRU[string, string]
}

var _ StateStore = (*MemStateStore)(nil)

// NewMemStateStore keeps up to capacity pending requests for at most ttl,
// regardless of the ttl passed to Put.
func NewMemStateStore(capacity int, ttl time.Duration) *MemStateStore {
	return &MemStateStore{
		data: expirable.NewLRU[string, string](capacity, nil, ttl),
	}
}

func (s *MemStateStore) Put(ctx context.Context, state, value string, ttl time.Duration) error {
	s.data.Add(state, value)
	return nil
}

func (s *MemStateStore) Take(ctx context.Context, state string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.Get(state)
	if ok {
		s.data.Remove(state)
	}
	return v, ok, nil
}

type RedisStateStore struct {
	client *redis.Client
	prefix string
}

var _ StateStore = (*RedisStateStore)(nil)

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: "oauth:state:"}
}

func (s *RedisStateStore) Put(ctx context.Context, state, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+state, value, ttl).Err()
}

func (s *RedisStateStore) Take(ctx context.Context, state string) (string, bool, error) {
	v, err := s.client.GetDel(ctx, s.prefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
