package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

// Counter stores per-bucket request counts.
type Counter interface {
	// Get returns the count for each key, zero for unknown keys
	Get(ctx context.Context, keys ...string) ([]int64, error)
	Incr(ctx context.Context, key string, ttl time.Duration) error
}

type memEntry struct {
	count   int64
	expires time.Time
}

type MemCounter struct {
	data  *xsync.MapOf[string, memEntry]
	incrs atomic.Uint64
	now   func() time.Time
}

var _ Counter = (*MemCounter)(nil)

func NewMemCounter() *MemCounter {
	return &MemCounter{
		data: xsync.NewMapOf[string, memEntry](),
		now:  time.Now,
	}
}

func (m *MemCounter) Get(ctx context.Context, keys ...string) ([]int64, error) {
	now := m.now()
	out := make([]int64, len(keys))
	for i, k := range keys {
		if e, ok := m.data.Load(k); ok && now.Before(e.expires) {
			out[i] = e.count
		}
	}
	return out, nil
}

func (m *MemCounter) Incr(ctx context.Context, key string, ttl time.Duration) error {
	now := m.now()
	m.data.Compute(key, func(old memEntry, loaded bool) (memEntry, bool) {
		if !loaded || !now.Before(old.expires) {
			return memEntry{count: 1, expires: now.Add(ttl)}, false
		}
		old.count++
		return old, false
	})
	if m.incrs.Add(1)%1024 == 0 {
		m.sweep(now)
	}
	return nil
}

func (m *MemCounter) sweep(now time.Time) {
	m.data.Range(func(k string, e memEntry) bool {
		if !now.Before(e.expires) {
			m.data.Delete(k)
		}
		return true
	})
}

type RedisCounter struct {
	client *redis.Client
}

var _ Counter = (*RedisCounter)(nil)

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (r *RedisCounter) Get(ctx context.Context, keys ...string) ([]int64, error) {
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.New("non-numeric rate limit counter " + keys[i])
		}
		out[i] = n
	}
	return out, nil
}

func (r *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}
