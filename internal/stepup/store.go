package stepup

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// UsedStore remembers consumed token ids until they would have expired anyway.
type UsedStore interface {
	// Used reports whether jti was already consumed.
	Used(ctx context.Context, jti string) (bool, error)
	// Consume marks jti as consumed for ttl. It returns false when another
	// caller consumed it first.
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis is a UsedStore shared by every server instance.
type Redis struct {
	c      redisClient
	prefix string
}

// NewRedis constructs a Redis-backed store.
func NewRedis(c redisClient) *Redis {
	return &Redis{c: c, prefix: "docvault:stepup:used:"}
}

// Used implements UsedStore.
func (r *Redis) Used(ctx context.Context, jti string) (bool, error) {
	n, err := r.c.Exists(ctx, r.prefix+jti).Result()
	return n > 0, err
}

// Consume implements UsedStore with SET NX so exactly one caller wins.
func (r *Redis) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	return r.c.SetNX(ctx, r.prefix+jti, 1, ttl).Result()
}

// Memory is a single-process UsedStore.
type Memory struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

// NewMemory constructs an in-process store.
func NewMemory() *Memory {
	return &Memory{used: make(map[string]time.Time), now: time.Now}
}

// Used implements UsedStore.
func (m *Memory) Used(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.used[jti]
	return ok && m.now().Before(exp), nil
}

// Consume implements UsedStore. Expired entries are swept on the way.
func (m *Memory) Consume(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, exp := range m.used {
		if !now.Before(exp) {
			delete(m.used, k)
		}
	}
	if _, ok := m.used[jti]; ok {
		return false, nil
	}
	m.used[jti] = now.Add(ttl)
	return true, nil
}
