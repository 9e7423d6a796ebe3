package devicecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// KVStore is the persistence port for device-local cache entries.
type KVStore interface {
	Get(key string) (string, error)
	Set(key string, value interface{}, expiration time.Duration) error
	Del(key string) error
}

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = fmt.Errorf("key not found")

// RedisStore implements KVStore using go-redis.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: rdb, ctx: ctx}, nil
}

func (r *RedisStore) Get(key string) (string, error) {
	val, err := r.client.Get(r.ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

func (r *RedisStore) Set(key string, value interface{}, expiration time.Duration) error {
	return r.client.Set(r.ctx, key, value, expiration).Err()
}

func (r *RedisStore) Del(key string) error {
	return r.client.Del(r.ctx, key).Err()
}

// Close closes the redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// MemoryStore is an in-process KVStore used when no redis is configured and
// in tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (m *MemoryStore) Set(key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = fmt.Sprintf("%v", value)
	return nil
}

func (m *MemoryStore) Del(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
