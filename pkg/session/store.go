package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrSessionExpired = errors.New("session expired")
	ErrSessionCorrupt = errors.New("session state corrupt")
)

// Store is the durable key-value backend holding one serialized session per
// owner. Injected so the manager runs against redis in production and memory
// in tests.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Clear(ctx context.Context, key string) error
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(key string) string {
	return fmt.Sprintf("session:%s", key)
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return s.client.Set(ctx, redisKey(key), payload, ttl).Err()
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKey(key)).Err()
}

// MemoryStore is an in-process Store used by tests and single-node deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	copied := make([]byte, len(payload))
	copy(copied, payload)
	return copied, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, payload []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]byte, len(payload))
	copy(copied, payload)
	s.data[key] = copied
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
