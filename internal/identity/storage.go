package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	redisclient "github.com/homeyield/selection-server-go/internal/redis"
)

var ErrNotFound = errors.New("identity: key not found")

// Storage is durable per-client key/value storage. Get returns ErrNotFound
// for absent keys.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetNX(ctx context.Context, key, value string) (bool, error)
}

// RedisStorage keeps one browser profile's values under client:<clientID>:*.
type RedisStorage struct {
	client   goredis.Cmdable
	clientID string
	ttl      time.Duration
}

func NewRedisStorage(client goredis.Cmdable, clientID string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, clientID: clientID, ttl: ttl}
}

func (s *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, redisclient.ClientStorageKey(s.clientID, key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *RedisStorage) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, redisclient.ClientStorageKey(s.clientID, key), value, s.ttl).Err()
}

func (s *RedisStorage) SetNX(ctx context.Context, key, value string) (bool, error) {
	return s.client.SetNX(ctx, redisclient.ClientStorageKey(s.clientID, key), value, s.ttl).Result()
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemoryStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

func (s *MemoryStorage) SetNX(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value
	return true, nil
}
