package fallback

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relayops/sentinel/pkg/config"
	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/types"
)

// ResponseCache serves the last known good response for a delivery
// capability when the live provider is down
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RetryQueue holds entries parked for later redelivery
type RetryQueue interface {
	Enqueue(ctx context.Context, entry *types.ErrorLogEntry) error
	Dequeue(ctx context.Context) (*types.ErrorLogEntry, bool, error)
	Len(ctx context.Context) (int64, error)
}

// RedisStore backs the response cache and retry queue with Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg *config.RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewInternalError("failed to connect to Redis").WithCause(err)
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Health checks the Redis connection
func (s *RedisStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.NewInternalError("Redis health check failed").WithCause(err)
	}
	return nil
}

const (
	cacheKeyPrefix = "sentinel:fallback:cache:"
	retryQueueKey  = "sentinel:fallback:retry_queue"
)

// Get reads a cached response
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, cacheKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewExternalError("redis", err.Error())
	}
	return val, true, nil
}

// Set stores a cached response with a TTL
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, cacheKeyPrefix+key, value, ttl).Err(); err != nil {
		return errors.NewExternalError("redis", err.Error())
	}
	return nil
}

// Enqueue parks an entry on the retry queue
func (s *RedisStore) Enqueue(ctx context.Context, entry *types.ErrorLogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.NewInternalError("failed to encode queued entry").WithCause(err)
	}
	if err := s.client.LPush(ctx, retryQueueKey, payload).Err(); err != nil {
		return errors.NewExternalError("redis", err.Error())
	}
	return nil
}

// Dequeue pops the oldest parked entry
func (s *RedisStore) Dequeue(ctx context.Context) (*types.ErrorLogEntry, bool, error) {
	val, err := s.client.RPop(ctx, retryQueueKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewExternalError("redis", err.Error())
	}

	var entry types.ErrorLogEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, false, errors.NewInternalError("failed to decode queued entry").WithCause(err)
	}
	return &entry, true, nil
}

// Len reports the retry queue depth
func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, retryQueueKey).Result()
	if err != nil {
		return 0, errors.NewExternalError("redis", err.Error())
	}
	return n, nil
}

// MemoryStore is the in-process ResponseCache and RetryQueue used in tests
// and when Redis is not configured
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryValue
	queue  []*types.ErrorLogEntry
	now    func() time.Time
}

type memoryValue struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryValue),
		now:    time.Now,
	}
}

// Get reads a cached response
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return "", false, nil
	}
	if !v.expiresAt.IsZero() && s.now().After(v.expiresAt) {
		delete(s.values, key)
		return "", false, nil
	}
	return v.value, true, nil
}

// Set stores a cached response with a TTL
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := memoryValue{value: value}
	if ttl > 0 {
		v.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = v
	return nil
}

// Enqueue parks an entry on the retry queue
func (s *MemoryStore) Enqueue(ctx context.Context, entry *types.ErrorLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.queue = append(s.queue, &copied)
	return nil
}

// Dequeue pops the oldest parked entry
func (s *MemoryStore) Dequeue(ctx context.Context) (*types.ErrorLogEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, false, nil
	}
	entry := s.queue[0]
	s.queue = s.queue[1:]
	return entry, true, nil
}

// Len reports the retry queue depth
func (s *MemoryStore) Len(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queue)), nil
}
