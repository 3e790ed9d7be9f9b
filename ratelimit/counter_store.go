package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore increments a windowed counter. The ttl is applied when the
// counter is created so stale windows expire on their own.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

type MemoryCounterStore struct {
	Now func() time.Time

	mu       sync.Mutex
	counters map[string]memoryCounter
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		Now:      func() time.Time { return time.Now().UTC() },
		counters: map[string]memoryCounter{},
	}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("ratelimit: counter key is required")
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters == nil {
		s.counters = map[string]memoryCounter{}
	}
	counter, ok := s.counters[key]
	if !ok || (!counter.expiresAt.IsZero() && !now.Before(counter.expiresAt)) {
		counter = memoryCounter{}
		if ttl > 0 {
			counter.expiresAt = now.Add(ttl)
		}
		s.sweepLocked(now)
	}
	counter.count++
	s.counters[key] = counter
	return counter.count, nil
}

func (s *MemoryCounterStore) sweepLocked(now time.Time) {
	for key, counter := range s.counters {
		if !counter.expiresAt.IsZero() && !now.Before(counter.expiresAt) {
			delete(s.counters, key)
		}
	}
}

func (s *MemoryCounterStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// RedisCounter is the subset of redis.Cmdable used for windowed counters.
type RedisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisCounterStore shares rate-limit windows across gateway instances.
type RedisCounterStore struct {
	client RedisCounter
}

func NewRedisCounterStore(client RedisCounter) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: strings.TrimSpace(addr)})
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("ratelimit: redis client is not configured")
	}
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

var (
	_ CounterStore = (*MemoryCounterStore)(nil)
	_ CounterStore = (*RedisCounterStore)(nil)
	_ RedisCounter = (*redis.Client)(nil)
)
