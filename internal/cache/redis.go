package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// indexKey is a sorted set of cache keys scored by insertion time. It
// gives the Redis backend the same oldest-first capacity eviction as the
// in-process one.
const indexKey = "img_cache_index"

// Redis is a Cache backed by a shared Redis instance, for deployments
// where the API and the workers must see each other's results. Hit and
// miss counters are per-process.
type Redis struct {
	client   *redis.Client
	capacity int64
	ttl      time.Duration

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewRedis wraps an existing client. Non-positive capacity or ttl fall
// back to the defaults.
func NewRedis(client *redis.Client, capacity int, ttl time.Duration) *Redis {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, capacity: int64(capacity), ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		r.misses.Add(1)
		// The value may have expired under TTL while the index entry
		// survived; drop the stale index entry as we go.
		r.client.ZRem(ctx, indexKey, key)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	r.hits.Add(1)
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	score := float64(time.Now().UnixNano())
	if err := r.client.ZAdd(ctx, indexKey, redis.Z{Score: score, Member: key}).Err(); err != nil {
		return fmt.Errorf("redis index add: %w", err)
	}
	return r.evictOverflow(ctx)
}

// evictOverflow trims the oldest entries once the index exceeds capacity.
func (r *Redis) evictOverflow(ctx context.Context) error {
	size, err := r.client.ZCard(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("redis index size: %w", err)
	}
	if size <= r.capacity {
		return nil
	}

	oldest, err := r.client.ZRange(ctx, indexKey, 0, size-r.capacity-1).Result()
	if err != nil {
		return fmt.Errorf("redis index range: %w", err)
	}
	if len(oldest) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, oldest...).Err(); err != nil {
		return fmt.Errorf("redis evict: %w", err)
	}
	members := make([]interface{}, len(oldest))
	for i, k := range oldest {
		members[i] = k
	}
	if err := r.client.ZRem(ctx, indexKey, members...).Err(); err != nil {
		return fmt.Errorf("redis index trim: %w", err)
	}
	r.evictions.Add(uint64(len(oldest)))
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	r.client.ZRem(ctx, indexKey, key)
	return nil
}

func (r *Redis) DeleteByImage(ctx context.Context, imageID string) (int, error) {
	pattern := imagePrefix(imageID) + "*"
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("redis delete: %w", err)
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	r.client.ZRem(ctx, indexKey, members...)
	return len(keys), nil
}

func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	size, err := r.client.ZCard(ctx, indexKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("redis index size: %w", err)
	}
	return Stats{
		Hits:      r.hits.Load(),
		Misses:    r.misses.Load(),
		Evictions: r.evictions.Load(),
		Keys:      int(size),
	}, nil
}
