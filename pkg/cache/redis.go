package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "panelflow:result:"

// Redis is a cache backed by a Redis server, for deployments where several
// panelflow processes must share one result cache. Values are stored as
// JSON; identity isolation comes from the key derivation, same as Memory.
type Redis struct {
	client *redis.Client

	mu         sync.RWMutex
	defaultTTL time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
}

// NewRedis connects to the Redis server at url (redis://...) and verifies
// the connection with a ping.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: client, defaultTTL: DefaultTTL}, nil
}

func (r *Redis) key(k string) string { return redisKeyPrefix + k }

// Get returns the cached value for key, or a miss when absent or expired.
// Redis handles expiry server-side.
func (r *Redis) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		r.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("decode cached value: %w", err)
	}
	r.hits.Add(1)
	return value, true, nil
}

// Put stores value under key with the given TTL (default when <= 0).
func (r *Redis) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		r.mu.RLock()
		ttl = r.defaultTTL
		r.mu.RUnlock()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear removes all panelflow result entries. Other keys in the same Redis
// database are untouched.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// Stats returns usage counters. Size is the count of result keys.
func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	size := 0
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("redis scan: %w", err)
	}
	r.mu.RLock()
	ttl := r.defaultTTL
	r.mu.RUnlock()
	return Stats{
		Size:       size,
		Hits:       r.hits.Load(),
		Misses:     r.misses.Load(),
		DefaultTTL: ttl,
	}, nil
}

// SetDefaultTTL changes the TTL applied to entries stored without one.
func (r *Redis) SetDefaultTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.defaultTTL = d
	r.mu.Unlock()
}
