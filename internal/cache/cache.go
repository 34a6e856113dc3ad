// Package cache provides the Redis-backed content cache and the per-account
// scan lease. Values are JSON-encoded; a missing or expired key is a miss,
// not an error.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nestwatch/nestwatch/internal/metrics"
)

// Cache is the TTL cache port content fetchers read and write through.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Connect dials Redis from a redis:// URL and verifies the connection before
// handing the client back.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Redis implements Cache on a go-redis client.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Get loads the value stored under key into dest. It returns false when the
// key is absent or expired.
func (r *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheOp("get", "miss")
		return false, nil
	}
	if err != nil {
		metrics.RecordCacheOp("get", "error")
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		metrics.RecordCacheOp("get", "error")
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	metrics.RecordCacheOp("get", "hit")
	return true, nil
}

// Set stores value under key for ttl. A ttl of zero stores without expiry.
func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		metrics.RecordCacheOp("set", "error")
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := r.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		metrics.RecordCacheOp("set", "error")
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	metrics.RecordCacheOp("set", "stored")
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		metrics.RecordCacheOp("delete", "error")
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	metrics.RecordCacheOp("delete", "ok")
	return nil
}
