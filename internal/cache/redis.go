package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ferro-labs/oembed-filter/oembed"
)

const defaultKeyPrefix = "oembed:"

// Redis stores responses as JSON strings with a Redis-side expiry. Redis
// errors are logged and treated as misses so the filter keeps working when
// the cache is down.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis connects to redisURL (redis:// or rediss://) and pings it.
func NewRedis(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*Redis, error) {
	if redisURL == "" {
		return nil, errors.New("redis cache requires a url")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisWithClient(client, prefix, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) (*oembed.Response, bool) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("redis cache get failed", "error", err)
		}
		return nil, false
	}
	var resp oembed.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		slog.Warn("redis cache entry corrupt", "error", err)
		return nil, false
	}
	return &resp, true
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, resp *oembed.Response, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, ttl).Err(); err != nil {
		slog.Warn("redis cache set failed", "error", err)
	}
}

// Delete implements Cache.
func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		slog.Warn("redis cache delete failed", "error", err)
	}
}

func (r *Redis) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Len counts keys under the prefix. Returns -1 when Redis is unavailable.
func (r *Redis) Len(ctx context.Context) int {
	n := 0
	if err := r.scan(ctx, func(keys []string) error { n += len(keys); return nil }); err != nil {
		return -1
	}
	return n
}

// Clear deletes every key under the prefix.
func (r *Redis) Clear(ctx context.Context) error {
	return r.scan(ctx, func(keys []string) error {
		return r.client.Del(ctx, keys...).Err()
	})
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
