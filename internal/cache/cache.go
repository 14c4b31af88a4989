// Package cache stores oEmbed responses so repeated links do not hit the
// provider API. Backends: an in-process LRU (Memory) and Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ferro-labs/oembed-filter/oembed"
)

// Cache defines the interface for response caching. ttl <= 0 uses the
// backend default.
type Cache interface {
	Get(ctx context.Context, key string) (*oembed.Response, bool)
	Set(ctx context.Context, key string, resp *oembed.Response, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Len(ctx context.Context) int
	Clear(ctx context.Context) error
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Options selects and sizes a backend.
type Options struct {
	Backend    string
	TTL        time.Duration
	MaxEntries int
	RedisURL   string
	KeyPrefix  string
}

// Key derives the cache key for an oEmbed request URL.
func Key(requestURL string) string {
	sum := sha256.Sum256([]byte(requestURL))
	return hex.EncodeToString(sum[:])
}

// New builds the configured backend. An empty backend means memory. A nil
// Cache with nil error means caching is off.
func New(ctx context.Context, opts Options) (Cache, error) {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	switch opts.Backend {
	case "", BackendMemory:
		if opts.MaxEntries <= 0 {
			opts.MaxEntries = 1000
		}
		return NewMemory(opts.MaxEntries, opts.TTL), nil
	case BackendRedis:
		return NewRedis(ctx, opts.RedisURL, opts.KeyPrefix, opts.TTL)
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
