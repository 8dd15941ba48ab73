// Package cache provides a Redis-backed read-through cache for query
// results, with in-flight deduplication so concurrent identical reads hit
// the backend once.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// FreshnessTTL is how long a cached query result stays valid before the
// next read recomputes it.
const FreshnessTTL = 30 * time.Second

type Cache struct {
	client *redis.Client
	prefix string
	group  singleflight.Group
}

// New creates a cache on its own Redis connection.
func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient creates a cache from an existing Redis client.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "query:"}
}

// Key builds a cache key from an operation name and its full parameter
// set. Two reads share a key only when every parameter matches, so a cached
// result is never served across differing filters, pages, or tenants.
func Key(op string, params map[string]any) string {
	if len(params) == 0 {
		return op
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(op)
	for _, name := range names {
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte('=')
		encoded, err := json.Marshal(params[name])
		if err != nil {
			b.WriteString(fmt.Sprintf("%v", params[name]))
			continue
		}
		b.Write(encoded)
	}
	return b.String()
}

// GetOrCompute returns the cached value for key, computing and storing it
// on a miss. Concurrent callers with the same key share one computation.
// The computed value round-trips through JSON, so dest must be a pointer
// and fn's result must marshal cleanly.
func (c *Cache) GetOrCompute(ctx context.Context, key string, dest any, fn func(ctx context.Context) (any, error)) error {
	full := c.prefix + key

	cached, err := c.client.Get(ctx, full).Result()
	if err == nil {
		return json.Unmarshal([]byte(cached), dest)
	}
	if err != redis.Nil {
		return fmt.Errorf("read cache: %w", err)
	}

	encoded, err, _ := c.group.Do(full, func() (any, error) {
		// Another waiter may have filled the key while we queued.
		if cached, err := c.client.Get(ctx, full).Result(); err == nil {
			return []byte(cached), nil
		}
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal cache value: %w", err)
		}
		if err := c.client.Set(ctx, full, data, FreshnessTTL).Err(); err != nil {
			return nil, fmt.Errorf("write cache: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded.([]byte), dest)
}

// Invalidate removes every cached result whose key starts with one of the
// given prefixes. Mutations call this so the next read observes fresh data
// instead of waiting out the TTL.
func (c *Cache) Invalidate(ctx context.Context, prefixes ...string) error {
	for _, prefix := range prefixes {
		pattern := c.prefix + prefix + "*"
		iter := c.client.Scan(ctx, 0, pattern, 200).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("invalidate %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan cache keys: %w", err)
		}
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
