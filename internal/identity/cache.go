// Package identity resolves bearer tokens to application users, caching
// provider profile lookups so hot tokens do not hit /userinfo on every call.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"storyforge/api/internal/auth"
)

// ProfileCache stores userinfo responses keyed by token hash.
type ProfileCache interface {
	Get(ctx context.Context, tokenHash string) (auth.Profile, bool, error)
	Set(ctx context.Context, tokenHash string, profile auth.Profile, ttl time.Duration) error
	Close() error
}

// RedisCache implements profile caching using Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a Redis-backed profile cache.
func NewRedisCache(redisURL string) (*RedisCache, error) {
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

	return &RedisCache{
		client: client,
		prefix: "profile:",
	}, nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "profile:",
	}
}

func (c *RedisCache) key(tokenHash string) string {
	return c.prefix + tokenHash
}

func (c *RedisCache) Get(ctx context.Context, tokenHash string) (auth.Profile, bool, error) {
	jsonData, err := c.client.Get(ctx, c.key(tokenHash)).Result()
	if err == redis.Nil {
		return auth.Profile{}, false, nil
	}
	if err != nil {
		return auth.Profile{}, false, fmt.Errorf("lookup cached profile: %w", err)
	}

	var profile auth.Profile
	if err := json.Unmarshal([]byte(jsonData), &profile); err != nil {
		return auth.Profile{}, false, fmt.Errorf("unmarshal cached profile: %w", err)
	}
	return profile, true, nil
}

func (c *RedisCache) Set(ctx context.Context, tokenHash string, profile auth.Profile, ttl time.Duration) error {
	jsonData, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if err := c.client.Set(ctx, c.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("cache profile: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

type memoryEntry struct {
	profile   auth.Profile
	expiresAt time.Time
}

// MemoryCache is an in-process ProfileCache used when no Redis URL is
// configured. Entries are pruned lazily on access.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, tokenHash string) (auth.Profile, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[tokenHash]
	if !ok {
		return auth.Profile{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, tokenHash)
		return auth.Profile{}, false, nil
	}
	return entry.profile, true, nil
}

func (c *MemoryCache) Set(_ context.Context, tokenHash string, profile auth.Profile, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, entry := range c.entries {
		if time.Now().After(entry.expiresAt) {
			delete(c.entries, hash)
		}
	}
	c.entries[tokenHash] = memoryEntry{profile: profile, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Close() error { return nil }
