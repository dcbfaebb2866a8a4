// Package cache provides a Redis-backed cache with an in-memory fallback
// for Stripe metrics snapshots, X profiles and platform business data.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"trustmymrr/internal/metrics"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the read/write surface used by services.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// RedisClient is the subset of redis operations the cache needs.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

type cacheEntry struct {
	Value     []byte
	ExpiresAt time.Time
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	DefaultTTL     time.Duration
	MaxMemoryItems int
	// Name labels hit/miss metrics.
	Name string
}

// DefaultCacheConfig returns the default cache configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		DefaultTTL:     time.Hour,
		MaxMemoryItems: 10000,
		Name:           "default",
	}
}

// RedisCache writes through to redis when a client is configured and keeps
// an in-memory map otherwise or when redis errors.
type RedisCache struct {
	memCache map[string]*cacheEntry
	memMu    sync.RWMutex

	redisClient RedisClient

	name       string
	defaultTTL time.Duration
	maxMemSize int

	hits    int64
	misses  int64
	statsMu sync.Mutex

	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewRedisCache creates a memory-only cache.
func NewRedisCache(config *CacheConfig) *RedisCache {
	return NewRedisCacheWithClient(nil, config)
}

// NewRedisCacheWithClient creates a cache backed by client; nil means memory only.
func NewRedisCacheWithClient(client RedisClient, config *CacheConfig) *RedisCache {
	if config == nil {
		config = DefaultCacheConfig()
	}
	if config.MaxMemoryItems <= 0 {
		config.MaxMemoryItems = DefaultCacheConfig().MaxMemoryItems
	}
	if config.Name == "" {
		config.Name = "default"
	}

	c := &RedisCache{
		memCache:    make(map[string]*cacheEntry),
		redisClient: client,
		name:        config.Name,
		defaultTTL:  config.DefaultTTL,
		maxMemSize:  config.MaxMemoryItems,
		stopCh:      make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.redisClient != nil {
		val, err := c.redisClient.Get(ctx, key)
		if err == nil {
			c.recordHit()
			return []byte(val), nil
		}
	}

	c.memMu.RLock()
	entry, exists := c.memCache[key]
	c.memMu.RUnlock()

	if !exists {
		c.recordMiss()
		return nil, ErrCacheMiss
	}

	if time.Now().After(entry.ExpiresAt) {
		c.memMu.Lock()
		delete(c.memCache, key)
		c.memMu.Unlock()
		c.recordMiss()
		return nil, ErrCacheMiss
	}

	c.recordHit()
	return entry.Value, nil
}

// Set stores a value with ttl; zero ttl uses the default.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	if c.redisClient != nil {
		if err := c.redisClient.Set(ctx, key, string(value), ttl); err == nil {
			return nil
		}
	}

	c.memMu.Lock()
	defer c.memMu.Unlock()

	if _, exists := c.memCache[key]; !exists && len(c.memCache) >= c.maxMemSize {
		c.evictLocked()
	}

	c.memCache[key] = &cacheEntry{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	}

	return nil
}

// Delete removes keys from both tiers.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	var err error
	if c.redisClient != nil {
		err = c.redisClient.Del(ctx, keys...)
	}

	c.memMu.Lock()
	for _, key := range keys {
		delete(c.memCache, key)
	}
	c.memMu.Unlock()

	return err
}

// DeletePattern removes all keys matching a trailing-* pattern.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	if c.redisClient != nil {
		keys, err := c.redisClient.Keys(ctx, pattern)
		if err == nil && len(keys) > 0 {
			_ = c.redisClient.Del(ctx, keys...)
		}
	}

	c.memMu.Lock()
	defer c.memMu.Unlock()

	for key := range c.memCache {
		if matchPattern(pattern, key) {
			delete(c.memCache, key)
		}
	}

	return nil
}

// GetJSON retrieves and unmarshals a JSON value
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON marshals and stores a JSON value
func (c *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// GetOrSet returns the JSON value cached under key, or computes it with fn
// and stores it for ttl. Cache write failures do not fail the call.
func GetOrSet[T any](ctx context.Context, c Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var cached T
	if err := c.GetJSON(ctx, key, &cached); err == nil {
		return cached, nil
	}

	value, err := fn(ctx)
	if err != nil {
		return value, err
	}
	_ = c.SetJSON(ctx, key, value, ttl)
	return value, nil
}

// Stats returns cache statistics
func (c *RedisCache) Stats() CacheStats {
	c.statsMu.Lock()
	hits, misses := c.hits, c.misses
	c.statsMu.Unlock()

	c.memMu.RLock()
	memSize := len(c.memCache)
	c.memMu.RUnlock()

	hitRatio := float64(0)
	if total := hits + misses; total > 0 {
		hitRatio = float64(hits) / float64(total)
	}

	return CacheStats{
		Hits:       hits,
		Misses:     misses,
		HitRatio:   hitRatio,
		MemorySize: memSize,
		Redis:      c.redisClient != nil,
	}
}

// CacheStats holds cache statistics
type CacheStats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRatio   float64 `json:"hit_ratio"`
	MemorySize int     `json:"memory_size"`
	Redis      bool    `json:"redis"`
}

// Close stops the cleanup loop and closes the redis client.
func (c *RedisCache) Close() error {
	c.closeOnce.Do(func() { close(c.stopCh) })
	if c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}

func (c *RedisCache) recordHit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
	metrics.Get().RecordCacheOperation(c.name, true)
}

func (c *RedisCache) recordMiss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
	metrics.Get().RecordCacheOperation(c.name, false)
}

// evictLocked drops expired entries first, then arbitrary ones, until 10%
// of capacity is free. Caller holds memMu.
func (c *RedisCache) evictLocked() {
	toEvict := c.maxMemSize / 10
	if toEvict < 1 {
		toEvict = 1
	}

	now := time.Now()
	evicted := 0
	for key, entry := range c.memCache {
		if evicted >= toEvict {
			return
		}
		if now.After(entry.ExpiresAt) {
			delete(c.memCache, key)
			evicted++
		}
	}
	for key := range c.memCache {
		if evicted >= toEvict {
			return
		}
		delete(c.memCache, key)
		evicted++
	}
}

func (c *RedisCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *RedisCache) cleanup() {
	c.memMu.Lock()
	defer c.memMu.Unlock()

	now := time.Now()
	for key, entry := range c.memCache {
		if now.After(entry.ExpiresAt) {
			delete(c.memCache, key)
		}
	}
}

// matchPattern supports exact keys and a single trailing *.
func matchPattern(pattern, key string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == key
}

// Cache key builders

// StartupMetricsKey is the snapshot key for one startup's metrics.
func StartupMetricsKey(startupID string) string {
	return fmt.Sprintf("metrics:startup:%s", startupID)
}

// StartupMetricsPattern matches every startup snapshot.
func StartupMetricsPattern() string {
	return "metrics:startup:*"
}

// XProfileKey is the key for a cached X profile; usernames are case-insensitive.
func XProfileKey(username string) string {
	return fmt.Sprintf("xprofile:%s", strings.ToLower(username))
}

// PlatformBusinessDataKey caches the platform's own Stripe business data.
func PlatformBusinessDataKey() string {
	return "stripe:business-data"
}

// LeaderboardKey caches the last broadcast leaderboard snapshot.
func LeaderboardKey() string {
	return "leaderboard:latest"
}
