package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores raw upstream response bodies
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Name() string
}

// NopCache never stores anything
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]byte, bool, error)         { return nil, false, nil }
func (NopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NopCache) Name() string                                             { return "none" }

// MemoryCache is an in-process TTL cache
type MemoryCache struct {
	mutex sync.RWMutex
	items map[string]memoryItem
	stop  chan struct{}
	once  sync.Once
}

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryCache creates a memory cache that sweeps expired entries every
// cleanupInterval until Close is called.
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		items: make(map[string]memoryItem),
		stop:  make(chan struct{}),
	}
	go c.cleanup(cleanupInterval)
	return c
}

// Get retrieves an item from the cache
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, exists := c.items[key]
	if !exists || time.Now().After(item.expiresAt) {
		return nil, false, nil
	}
	return item.data, true, nil
}

// Set stores an item in the cache
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = memoryItem{data: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Name identifies the backend in metrics
func (c *MemoryCache) Name() string { return "memory" }

// Len returns the number of stored entries, expired or not
func (c *MemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

// Close stops the cleanup goroutine
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *MemoryCache) cleanup(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *MemoryCache) sweep(now time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
}

const (
	redisDialTimeout  = 5 * time.Second
	redisReadTimeout  = 3 * time.Second
	redisWriteTimeout = 3 * time.Second
)

// RedisConfig represents the Redis cache connection
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisCache shares cached payloads between voltwatch replicas
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and validates the connection with PING
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisReadTimeout,
		WriteTimeout: redisWriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisCacheFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Get retrieves a payload; a missing key is a miss, not an error
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores a payload with a TTL
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Name identifies the backend in metrics
func (c *RedisCache) Name() string { return "redis" }

// Ping checks the Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}
