package scorer

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/domain"
)

// Cache is a two-tier cache for scorer responses: an in-process LRU in front
// of Redis. Identical payloads for a modality score identically, so replays
// (retries, re-opened cases) skip the expensive model call. The cache is
// best-effort: any miss or Redis error falls through to the live scorer.
type Cache struct {
	memory     *lru.Cache[string, *Result]
	redis      *redis.Client
	defaultTTL time.Duration
	log        *logrus.Logger
}

// cachedResult wraps a Result with cache metadata for the Redis tier.
type cachedResult struct {
	Data     *Result   `json:"data"`
	CachedAt time.Time `json:"cached_at"`
}

// NewCache creates the two-tier cache and verifies Redis connectivity.
func NewCache(config domain.CacheConfig, logger *logrus.Logger) (*Cache, error) {
	memSize := config.MemorySize
	if memSize <= 0 {
		memSize = 512
	}
	memory, err := lru.New[string, *Result](memSize)
	if err != nil {
		return nil, fmt.Errorf("creating memory cache: %w", err)
	}

	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis URL: %w", err)
	}
	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	ttl := config.DefaultTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &Cache{
		memory:     memory,
		redis:      client,
		defaultTTL: ttl,
		log:        logger,
	}, nil
}

// Key derives the cache key for a modality and payload.
func Key(modality domain.Modality, payload []byte) string {
	digest := sha256.Sum256(payload)
	return fmt.Sprintf("scorer:%s:%x", modality, digest)
}

// Get looks up a cached result, memory tier first.
func (c *Cache) Get(ctx context.Context, key string) (*Result, bool) {
	if result, ok := c.memory.Get(key); ok {
		return result, true
	}

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Redis cache lookup failed")
		return nil, false
	}

	var cached cachedResult
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Corrupt cache entry, ignoring")
		return nil, false
	}

	// Promote to the memory tier for subsequent hits.
	c.memory.Add(key, cached.Data)
	return cached.Data, true
}

// Set stores a result in both tiers.
func (c *Cache) Set(ctx context.Context, key string, result *Result) {
	c.memory.Add(key, result)

	data, err := json.Marshal(cachedResult{Data: result, CachedAt: time.Now().UTC()})
	if err != nil {
		c.log.WithError(err).Warn("Failed to marshal scorer result for cache")
		return
	}
	if err := c.redis.Set(ctx, key, data, c.defaultTTL).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Redis cache write failed")
	}
}

// Ping verifies Redis connectivity for health reporting.
func (c *Cache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.redis.Close()
}
