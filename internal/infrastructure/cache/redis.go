package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"adversary-lab/internal/config"
	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

// Cache key constants
const (
	KeyPersonaConfigPrefix = "persona:config:"
	KeyRateLimitPrefix     = "rate_limit:"
	KeyCampaignCounter     = "stats:campaigns"
)

const scanBatch = 100

// RedisCache wraps the Redis client with typed operations
type RedisCache struct {
	client     *redis.Client
	keyPrefix  string
	personaTTL time.Duration
	logger     *logger.Logger
}

// NewRedis creates a new Redis client
func NewRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisCache, error) {
	log = log.WithComponent("redis")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("connected to Redis successfully")

	return NewRedisWithClient(client, cfg.KeyPrefix, cfg.PersonaTTL, log), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, keyPrefix string, personaTTL time.Duration, log *logger.Logger) *RedisCache {
	return &RedisCache{
		client:     client,
		keyPrefix:  keyPrefix,
		personaTTL: personaTTL,
		logger:     log,
	}
}

// Client returns the underlying Redis client
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Ping checks connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	c.logger.Info().Msg("closing Redis connection")
	return c.client.Close()
}

// key prepends the namespace prefix to a key
func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

// GetJSON retrieves and unmarshals a JSON value from cache
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON marshals and stores a value in cache
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

// Delete removes keys from cache
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	prefixedKeys := make([]string, len(keys))
	for i, k := range keys {
		prefixedKeys[i] = c.key(k)
	}
	return c.client.Del(ctx, prefixedKeys...).Err()
}

// DeletePrefix removes every key under a prefix and returns how many were
// deleted
func (c *RedisCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	pattern := c.key(prefix) + "*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// GetPersonaConfig returns the generated config cached for a group, or
// nil on a miss
func (c *RedisCache) GetPersonaConfig(ctx context.Context, groupID string) (*models.PersonaConfig, error) {
	var cfg models.PersonaConfig
	err := c.GetJSON(ctx, KeyPersonaConfigPrefix+groupID, &cfg)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read persona config %s: %w", groupID, err)
	}
	return &cfg, nil
}

// PutPersonaConfig caches a generated config for the configured TTL
func (c *RedisCache) PutPersonaConfig(ctx context.Context, groupID string, cfg models.PersonaConfig) error {
	return c.SetJSON(ctx, KeyPersonaConfigPrefix+groupID, cfg, c.personaTTL)
}

// ClearPersonaConfigs drops every cached persona config
func (c *RedisCache) ClearPersonaConfigs(ctx context.Context) error {
	n, err := c.DeletePrefix(ctx, KeyPersonaConfigPrefix)
	if err != nil {
		return fmt.Errorf("failed to clear persona configs: %w", err)
	}
	c.logger.Info().Int("deleted", n).Msg("persona config cache cleared")
	return nil
}

// IncrementCampaignCount bumps the lifetime campaign counter
func (c *RedisCache) IncrementCampaignCount(ctx context.Context) (int64, error) {
	return c.client.Incr(ctx, c.key(KeyCampaignCounter)).Result()
}

// CampaignCount returns the lifetime campaign counter
func (c *RedisCache) CampaignCount(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, c.key(KeyCampaignCounter)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// CheckRateLimit checks and increments the rate limit counter
// Returns (allowed, remaining, resetTime, error)
func (c *RedisCache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Time, error) {
	now := time.Now()
	windowKey := fmt.Sprintf("%s%s:%d", KeyRateLimitPrefix, key, now.Unix()/int64(window.Seconds()))

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, c.key(windowKey))
	pipe.Expire(ctx, c.key(windowKey), window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, err
	}

	count := incr.Val()
	remaining := max(limit-count, 0)

	return count <= limit, remaining, now.Add(window), nil
}
