// Package cache stores synthesized audio in redis so repeated narration of the
// same text skips the upstream providers.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lexiqai/narration-gateway/internal/config"
	"github.com/lexiqai/narration-gateway/internal/tts"
)

const defaultPrefix = "tts:audio:"

const (
	fieldAudio       = "audio"
	fieldContentType = "content_type"
	fieldProvider    = "provider"
)

// RedisCache implements tts.Cache on a redis hash per entry
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewClient builds a redis client from configuration without connecting
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisCache wraps a redis client. ttl <= 0 falls back to 24h.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: defaultPrefix,
	}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get returns the cached result for key. A miss is (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, key string) (*tts.Result, bool, error) {
	fields, err := c.client.HGetAll(ctx, c.key(key)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis hgetall: %w", err)
	}
	audio := fields[fieldAudio]
	if audio == "" {
		return nil, false, nil
	}
	return &tts.Result{
		Audio:       []byte(audio),
		ContentType: fields[fieldContentType],
		Provider:    fields[fieldProvider],
	}, true, nil
}

// Set stores a result and its expiry atomically
func (c *RedisCache) Set(ctx context.Context, key string, result *tts.Result) error {
	if result == nil || len(result.Audio) == 0 {
		return tts.ErrMissingAudio
	}
	k := c.key(key)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k,
			fieldAudio, result.Audio,
			fieldContentType, result.ContentType,
			fieldProvider, result.Provider,
		)
		pipe.Expire(ctx, k, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: %w", err)
	}
	return nil
}

// Ping checks connectivity, for readiness checks
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
