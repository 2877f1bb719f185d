package cache

import (
	"context"
	"errors"
	"time"

	"heritage/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisBackend = "redis"

// RedisCache stores msgpack-encoded values in redis
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *zap.SugaredLogger
}

// NewRedisCache creates a redis-backed cache. The connection is lazy; call Ping to verify it.
func NewRedisCache(addr, password string, db, poolSize int, defaultTTL time.Duration, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisCache{
		client:     client,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// Ping tests the redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) Backend() string { return redisBackend }

// Set stores a value with expiration
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		rc.logger.Warnf("Rejecting cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues(redisBackend, "encode").Inc()
		return err
	}

	if ttl <= 0 {
		ttl = rc.defaultTTL
	}

	if err := rc.client.Set(ctx, key, data, ttl).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues(redisBackend, "set").Inc()
		return err
	}
	return nil
}

// Get retrieves a value
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheMisses.WithLabelValues(redisBackend).Inc()
			return false, nil
		}
		rc.logger.Errorf("Failed to get cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues(redisBackend, "get").Inc()
		return false, err
	}

	if err := decode(data, dest); err != nil {
		rc.logger.Errorf("Failed to decode cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues(redisBackend, "decode").Inc()
		return false, err
	}

	metrics.CacheHits.WithLabelValues(redisBackend).Inc()
	return true, nil
}

// Delete removes a key
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}
