// Package cache provides the request-path cache used by domain modules.
// Backends: an in-process LRU ("simple"), redis, and a no-op ("null").
package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"heritage/config"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// maxValueSize bounds a single encoded value
const maxValueSize = 10 * 1024 * 1024

// Cache is implemented by every backend
type Cache interface {
	// Get decodes the cached value into dest; found is false on a miss
	Get(ctx context.Context, key string, dest interface{}) (found bool, err error)
	// Set stores value; ttl <= 0 uses the backend default
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
	Backend() string
}

// New builds the backend selected by cfg. password overrides cfg.Redis.Password when set.
func New(cfg config.CacheConfig, password string, logger *zap.SugaredLogger) (Cache, error) {
	switch cfg.Type {
	case config.CacheSimple, "":
		return NewMemory(cfg.Threshold, cfg.DefaultTimeout, logger), nil
	case config.CacheRedis:
		if password == "" {
			password = cfg.Redis.Password
		}
		return NewRedisCache(cfg.Redis.Addr, password, cfg.Redis.DB, cfg.Redis.PoolSize, cfg.DefaultTimeout, logger), nil
	case config.CacheNull:
		return Null{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Key builds a namespaced key. Parts are hashed so arbitrary input stays short and safe.
func Key(namespace string, parts ...string) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], xxhash.Sum64String(strings.Join(parts, "\x00")))
	return namespace + ":" + hex.EncodeToString(b[:])
}

func encode(value interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache value: %w", err)
	}
	if len(data) > maxValueSize {
		return nil, fmt.Errorf("cache value size %d bytes exceeds maximum allowed size %d bytes", len(data), maxValueSize)
	}
	return data, nil
}

func decode(data []byte, dest interface{}) error {
	if err := msgpack.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	return nil
}

// Null never stores anything
type Null struct{}

func (Null) Get(context.Context, string, interface{}) (bool, error) { return false, nil }
func (Null) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (Null) Delete(context.Context, string) error { return nil }
func (Null) Ping(context.Context) error { return nil }
func (Null) Close() error { return nil }
func (Null) Backend() string { return string(config.CacheNull) }
