package cache

import (
	"context"
	"time"

	"heritage/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const memoryBackend = "simple"

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// Memory is an in-process LRU bounded by entry count. Values are stored
// encoded so callers never share mutable state through the cache.
type Memory struct {
	lru        *expirable.LRU[string, memoryEntry]
	defaultTTL time.Duration
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// NewMemory creates an LRU holding at most threshold entries
func NewMemory(threshold int, defaultTTL time.Duration, logger *zap.SugaredLogger) *Memory {
	if threshold <= 0 {
		threshold = 500
	}
	return &Memory{
		// Expiry is tracked per entry, so the LRU itself never expires
		lru:        expirable.NewLRU[string, memoryEntry](threshold, nil, 0),
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}
}

func (m *Memory) Backend() string { return memoryBackend }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}

func (m *Memory) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		metrics.CacheErrors.WithLabelValues(memoryBackend, "encode").Inc()
		return err
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.lru.Add(key, entry)
	return nil
}

func (m *Memory) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	entry, ok := m.lru.Get(key)
	if ok && !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		m.lru.Remove(key)
		ok = false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues(memoryBackend).Inc()
		return false, nil
	}

	if err := decode(entry.data, dest); err != nil {
		m.logger.Errorf("Failed to decode cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues(memoryBackend, "decode").Inc()
		return false, err
	}
	metrics.CacheHits.WithLabelValues(memoryBackend).Inc()
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted
func (m *Memory) Len() int {
	return m.lru.Len()
}
