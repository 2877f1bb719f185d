package cache

import (
	"context"
	"testing"
	"time"

	"heritage/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMemory_SetGetDelete(t *testing.T) {
	m := NewMemory(10, time.Minute, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", article{Title: "Silk Road", Views: 3}, 0))

	var got article
	found, err := m.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Silk Road", got.Title)

	require.NoError(t, m.Delete(ctx, "a"))
	found, err = m.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory(10, time.Minute, zaptest.NewLogger(t).Sugar())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", 1, 10*time.Second))
	require.NoError(t, m.Set(ctx, "default", 2, 0))

	now = now.Add(30 * time.Second)
	var v int
	found, _ := m.Get(ctx, "short", &v)
	assert.False(t, found, "explicit ttl elapsed")
	found, _ = m.Get(ctx, "default", &v)
	assert.True(t, found, "default ttl not yet elapsed")

	now = now.Add(time.Minute)
	found, _ = m.Get(ctx, "default", &v)
	assert.False(t, found)
}

func TestMemory_ThresholdEvictsOldest(t *testing.T) {
	m := NewMemory(2, time.Minute, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "1", 1, 0))
	require.NoError(t, m.Set(ctx, "2", 2, 0))
	require.NoError(t, m.Set(ctx, "3", 3, 0))

	assert.Equal(t, 2, m.Len())
	var v int
	found, _ := m.Get(ctx, "1", &v)
	assert.False(t, found)
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	m := NewMemory(10, time.Minute, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	tags := []string{"bronze"}
	require.NoError(t, m.Set(ctx, "tags", tags, 0))
	tags[0] = "iron"

	var got []string
	found, err := m.Get(ctx, "tags", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"bronze"}, got)
}

func TestNew(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	c, err := New(config.CacheConfig{Type: config.CacheSimple, Threshold: 5}, "", logger)
	require.NoError(t, err)
	assert.Equal(t, "simple", c.Backend())

	c, err = New(config.CacheConfig{Type: config.CacheNull}, "", logger)
	require.NoError(t, err)
	assert.Equal(t, "null", c.Backend())
	found, err := c.Get(context.Background(), "x", new(int))
	assert.NoError(t, err)
	assert.False(t, found)

	c, err = New(config.CacheConfig{Type: config.CacheRedis, Redis: config.RedisConfig{Addr: "127.0.0.1:1"}}, "", logger)
	require.NoError(t, err)
	assert.Equal(t, "redis", c.Backend())
	assert.NoError(t, c.Close())

	_, err = New(config.CacheConfig{Type: "filesystem"}, "", logger)
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	a := Key("article", "42")
	assert.Equal(t, a, Key("article", "42"))
	assert.NotEqual(t, a, Key("article", "43"))
	assert.NotEqual(t, Key("article", "a", "b"), Key("article", "ab"))
	assert.Regexp(t, `^article:[0-9a-f]{16}$`, a)
}
