package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T, redisURL string) *DistributedCache {
	t.Helper()
	c := New(Options{
		RedisURL:  redisURL,
		KeyPrefix: "burrow:cache:",
		Channel:   "burrow:cache:invalidate",
		TTL:       5 * time.Minute,
		OpTimeout: 2 * time.Second,
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_LocalOnly(t *testing.T) {
	c := setupCache(t, "")
	ctx := context.Background()

	_, ok := c.Get(ctx, "agent:bot-1:repoA")
	assert.False(t, ok)

	c.Set(ctx, "agent:bot-1:repoA", []byte(`{"name":"bot-1"}`), 0)
	val, ok := c.Get(ctx, "agent:bot-1:repoA")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"name":"bot-1"}`), val)

	c.Delete(ctx, "agent:bot-1:repoA")
	_, ok = c.Get(ctx, "agent:bot-1:repoA")
	assert.False(t, ok)

	stats := c.Stats()
	assert.False(t, stats.Connected)
	assert.Equal(t, 0, stats.LocalEntries)
}

func TestCache_RemoteRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	c := setupCache(t, "redis://"+mr.Addr())
	ctx := context.Background()

	c.Set(ctx, "agent:bot-1:repoA", []byte("v1"), time.Minute)

	// Value is namespaced on the remote store
	got, err := mr.Get("burrow:cache:agent:bot-1:repoA")
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	val, ok := c.Get(ctx, "agent:bot-1:repoA")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), val)

	assert.True(t, c.Stats().Connected)
}

func TestCache_RemoteUnreachable(t *testing.T) {
	c := New(Options{
		RedisURL:  "redis://127.0.0.1:1",
		OpTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, c.Connect(context.Background()),
		"an unreachable remote degrades to local-only, not an error")
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	c.Set(ctx, "agent:bot-1:repoA", []byte("v1"), 0)
	val, ok := c.Get(ctx, "agent:bot-1:repoA")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), val)
	assert.False(t, c.Stats().Connected)
}

func TestCache_MalformedURL(t *testing.T) {
	c := New(Options{RedisURL: "not-a-url"})
	assert.Error(t, c.Connect(context.Background()))
}

// The local mirror does not expire on its own: after the remote entry
// expires, a read falls through to the mirror and still finds the
// value. Accepted staleness bound, covered here so it stays deliberate.
func TestCache_MirrorOutlivesRemoteTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := setupCache(t, "redis://"+mr.Addr())
	ctx := context.Background()

	c.Set(ctx, "agent:bot-1:repoA", []byte("v1"), time.Minute)
	mr.FastForward(2 * time.Minute)

	require.False(t, mr.Exists("burrow:cache:agent:bot-1:repoA"))
	val, ok := c.Get(ctx, "agent:bot-1:repoA")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), val)
}

func TestCache_LocalBound(t *testing.T) {
	c := New(Options{MaxLocalEntries: 10})
	require.NoError(t, c.Connect(context.Background()))
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		c.Set(ctx, fmt.Sprintf("agent:bot-%d:repoA", i), []byte("v"), 0)
	}

	assert.LessOrEqual(t, c.Stats().LocalEntries, 10)
	assert.Greater(t, c.Stats().LocalEntries, 0)
}

func TestCache_InvalidatePattern(t *testing.T) {
	mr := miniredis.RunT(t)
	c := setupCache(t, "redis://"+mr.Addr())
	ctx := context.Background()

	c.Set(ctx, "agent:bot-1:repoA", []byte("a"), 0)
	c.Set(ctx, "agent:bot-1:repoB", []byte("b"), 0)
	c.Set(ctx, "agent:bot-2:repoA", []byte("c"), 0)

	removed := c.InvalidatePattern(ctx, "agent:bot-1:*")
	assert.Equal(t, 2, removed)

	_, ok := c.Get(ctx, "agent:bot-1:repoA")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "agent:bot-1:repoB")
	assert.False(t, ok)

	val, ok := c.Get(ctx, "agent:bot-2:repoA")
	require.True(t, ok)
	assert.Equal(t, []byte("c"), val)
}

func TestCache_InvalidateAll(t *testing.T) {
	mr := miniredis.RunT(t)
	c := setupCache(t, "redis://"+mr.Addr())
	ctx := context.Background()

	keys := []string{"agent:bot-1:repoA", "agent:bot-2:repoA", "agent:bot-3:repoB"}
	for _, k := range keys {
		c.Set(ctx, k, []byte("v"), 0)
	}

	removed := c.InvalidateAll(ctx)
	assert.Equal(t, len(keys), removed)

	for _, k := range keys {
		_, ok := c.Get(ctx, k)
		assert.False(t, ok, "key %s should be gone", k)
	}
	assert.Equal(t, 0, c.Stats().LocalEntries)
}

func TestMatchKey(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"agent:bot-1:*", "agent:bot-1:repoA", true},
		{"agent:bot-1:*", "agent:bot-2:repoA", false},
		{"agent:bot-1:*", "agent:bot-1:https://git.example.com/agents.git", true},
		{"agent:*", "agent:bot-1:repoA", true},
		{"*", "agent:bot-1:repoA", true},
		{"agent:bot-1:repoA", "agent:bot-1:repoA", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchKey(tt.pattern, tt.key),
			"pattern %q key %q", tt.pattern, tt.key)
	}
}
