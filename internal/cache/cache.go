// ABOUTME: Distributed TTL cache backed by Redis with a bounded local mirror.
// ABOUTME: Degrades to local-only operation when the remote store is unreachable.

package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/redis/go-redis/v9"
)

// Options configures a DistributedCache. Zero-value fields fall back to
// the defaults below.
type Options struct {
	// RedisURL is the remote store address (redis:// URL). Empty means
	// local-only operation from the start.
	RedisURL string

	// KeyPrefix namespaces every key on the remote store so multiple
	// deployments can share one Redis.
	KeyPrefix string

	// Channel is the pub/sub channel invalidation events are broadcast on.
	Channel string

	// TTL is the default remote expiry applied when Set is called with a
	// non-positive ttl.
	TTL time.Duration

	// OpTimeout bounds each individual remote operation.
	OpTimeout time.Duration

	// MaxLocalEntries bounds the local mirror. On overflow roughly half
	// the entries are evicted.
	MaxLocalEntries int

	Logger *slog.Logger
}

const (
	defaultTTL             = 5 * time.Minute
	defaultOpTimeout       = 5 * time.Second
	defaultMaxLocalEntries = 1000
)

// Stats is a point-in-time snapshot of cache state.
type Stats struct {
	Connected    bool `json:"connected"`
	LocalEntries int  `json:"local_entries"`
}

// DistributedCache is a remote-first cache with an in-process fallback
// mirror. Every write lands in both; reads try the remote store and fall
// through to the mirror on a miss or error. The mirror never expires
// entries on its own, so a mirror-only entry can outlive its intended
// TTL until an invalidation sweeps it. That staleness bound is accepted
// in exchange for serving reads while Redis is down.
type DistributedCache struct {
	opts   Options
	logger *slog.Logger

	client *redis.Client
	pubsub *redis.PubSub

	mu    sync.RWMutex
	local map[string][]byte

	listenerDone chan struct{}
}

// New creates a cache in the disconnected state. Call Connect to attach
// the remote store and start the invalidation listener.
func New(opts Options) *DistributedCache {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.MaxLocalEntries <= 0 {
		opts.MaxLocalEntries = defaultMaxLocalEntries
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DistributedCache{
		opts:         opts,
		logger:       logger.With("component", "cache"),
		local:        make(map[string][]byte),
		listenerDone: make(chan struct{}),
	}
}

// Connect attaches the remote store and subscribes to the invalidation
// channel. An unreachable Redis is not an error: the cache logs a
// warning and keeps running local-only. A malformed URL is an error.
func (c *DistributedCache) Connect(ctx context.Context) error {
	if c.opts.RedisURL == "" {
		c.logger.Info("no redis url configured, running local-only")
		close(c.listenerDone)
		return nil
	}

	redisOpts, err := redis.ParseURL(c.opts.RedisURL)
	if err != nil {
		return err
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		c.logger.Warn("redis unreachable, running local-only", "error", err)
		client.Close()
		close(c.listenerDone)
		return nil
	}

	c.client = client
	c.pubsub = client.Subscribe(ctx, c.opts.Channel)
	go c.listen()

	c.logger.Info("connected to redis", "channel", c.opts.Channel)
	return nil
}

// Close stops the invalidation listener and releases the remote
// connection. The local mirror keeps serving until the process exits.
func (c *DistributedCache) Close() error {
	if c.client == nil {
		return nil
	}
	if c.pubsub != nil {
		c.pubsub.Close()
	}
	select {
	case <-c.listenerDone:
	case <-time.After(c.opts.OpTimeout):
		c.logger.Warn("invalidation listener did not stop in time")
	}
	return c.client.Close()
}

func (c *DistributedCache) connected() bool {
	return c.client != nil
}

// Get returns the cached value for key. Remote first; any remote error
// or miss falls through to the local mirror.
func (c *DistributedCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.connected() {
		opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
		defer cancel()

		val, err := c.client.Get(opCtx, c.remoteKey(key)).Bytes()
		switch {
		case err == nil:
			c.mirror(key, val)
			return val, true
		case err == redis.Nil:
			// remote miss, fall through
		default:
			c.logger.Warn("redis get failed, using local mirror", "key", key, "error", err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	val, ok := c.local[key]
	return val, ok
}

// Set stores value under key. The remote write is best-effort; the
// local mirror always takes the value. A non-positive ttl uses the
// configured default.
func (c *DistributedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.TTL
	}

	if c.connected() {
		opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
		defer cancel()
		if err := c.client.Set(opCtx, c.remoteKey(key), value, ttl).Err(); err != nil {
			c.logger.Warn("redis set failed", "key", key, "error", err)
		}
	}

	c.mirror(key, value)
}

// Delete removes key from both stores.
func (c *DistributedCache) Delete(ctx context.Context, key string) {
	if c.connected() {
		opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
		defer cancel()
		if err := c.client.Del(opCtx, c.remoteKey(key)).Err(); err != nil {
			c.logger.Warn("redis del failed", "key", key, "error", err)
		}
	}

	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
}

// InvalidatePattern removes every key matching the glob pattern from
// both stores and returns how many entries were removed. The remote
// count is reported when connected since the remote store is the
// superset; otherwise the local count.
func (c *DistributedCache) InvalidatePattern(ctx context.Context, pattern string) int {
	localRemoved := c.evictLocalPattern(pattern)

	if !c.connected() {
		return localRemoved
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	removed := 0
	iter := c.client.Scan(opCtx, 0, c.remoteKey(pattern), 100).Iterator()
	for iter.Next(opCtx) {
		if err := c.client.Del(opCtx, iter.Val()).Err(); err != nil {
			c.logger.Warn("redis del failed during pattern invalidation", "key", iter.Val(), "error", err)
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis scan failed, local mirror invalidated only", "pattern", pattern, "error", err)
		return localRemoved
	}
	return removed
}

// InvalidateAll clears the whole cache namespace and returns how many
// entries were removed.
func (c *DistributedCache) InvalidateAll(ctx context.Context) int {
	c.mu.Lock()
	localRemoved := len(c.local)
	c.local = make(map[string][]byte)
	c.mu.Unlock()

	if !c.connected() {
		return localRemoved
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	removed := 0
	iter := c.client.Scan(opCtx, 0, c.remoteKey("*"), 100).Iterator()
	for iter.Next(opCtx) {
		if err := c.client.Del(opCtx, iter.Val()).Err(); err != nil {
			c.logger.Warn("redis del failed during full invalidation", "key", iter.Val(), "error", err)
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis scan failed, local mirror cleared only", "error", err)
		return localRemoved
	}
	return removed
}

// Stats reports connection state and local mirror size.
func (c *DistributedCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Connected:    c.connected(),
		LocalEntries: len(c.local),
	}
}

func (c *DistributedCache) remoteKey(key string) string {
	return c.opts.KeyPrefix + key
}

// mirror stores a value locally, evicting roughly half the entries when
// the bound is exceeded. Eviction order is arbitrary; the mirror is a
// fallback, not the primary path, so LRU bookkeeping is not worth it.
func (c *DistributedCache) mirror(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.local) >= c.opts.MaxLocalEntries {
		drop := c.opts.MaxLocalEntries / 2
		for k := range c.local {
			if drop <= 0 {
				break
			}
			delete(c.local, k)
			drop--
		}
		c.logger.Debug("local mirror bound reached, evicted entries", "remaining", len(c.local))
	}

	c.local[key] = value
}

func (c *DistributedCache) evictLocal(key string) {
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
}

func (c *DistributedCache) evictLocalPattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.local {
		if matchKey(pattern, key) {
			delete(c.local, key)
			removed++
		}
	}
	return removed
}

// matchKey matches a key against a Redis-style glob. Cache keys are
// colon-delimited and may embed source URLs; slashes inside them carry
// no path meaning, so both sides are masked before matching to keep *
// from stopping at segment boundaries.
func matchKey(pattern, key string) bool {
	const mask = "\x00"
	p := strings.ReplaceAll(pattern, "/", mask)
	k := strings.ReplaceAll(key, "/", mask)
	ok, err := doublestar.Match(p, k)
	return err == nil && ok
}
