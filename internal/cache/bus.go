// ABOUTME: Invalidation bus: broadcasts cache eviction events over Redis
// ABOUTME: pub/sub and applies received events to the local mirror.

package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Invalidation is the wire format of a broadcast eviction event. Both
// subject fields are optional; the omitted combination selects the
// eviction scope (see Invalidate).
type Invalidation struct {
	Type         string `json:"type"`
	AgentName    string `json:"agent_name,omitempty"`
	ConfigSource string `json:"config_source,omitempty"`
	Timestamp    string `json:"timestamp"`
}

const eventTypeInvalidate = "invalidate"

// AgentKey builds the composite cache key for one agent's config from
// one source.
func AgentKey(agentName, configSource string) string {
	return "agent:" + agentName + ":" + configSource
}

// Invalidate evicts matching entries from both stores and broadcasts
// the event so every other process evicts its own mirror:
//   - agentName and configSource: the single composite key
//   - agentName only: every key for that agent across all sources
//   - configSource only: every cached payload whose provenance matches
//   - neither: everything
//
// Returns how many entries were removed by this process. Broadcast is
// best-effort; a disconnected bus only degrades other processes'
// freshness, never this call.
func (c *DistributedCache) Invalidate(ctx context.Context, agentName, configSource string) int {
	var removed int
	switch {
	case agentName != "" && configSource != "":
		c.Delete(ctx, AgentKey(agentName, configSource))
		removed = 1
	case agentName != "":
		removed = c.InvalidatePattern(ctx, AgentKey(agentName, "*"))
	case configSource != "":
		removed = c.invalidateBySource(ctx, configSource)
	default:
		removed = c.InvalidateAll(ctx)
	}

	c.publish(ctx, Invalidation{
		Type:         eventTypeInvalidate,
		AgentName:    agentName,
		ConfigSource: configSource,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})

	c.logger.Info("cache invalidated",
		"agent", agentName,
		"config_source", configSource,
		"removed", removed)
	return removed
}

// cachedPayload is the subset of a cached value needed to match
// invalidation-by-source. Values are stored as JSON by convention;
// anything that fails to decode simply never matches.
type cachedPayload struct {
	ConfigSource string `json:"config_source"`
}

// invalidateBySource deletes every entry whose stored payload came from
// configSource. There is no index by source, so this scans all cached
// agent entries and inspects each payload.
func (c *DistributedCache) invalidateBySource(ctx context.Context, configSource string) int {
	removed := c.evictLocalBySource(configSource)

	if !c.connected() {
		return removed
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	remoteRemoved := 0
	iter := c.client.Scan(opCtx, 0, c.remoteKey("agent:*"), 100).Iterator()
	for iter.Next(opCtx) {
		val, err := c.client.Get(opCtx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		if !payloadMatchesSource(val, configSource) {
			continue
		}
		if err := c.client.Del(opCtx, iter.Val()).Err(); err != nil {
			c.logger.Warn("redis del failed during source invalidation", "key", iter.Val(), "error", err)
			continue
		}
		remoteRemoved++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis scan failed, local mirror invalidated only", "config_source", configSource, "error", err)
		return removed
	}
	return remoteRemoved
}

func (c *DistributedCache) evictLocalBySource(configSource string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, val := range c.local {
		if !strings.HasPrefix(key, "agent:") {
			continue
		}
		if payloadMatchesSource(val, configSource) {
			delete(c.local, key)
			removed++
		}
	}
	return removed
}

func payloadMatchesSource(payload []byte, configSource string) bool {
	var p cachedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return false
	}
	return p.ConfigSource == configSource
}

// publish broadcasts an invalidation event. No-op when disconnected.
func (c *DistributedCache) publish(ctx context.Context, ev Invalidation) {
	if !c.connected() {
		c.logger.Debug("redis disconnected, invalidation not broadcast")
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Warn("failed to encode invalidation event", "error", err)
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	if err := c.client.Publish(opCtx, c.opts.Channel, payload).Err(); err != nil {
		c.logger.Warn("failed to broadcast invalidation event", "error", err)
	}
}

// listen drains the invalidation channel until the subscription closes.
// Each received event is applied to the local mirror only; the remote
// store was already updated by the publisher. Eviction is idempotent,
// so redelivered or self-published events are harmless.
func (c *DistributedCache) listen() {
	defer close(c.listenerDone)

	for msg := range c.pubsub.Channel() {
		var ev Invalidation
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			c.logger.Warn("dropping malformed invalidation event", "error", err)
			continue
		}
		c.applyLocal(ev)
	}

	c.logger.Debug("invalidation listener stopped")
}

func (c *DistributedCache) applyLocal(ev Invalidation) {
	switch {
	case ev.AgentName != "" && ev.ConfigSource != "":
		c.evictLocal(AgentKey(ev.AgentName, ev.ConfigSource))
	case ev.AgentName != "":
		c.evictLocalPattern(AgentKey(ev.AgentName, "*"))
	case ev.ConfigSource != "":
		c.evictLocalBySource(ev.ConfigSource)
	default:
		c.mu.Lock()
		c.local = make(map[string][]byte)
		c.mu.Unlock()
	}
}
