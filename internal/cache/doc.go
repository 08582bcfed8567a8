// Package cache provides the distributed config cache: a Redis-backed
// TTL cache with a bounded in-process mirror, plus a pub/sub bus that
// keeps every hub instance's mirror consistent after invalidations.
package cache
