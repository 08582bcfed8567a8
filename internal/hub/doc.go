// Package hub exposes the registry and cache over HTTP: agent
// registration and key rotation under /api/v1/agents, CI-facing
// invalidation webhooks under /api/v1/webhooks.
package hub
