// ABOUTME: Request context helpers carrying the authenticated agent
// ABOUTME: Same WithAgent/AgentFromContext pattern for middleware and handlers

package auth

import (
	"context"

	"github.com/ardenone/botburrow-hub/internal/store"
)

type contextKey int

const agentKey contextKey = iota

// WithAgent returns a context carrying the authenticated agent.
func WithAgent(ctx context.Context, agent *store.Agent) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}

// AgentFromContext returns the authenticated agent, or nil if the request
// was not authenticated as an agent.
func AgentFromContext(ctx context.Context) *store.Agent {
	agent, _ := ctx.Value(agentKey).(*store.Agent)
	return agent
}
