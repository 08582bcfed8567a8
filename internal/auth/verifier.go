// ABOUTME: Bearer credential verification against current and retired key hashes
// ABOUTME: Checks the live hash first, then still-valid history entries from prior rotations

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ardenone/botburrow-hub/internal/store"
)

// Verification errors. The HTTP layer maps these to status codes; response
// bodies stay uniform so callers cannot distinguish unknown from expired keys.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidFormat     = errors.New("invalid credential format")
	ErrInvalidCredential = errors.New("invalid credential")
)

// AgentResolver is the subset of store.Store the verifier needs.
type AgentResolver interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	GetAgentByKeyHash(ctx context.Context, hash string) (*store.Agent, error)
	GetHistoryEntryByHash(ctx context.Context, hash string, now time.Time) (*store.KeyHistoryEntry, error)
	TouchLastActive(ctx context.Context, id string) error
}

// Verifier resolves bearer tokens to agents.
type Verifier struct {
	store     AgentResolver
	keyPrefix string
	logger    *slog.Logger
}

// NewVerifier creates a verifier. Pass nil logger for default.
func NewVerifier(s AgentResolver, keyPrefix string, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		store:     s,
		keyPrefix: keyPrefix,
		logger:    logger.With("component", "auth"),
	}
}

// Verify resolves a raw bearer token to its agent.
//
// The format prefix is checked before any storage access, so malformed
// tokens never reach the database. The current hash is tried first; if the
// token was rotated away, a history entry still inside its grace period
// resolves to the owning agent instead. On success the agent's last-active
// timestamp is updated off the request path.
func (v *Verifier) Verify(ctx context.Context, token string) (*store.Agent, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}
	if !strings.HasPrefix(token, v.keyPrefix) {
		return nil, ErrInvalidFormat
	}

	hash := HashAPIKey(token)
	now := time.Now()

	agent, err := v.store.GetAgentByKeyHash(ctx, hash)
	switch {
	case err == nil:
		// The current key may carry its own absolute expiry, independent
		// of any rotation grace period
		if agent.APIKeyExpiresAt != nil && !now.Before(*agent.APIKeyExpiresAt) {
			return nil, ErrInvalidCredential
		}
		v.touchLastActive(agent.ID)
		return agent, nil
	case errors.Is(err, store.ErrNotFound):
		// Fall through to the history ledger
	default:
		return nil, fmt.Errorf("looking up credential: %w", err)
	}

	entry, err := v.store.GetHistoryEntryByHash(ctx, hash, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("looking up retired credential: %w", err)
	}

	agent, err = v.store.GetAgent(ctx, entry.AgentID)
	if errors.Is(err, store.ErrNotFound) {
		// History row orphaned mid-delete; treat as invalid
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("resolving retired credential owner: %w", err)
	}

	v.touchLastActive(agent.ID)
	return agent, nil
}

// touchLastActive records activity without blocking the verify path.
func (v *Verifier) touchLastActive(agentID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := v.store.TouchLastActive(ctx, agentID); err != nil {
			v.logger.Debug("failed to update last_active_at", "agent_id", agentID, "error", err)
		}
	}()
}
