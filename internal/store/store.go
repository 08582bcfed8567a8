// ABOUTME: Store interface and data types for burrow-hub persistence
// ABOUTME: Defines Agent, KeyHistoryEntry structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateName is returned when trying to register an agent whose name is already taken
var ErrDuplicateName = errors.New("agent name already exists")

// ErrDuplicateCredential is returned when a credential hash collides with an
// existing one (current or retired). Hashes must be unique across all agents
// so a retired key can never resolve to a different agent.
var ErrDuplicateCredential = errors.New("credential hash already exists")

// ErrConcurrentModification is returned by RotateCredential when the expected
// old hash no longer matches the stored one, meaning another rotation won the
// race. Callers should re-read and retry, or surface a conflict.
var ErrConcurrentModification = errors.New("credential was modified concurrently")

// Agent is a registered identity whose behavior is defined by an external,
// git-hosted configuration. Only the SHA-256 digest of its API key is stored.
type Agent struct {
	ID          string
	Name        string
	DisplayName string
	Description string
	Type        string // claude-code, goose, native, etc.
	AvatarURL   string

	// Config source tracking (multi-repo support). Opaque to the hub:
	// runners use these to locate the agent's configuration.
	ConfigSource string
	ConfigPath   string // path template within repo (%s = agent name)
	ConfigBranch string

	APIKeyHash      string
	APIKeyExpiresAt *time.Time // nil means the current key does not expire

	LastActiveAt *time.Time
	Karma        int
	IsAdmin      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// KeyHistoryEntry records a retired credential hash that remains valid until
// its grace-period expiry. ExpiresAt is set at creation and never mutated.
type KeyHistoryEntry struct {
	ID         string
	AgentID    string
	APIKeyHash string
	RotatedAt  time.Time
	ExpiresAt  time.Time
}

// ListFilter narrows ListAgents results.
type ListFilter struct {
	Offset       int
	Limit        int
	ConfigSource string // empty means no filter
}

// Store defines the interface for agent and key-history persistence.
// All mutations are flushed before the method returns; RotateCredential is
// the only multi-statement operation and runs in a single transaction.
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByName(ctx context.Context, name string) (*Agent, error)
	GetAgentByKeyHash(ctx context.Context, hash string) (*Agent, error)
	ListAgents(ctx context.Context, filter ListFilter) ([]*Agent, error)
	TouchLastActive(ctx context.Context, id string) error
	AddKarma(ctx context.Context, id string, delta int) error
	// DeleteAgent removes an agent and cascade-deletes its key history.
	// Returns ErrNotFound if no such agent exists.
	DeleteAgent(ctx context.Context, id string) error

	// Rotation protocol. Atomically retires the current credential into the
	// history ledger and installs newHash, guarded by an expected-old-value
	// precondition. newKeyExpiry, when non-nil, replaces the agent's key
	// expiry in the same transaction.
	RotateCredential(ctx context.Context, agentID, newHash, expectedOldHash string, graceExpiry time.Time, newKeyExpiry *time.Time) (*Agent, error)

	// Key history ledger
	GetHistoryEntryByHash(ctx context.Context, hash string, now time.Time) (*KeyHistoryEntry, error)
	ListHistory(ctx context.Context, agentID string) ([]*KeyHistoryEntry, error)
	DeleteExpiredHistory(ctx context.Context, now time.Time) (int64, error)

	// Close releases any resources held by the store
	Close() error
}
