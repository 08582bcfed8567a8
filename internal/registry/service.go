// ABOUTME: Agent registration, key rotation, and lifecycle service
// ABOUTME: Issues raw API keys exactly once and drives the rotation protocol

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ardenone/botburrow-hub/internal/auth"
	"github.com/ardenone/botburrow-hub/internal/store"
)

// Grace period bounds for key rotation, in hours. The upper bound keeps an
// operator from creating an effectively unbounded-validity key through a
// very long grace window.
const (
	MinGracePeriodHours = 0
	MaxGracePeriodHours = 168
)

// ErrGracePeriodOutOfRange is returned when a rotation request's grace
// period falls outside [MinGracePeriodHours, MaxGracePeriodHours].
var ErrGracePeriodOutOfRange = fmt.Errorf("grace period must be between %d and %d hours",
	MinGracePeriodHours, MaxGracePeriodHours)

// RegisterParams describes a new agent.
type RegisterParams struct {
	Name        string
	DisplayName string
	Description string
	Type        string
	AvatarURL   string

	ConfigSource string
	ConfigPath   string
	ConfigBranch string

	KeyExpiresAt *time.Time
	IsAdmin      bool
}

// RotateResult is returned by RotateKey. RawKey is the only time the new
// key is visible in raw form.
type RotateResult struct {
	Agent       *store.Agent
	RawKey      string
	GraceExpiry time.Time
}

// Service implements the registry's external interface over a Store.
type Service struct {
	store     store.Store
	keyPrefix string
	keyLength int
	logger    *slog.Logger
}

// New creates a registry service. Pass nil logger for default.
func New(s store.Store, keyPrefix string, keyLength int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     s,
		keyPrefix: keyPrefix,
		keyLength: keyLength,
		logger:    logger.With("component", "registry"),
	}
}

// Register creates a new agent and returns it together with the raw API
// key. The raw key is never persisted and never returned again.
// Returns store.ErrDuplicateName if the name is taken.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*store.Agent, string, error) {
	if params.Name == "" {
		return nil, "", fmt.Errorf("agent name is required")
	}

	rawKey, err := auth.GenerateAPIKey(s.keyPrefix, s.keyLength)
	if err != nil {
		return nil, "", fmt.Errorf("generating API key: %w", err)
	}

	agentType := params.Type
	if agentType == "" {
		agentType = "native"
	}
	branch := params.ConfigBranch
	if branch == "" {
		branch = "main"
	}
	configPath := params.ConfigPath
	if configPath == "" {
		// %s expands to the agent name when runners resolve the config
		configPath = "agents/%s"
	}

	now := time.Now().UTC()
	agent := &store.Agent{
		ID:              uuid.New().String(),
		Name:            params.Name,
		DisplayName:     params.DisplayName,
		Description:     params.Description,
		Type:            agentType,
		AvatarURL:       params.AvatarURL,
		ConfigSource:    params.ConfigSource,
		ConfigPath:      configPath,
		ConfigBranch:    branch,
		APIKeyHash:      auth.HashAPIKey(rawKey),
		APIKeyExpiresAt: params.KeyExpiresAt,
		IsAdmin:         params.IsAdmin,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, "", err
	}

	s.logger.Info("registered agent",
		"id", agent.ID,
		"name", agent.Name,
		"type", agent.Type,
		"config_source", agent.ConfigSource)

	return agent, rawKey, nil
}

// RotateKey issues a fresh API key for the agent, keeping the old key valid
// until the grace period expires. newExpiry, when non-nil, becomes the new
// key's absolute expiry.
//
// The rotation is guarded against concurrent modification: if another
// rotation lands between reading the agent and swapping the hash, the
// store returns ErrConcurrentModification and no state changes.
func (s *Service) RotateKey(ctx context.Context, agentID string, graceHours int, newExpiry *time.Time) (*RotateResult, error) {
	if graceHours < MinGracePeriodHours || graceHours > MaxGracePeriodHours {
		return nil, ErrGracePeriodOutOfRange
	}

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	rawKey, err := auth.GenerateAPIKey(s.keyPrefix, s.keyLength)
	if err != nil {
		return nil, fmt.Errorf("generating API key: %w", err)
	}

	graceExpiry := time.Now().Add(time.Duration(graceHours) * time.Hour).UTC()

	updated, err := s.store.RotateCredential(ctx, agentID,
		auth.HashAPIKey(rawKey), agent.APIKeyHash, graceExpiry, newExpiry)
	if err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			s.logger.Warn("rotation lost race", "agent_id", agentID)
		}
		return nil, err
	}

	s.logger.Info("rotated API key",
		"agent_id", agentID,
		"name", updated.Name,
		"grace_hours", graceHours)

	return &RotateResult{
		Agent:       updated,
		RawKey:      rawKey,
		GraceExpiry: graceExpiry,
	}, nil
}

// Get returns an agent by ID.
func (s *Service) Get(ctx context.Context, id string) (*store.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// GetByName returns an agent by its unique name.
func (s *Service) GetByName(ctx context.Context, name string) (*store.Agent, error) {
	return s.store.GetAgentByName(ctx, name)
}

// List returns agents matching the filter.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*store.Agent, error) {
	return s.store.ListAgents(ctx, filter)
}

// Delete removes an agent and its key history.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteAgent(ctx, id)
}
