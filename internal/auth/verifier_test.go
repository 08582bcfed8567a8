package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardenone/botburrow-hub/internal/store"
)

// fakeResolver is an in-memory AgentResolver for verifier tests.
type fakeResolver struct {
	mu      sync.Mutex
	agents  map[string]*store.Agent           // by ID
	byHash  map[string]*store.Agent           // by current hash
	history map[string]*store.KeyHistoryEntry // by retired hash
	lookups int
	touched []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		agents:  make(map[string]*store.Agent),
		byHash:  make(map[string]*store.Agent),
		history: make(map[string]*store.KeyHistoryEntry),
	}
}

func (f *fakeResolver) add(agent *store.Agent) {
	f.agents[agent.ID] = agent
	f.byHash[agent.APIKeyHash] = agent
}

func (f *fakeResolver) GetAgent(_ context.Context, id string) (*store.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.agents[id]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeResolver) GetAgentByKeyHash(_ context.Context, hash string) (*store.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if a, ok := f.byHash[hash]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeResolver) GetHistoryEntryByHash(_ context.Context, hash string, now time.Time) (*store.KeyHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.history[hash]; ok && e.ExpiresAt.After(now) {
		return e, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeResolver) TouchLastActive(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

const testPrefix = "botburrow_agent_"

func TestVerifier_CurrentKey(t *testing.T) {
	resolver := newFakeResolver()
	rawKey, err := GenerateAPIKey(testPrefix, 32)
	require.NoError(t, err)

	agent := &store.Agent{ID: "agent-1", Name: "bot-1", APIKeyHash: HashAPIKey(rawKey)}
	resolver.add(agent)

	v := NewVerifier(resolver, testPrefix, nil)
	got, err := v.Verify(context.Background(), rawKey)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.ID)
}

func TestVerifier_MissingToken(t *testing.T) {
	v := NewVerifier(newFakeResolver(), testPrefix, nil)
	_, err := v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestVerifier_FormatRejectedBeforeStorage(t *testing.T) {
	resolver := newFakeResolver()
	v := NewVerifier(resolver, testPrefix, nil)

	_, err := v.Verify(context.Background(), "sk-wrong-scheme-12345")
	assert.ErrorIs(t, err, ErrInvalidFormat)
	assert.Zero(t, resolver.lookups, "malformed tokens must never reach the storage layer")
}

func TestVerifier_UnknownKey(t *testing.T) {
	v := NewVerifier(newFakeResolver(), testPrefix, nil)
	_, err := v.Verify(context.Background(), testPrefix+"deadbeef")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifier_ExpiredCurrentKey(t *testing.T) {
	resolver := newFakeResolver()
	rawKey, err := GenerateAPIKey(testPrefix, 32)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	resolver.add(&store.Agent{
		ID:              "agent-1",
		Name:            "bot-1",
		APIKeyHash:      HashAPIKey(rawKey),
		APIKeyExpiresAt: &past,
	})

	v := NewVerifier(resolver, testPrefix, nil)
	_, err = v.Verify(context.Background(), rawKey)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifier_RetiredKeyWithinGrace(t *testing.T) {
	resolver := newFakeResolver()

	oldKey, err := GenerateAPIKey(testPrefix, 32)
	require.NoError(t, err)
	newKey, err := GenerateAPIKey(testPrefix, 32)
	require.NoError(t, err)

	agent := &store.Agent{ID: "agent-1", Name: "bot-1", APIKeyHash: HashAPIKey(newKey)}
	resolver.add(agent)
	resolver.history[HashAPIKey(oldKey)] = &store.KeyHistoryEntry{
		ID:         "hist-1",
		AgentID:    "agent-1",
		APIKeyHash: HashAPIKey(oldKey),
		RotatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(24 * time.Hour),
	}

	v := NewVerifier(resolver, testPrefix, nil)

	// Both keys resolve to the same agent during the grace period
	got, err := v.Verify(context.Background(), oldKey)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.ID)

	got, err = v.Verify(context.Background(), newKey)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.ID)
}

func TestVerifier_RetiredKeyPastGrace(t *testing.T) {
	resolver := newFakeResolver()

	oldKey, err := GenerateAPIKey(testPrefix, 32)
	require.NoError(t, err)
	resolver.add(&store.Agent{ID: "agent-1", Name: "bot-1", APIKeyHash: "other-hash"})
	resolver.history[HashAPIKey(oldKey)] = &store.KeyHistoryEntry{
		ID:         "hist-1",
		AgentID:    "agent-1",
		APIKeyHash: HashAPIKey(oldKey),
		RotatedAt:  time.Now().Add(-48 * time.Hour),
		ExpiresAt:  time.Now().Add(-24 * time.Hour),
	}

	v := NewVerifier(resolver, testPrefix, nil)
	_, err = v.Verify(context.Background(), oldKey)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifier_TouchesLastActive(t *testing.T) {
	resolver := newFakeResolver()
	rawKey, err := GenerateAPIKey(testPrefix, 32)
	require.NoError(t, err)
	resolver.add(&store.Agent{ID: "agent-1", Name: "bot-1", APIKeyHash: HashAPIKey(rawKey)})

	v := NewVerifier(resolver, testPrefix, nil)
	_, err = v.Verify(context.Background(), rawKey)
	require.NoError(t, err)

	// The update happens off the request path
	assert.Eventually(t, func() bool {
		resolver.mu.Lock()
		defer resolver.mu.Unlock()
		return len(resolver.touched) == 1 && resolver.touched[0] == "agent-1"
	}, time.Second, 10*time.Millisecond)
}
