package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// testAgent builds a minimal valid agent with a unique name and hash.
func testAgent(name string) *Agent {
	now := time.Now().UTC().Truncate(time.Second)
	return &Agent{
		ID:           uuid.New().String(),
		Name:         name,
		Type:         "native",
		ConfigBranch: "main",
		APIKeyHash:   fmt.Sprintf("hash-%s-%s", name, uuid.New().String()),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStore_CreateAgent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("bot-1")
	agent.DisplayName = "Bot One"
	agent.ConfigSource = "https://git.example.com/agents.git"
	agent.ConfigPath = "agents/%s"

	err := store.CreateAgent(ctx, agent)
	require.NoError(t, err)

	retrieved, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, retrieved.ID)
	assert.Equal(t, "bot-1", retrieved.Name)
	assert.Equal(t, "Bot One", retrieved.DisplayName)
	assert.Equal(t, "https://git.example.com/agents.git", retrieved.ConfigSource)
	assert.Equal(t, "main", retrieved.ConfigBranch)
	assert.Equal(t, agent.APIKeyHash, retrieved.APIKeyHash)
	assert.Nil(t, retrieved.APIKeyExpiresAt)
	assert.Nil(t, retrieved.LastActiveAt)
	assert.Equal(t, 0, retrieved.Karma)
	assert.False(t, retrieved.IsAdmin)
}

func TestStore_CreateAgent_DuplicateName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAgent(ctx, testAgent("bot-1")))

	err := store.CreateAgent(ctx, testAgent("bot-1"))
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestStore_CreateAgent_DuplicateHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a1 := testAgent("bot-1")
	require.NoError(t, store.CreateAgent(ctx, a1))

	a2 := testAgent("bot-2")
	a2.APIKeyHash = a1.APIKeyHash
	err := store.CreateAgent(ctx, a2)
	assert.ErrorIs(t, err, ErrDuplicateCredential)
}

func TestStore_GetAgent_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetAgent(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetAgentByName(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetAgentByKeyHash(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetAgentByKeyHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("bot-1")
	require.NoError(t, store.CreateAgent(ctx, agent))

	retrieved, err := store.GetAgentByKeyHash(ctx, agent.APIKeyHash)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, retrieved.ID)
}

func TestStore_ListAgents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	source := "https://git.example.com/agents.git"
	for i := 0; i < 5; i++ {
		a := testAgent(fmt.Sprintf("bot-%d", i))
		if i < 2 {
			a.ConfigSource = source
		}
		require.NoError(t, store.CreateAgent(ctx, a))
	}

	all, err := store.ListAgents(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	filtered, err := store.ListAgents(ctx, ListFilter{ConfigSource: source})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	paged, err := store.ListAgents(ctx, ListFilter{Offset: 3, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, paged, 2)
}

func TestStore_TouchLastActive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("bot-1")
	require.NoError(t, store.CreateAgent(ctx, agent))

	require.NoError(t, store.TouchLastActive(ctx, agent.ID))

	retrieved, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved.LastActiveAt)
	assert.WithinDuration(t, time.Now(), *retrieved.LastActiveAt, 5*time.Second)
}

func TestStore_AddKarma(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("bot-1")
	require.NoError(t, store.CreateAgent(ctx, agent))

	require.NoError(t, store.AddKarma(ctx, agent.ID, 5))
	require.NoError(t, store.AddKarma(ctx, agent.ID, 3))

	retrieved, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, retrieved.Karma)

	err = store.AddKarma(ctx, "nonexistent", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteAgent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("bot-1")
	require.NoError(t, store.CreateAgent(ctx, agent))

	require.NoError(t, store.DeleteAgent(ctx, agent.ID))

	_, err := store.GetAgent(ctx, agent.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.DeleteAgent(ctx, agent.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteAgent_CascadesHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("bot-1")
	require.NoError(t, store.CreateAgent(ctx, agent))

	oldHash := agent.APIKeyHash
	_, err := store.RotateCredential(ctx, agent.ID, "new-hash-1", oldHash,
		time.Now().Add(24*time.Hour), nil)
	require.NoError(t, err)

	entries, err := store.ListHistory(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, store.DeleteAgent(ctx, agent.ID))

	entries, err = store.ListHistory(ctx, agent.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// A retired hash of a deleted agent must not resolve anymore
	_, err = store.GetHistoryEntryByHash(ctx, oldHash, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}
