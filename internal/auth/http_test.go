package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardenone/botburrow-hub/internal/store"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAgentMiddleware_MissingHeader(t *testing.T) {
	v := NewVerifier(newFakeResolver(), testPrefix, nil)
	handler := AgentMiddleware(v)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestAgentMiddleware_MalformedKey(t *testing.T) {
	v := NewVerifier(newFakeResolver(), testPrefix, nil)
	handler := AgentMiddleware(v)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-burrow-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAgentMiddleware_UnknownKey(t *testing.T) {
	v := NewVerifier(newFakeResolver(), testPrefix, nil)
	handler := AgentMiddleware(v)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/me", nil)
	req.Header.Set("Authorization", "Bearer "+testPrefix+"deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid API key")
}

func TestAgentMiddleware_ValidKey(t *testing.T) {
	resolver := newFakeResolver()
	rawKey, err := GenerateAPIKey(testPrefix, 32)
	require.NoError(t, err)
	resolver.add(&store.Agent{ID: "agent-1", Name: "bot-1", APIKeyHash: HashAPIKey(rawKey)})

	v := NewVerifier(resolver, testPrefix, nil)

	var gotAgent *store.Agent
	handler := AgentMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = AgentFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/me", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotAgent)
	assert.Equal(t, "agent-1", gotAgent.ID)
}

func TestAgentMiddleware_RetiredKeyDuringGrace(t *testing.T) {
	resolver := newFakeResolver()
	oldKey, err := GenerateAPIKey(testPrefix, 32)
	require.NoError(t, err)
	resolver.add(&store.Agent{ID: "agent-1", Name: "bot-1", APIKeyHash: "current-hash"})
	resolver.history[HashAPIKey(oldKey)] = &store.KeyHistoryEntry{
		ID:         "hist-1",
		AgentID:    "agent-1",
		APIKeyHash: HashAPIKey(oldKey),
		RotatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}

	v := NewVerifier(resolver, testPrefix, nil)
	handler := AgentMiddleware(v)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/me", nil)
	req.Header.Set("Authorization", "Bearer "+oldKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminMiddleware(t *testing.T) {
	adminKey := "admin-secret-key"
	verifier := NewAdminVerifier(HashAPIKey(adminKey))
	handler := AdminMiddleware(verifier)(okHandler())

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
		req.Header.Set("Authorization", "Bearer "+adminKey)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("not configured", func(t *testing.T) {
		unconfigured := AdminMiddleware(NewAdminVerifier(""))(okHandler())
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
		req.Header.Set("Authorization", "Bearer anything")
		rec := httptest.NewRecorder()
		unconfigured.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})
}
