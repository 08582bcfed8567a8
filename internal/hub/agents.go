// ABOUTME: Agent API handlers: registration, self-service key rotation,
// ABOUTME: and admin lookup/list/delete.

package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ardenone/botburrow-hub/internal/auth"
	"github.com/ardenone/botburrow-hub/internal/registry"
	"github.com/ardenone/botburrow-hub/internal/store"
)

// agentResponse is the wire shape of an agent. The key hash never
// leaves the server.
type agentResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	DisplayName  string     `json:"display_name,omitempty"`
	Description  string     `json:"description,omitempty"`
	Type         string     `json:"type"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	ConfigSource string     `json:"config_source,omitempty"`
	ConfigPath   string     `json:"config_path,omitempty"`
	ConfigBranch string     `json:"config_branch,omitempty"`
	KeyExpiresAt *time.Time `json:"api_key_expires_at,omitempty"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	Karma        int        `json:"karma"`
	IsAdmin      bool       `json:"is_admin"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toAgentResponse(a *store.Agent) agentResponse {
	return agentResponse{
		ID:           a.ID,
		Name:         a.Name,
		DisplayName:  a.DisplayName,
		Description:  a.Description,
		Type:         a.Type,
		AvatarURL:    a.AvatarURL,
		ConfigSource: a.ConfigSource,
		ConfigPath:   a.ConfigPath,
		ConfigBranch: a.ConfigBranch,
		KeyExpiresAt: a.APIKeyExpiresAt,
		LastActiveAt: a.LastActiveAt,
		Karma:        a.Karma,
		IsAdmin:      a.IsAdmin,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type registerRequest struct {
	Name         string     `json:"name"`
	DisplayName  string     `json:"display_name"`
	Description  string     `json:"description"`
	Type         string     `json:"type"`
	AvatarURL    string     `json:"avatar_url"`
	ConfigSource string     `json:"config_source"`
	ConfigPath   string     `json:"config_path"`
	ConfigBranch string     `json:"config_branch"`
	KeyExpiresAt *time.Time `json:"api_key_expires_at"`
	IsAdmin      bool       `json:"is_admin"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	agent, rawKey, err := s.registry.Register(r.Context(), registry.RegisterParams{
		Name:         req.Name,
		DisplayName:  req.DisplayName,
		Description:  req.Description,
		Type:         req.Type,
		AvatarURL:    req.AvatarURL,
		ConfigSource: req.ConfigSource,
		ConfigPath:   req.ConfigPath,
		ConfigBranch: req.ConfigBranch,
		KeyExpiresAt: req.KeyExpiresAt,
		IsAdmin:      req.IsAdmin,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "agent name already registered")
			return
		}
		s.logger.Error("registration failed", "name", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"agent":   toAgentResponse(agent),
		"api_key": rawKey,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

type rotateKeyRequest struct {
	GracePeriodHours *int       `json:"grace_period_hours"`
	KeyExpiresAt     *time.Time `json:"api_key_expires_at"`
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	graceHours := int(s.cfg.Keys.DefaultGracePeriod / time.Hour)
	var req rotateKeyRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.GracePeriodHours != nil {
			graceHours = *req.GracePeriodHours
		}
	}

	res, err := s.registry.RotateKey(r.Context(), agent.ID, graceHours, req.KeyExpiresAt)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrGracePeriodOutOfRange):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrConcurrentModification):
			writeError(w, http.StatusConflict, "key was rotated concurrently, re-authenticate and retry")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "agent not found")
		default:
			s.logger.Error("rotation failed", "agent_id", agent.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"api_key":          res.RawKey,
		"old_key_valid_to": res.GraceExpiry.Format(time.RFC3339),
		"agent":            toAgentResponse(res.Agent),
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.registry.GetByName(r.Context(), r.PathValue("name"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.logger.Error("agent lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		ConfigSource: r.URL.Query().Get("config_source"),
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	agents, err := s.registry.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("agent list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	agent, err := s.registry.GetByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.logger.Error("agent lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.registry.Delete(r.Context(), agent.ID); err != nil {
		s.logger.Error("agent delete failed", "agent_id", agent.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Best-effort: clear any cached config for the deleted agent.
	s.cache.Invalidate(r.Context(), agent.Name, "")

	w.WriteHeader(http.StatusNoContent)
}
