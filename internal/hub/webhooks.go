// ABOUTME: CI webhook handlers: HMAC-verified config invalidation plus
// ABOUTME: admin-only full flush and cache statistics.

package hub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const signatureHeader = "X-Hub-Signature-256"

// verifySignature checks an HMAC-SHA256 signature in the
// "sha256=<hex>" format against the webhook secret.
func verifySignature(secret string, body []byte, signature string) bool {
	sig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

type configInvalidateRequest struct {
	AgentName    string `json:"agent_name"`
	ConfigSource string `json:"config_source"`
}

// handleConfigInvalidate is called by CI after a config repo changes.
// Authenticated by HMAC signature rather than an API key so the git
// host's webhook machinery can call it directly.
func (s *Server) handleConfigInvalidate(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Webhook.Enabled {
		writeError(w, http.StatusNotImplemented, "webhooks not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}

	if !verifySignature(s.cfg.Webhook.Secret, body, r.Header.Get(signatureHeader)) {
		s.logger.Warn("webhook signature verification failed", "remote", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	var req configInvalidateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	removed := s.cache.Invalidate(r.Context(), req.AgentName, req.ConfigSource)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"removed": removed,
	})
}

func (s *Server) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	removed := s.cache.Invalidate(r.Context(), "", "")
	s.logger.Info("full cache flush requested", "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"removed": removed,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}
