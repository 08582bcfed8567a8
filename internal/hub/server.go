// ABOUTME: HTTP server for the hub API: routing, middleware wiring, and
// ABOUTME: graceful lifecycle management.

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ardenone/botburrow-hub/internal/auth"
	"github.com/ardenone/botburrow-hub/internal/cache"
	"github.com/ardenone/botburrow-hub/internal/config"
	"github.com/ardenone/botburrow-hub/internal/registry"
)

// Server is the hub's HTTP surface. Authoritative operations go through
// the registry; the cache and bus only affect freshness, never
// correctness.
type Server struct {
	cfg      *config.Config
	registry *registry.Service
	verifier *auth.Verifier
	admin    *auth.AdminVerifier
	cache    *cache.DistributedCache
	logger   *slog.Logger

	httpServer *http.Server
}

// New assembles the HTTP server and its routes.
func New(cfg *config.Config, reg *registry.Service, verifier *auth.Verifier, c *cache.DistributedCache, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		registry: reg,
		verifier: verifier,
		admin:    auth.NewAdminVerifier(cfg.Admin.APIKeyHash),
		cache:    c,
		logger:   logger.With("component", "hub"),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health endpoint - no auth required
	mux.HandleFunc("GET /healthz", s.handleHealth)

	agentOnly := auth.AgentMiddleware(s.verifier)
	adminOnly := auth.AdminMiddleware(s.admin)

	mux.Handle("POST /api/v1/agents/register", adminOnly(http.HandlerFunc(s.handleRegister)))
	mux.Handle("GET /api/v1/agents/me", agentOnly(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /api/v1/agents/me/rotate-key", agentOnly(http.HandlerFunc(s.handleRotateKey)))
	mux.Handle("GET /api/v1/agents", adminOnly(http.HandlerFunc(s.handleListAgents)))
	mux.Handle("GET /api/v1/agents/{name}", adminOnly(http.HandlerFunc(s.handleGetAgent)))
	mux.Handle("DELETE /api/v1/agents/{name}", adminOnly(http.HandlerFunc(s.handleDeleteAgent)))

	mux.HandleFunc("POST /api/v1/webhooks/config-invalidate", s.handleConfigInvalidate)
	mux.Handle("POST /api/v1/webhooks/invalidate-all", adminOnly(http.HandlerFunc(s.handleInvalidateAll)))
	mux.Handle("GET /api/v1/webhooks/cache-stats", adminOnly(http.HandlerFunc(s.handleCacheStats)))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"cache_connected": s.cache.Stats().Connected,
	})
}

// Run starts the HTTP server and blocks until the context is canceled
// or the server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	// Fresh context: the run context is already canceled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := s.httpServer.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
