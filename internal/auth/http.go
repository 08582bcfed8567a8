// ABOUTME: HTTP middleware for agent and admin authentication on API endpoints
// ABOUTME: Extracts bearer tokens from Authorization headers and adds the agent to context

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// AgentMiddleware creates an HTTP middleware that authenticates requests as
// agents via their API key. Status mapping: missing header 401, bad format
// 403, anything else 401 with a uniform body that does not reveal whether
// the key was unknown or expired.
func AgentMiddleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			agent, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrInvalidFormat) {
					http.Error(w, `{"error":"invalid API key format"}`, http.StatusForbidden)
					return
				}
				http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAgent(r.Context(), agent)))
		})
	}
}

// AdminMiddleware creates an HTTP middleware that requires the admin API key.
func AdminMiddleware(verifier *AdminVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			switch err := verifier.Verify(token); {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, ErrAdminNotConfigured):
				http.Error(w, `{"error":"admin authentication not configured"}`, http.StatusNotImplemented)
			default:
				http.Error(w, `{"error":"invalid admin token"}`, http.StatusForbidden)
			}
		})
	}
}
