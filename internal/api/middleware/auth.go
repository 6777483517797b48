package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/good-yellow-bee/katler/internal/api/auth"
	"github.com/good-yellow-bee/katler/internal/api/response"
	"github.com/good-yellow-bee/katler/internal/models"
)

// Context keys for storing request-scoped values.
type contextKey string

const (
	principalKey contextKey = "principal"
	sessionKey   contextKey = "session"
)

// JWTAuth returns middleware that validates bearer tokens and stores the
// principal in the request context.
func JWTAuth(jwtService *auth.JWTService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				response.JSONError(w, response.ErrInvalidToken)
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				logger.Debug("jwt auth failed", "remote_addr", r.RemoteAddr, "error", err)
				response.JSONError(w, response.ErrInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, claims.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header. EventSource
// clients cannot set headers, so the access_token query parameter is
// accepted as a fallback.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, true
		}
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetPrincipal returns the authenticated principal from context.
func GetPrincipal(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}

// GetUserID returns the authenticated user ID from context.
func GetUserID(ctx context.Context) string {
	p, _ := GetPrincipal(ctx)
	return p.ID
}
