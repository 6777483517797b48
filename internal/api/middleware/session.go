package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/good-yellow-bee/katler/internal/api/response"
	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/session"
)

// SessionProvider opens or returns the session of a principal.
type SessionProvider interface {
	Get(ctx context.Context, principal models.Principal) (*session.Session, error)
}

// Sessions returns middleware that attaches the principal's session to the
// request context. It must run after JWTAuth.
func Sessions(hub SessionProvider, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := GetPrincipal(r.Context())
			if !ok {
				response.JSONError(w, response.ErrInvalidToken)
				return
			}

			sess, err := hub.Get(r.Context(), principal)
			if err != nil {
				response.Fail(w, r, logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession returns the session attached by Sessions.
func GetSession(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}
