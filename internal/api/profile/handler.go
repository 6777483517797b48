// Package profile serves the caller's own profile.
package profile

import (
	"log/slog"
	"net/http"

	"github.com/good-yellow-bee/katler/internal/api/middleware"
	"github.com/good-yellow-bee/katler/internal/api/response"
	"github.com/good-yellow-bee/katler/internal/models"
)

// Response is the caller's profile.
type Response struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username,omitempty"`
	NeedsUsername bool   `json:"needs_username"`
}

// SetUsernameRequest is the body of PUT /me/username.
type SetUsernameRequest struct {
	Username string `json:"username"`
}

type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Me returns the caller's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	response.OK(w, toResponse(sess.View().Profile))
}

// SetUsername assigns the caller's username.
func (h *Handler) SetUsername(w http.ResponseWriter, r *http.Request) {
	var req SetUsernameRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}

	sess := middleware.GetSession(r.Context())
	p, err := sess.SetUsername(r.Context(), req.Username)
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.OK(w, toResponse(p))
}

func toResponse(p *models.Profile) *Response {
	return &Response{
		ID:            p.ID,
		Email:         p.Email,
		Username:      p.Handle(),
		NeedsUsername: !p.HasUsername(),
	}
}
