// Package invites serves the caller's pending invites.
package invites

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/katler/internal/api/middleware"
	"github.com/good-yellow-bee/katler/internal/api/response"
	"github.com/good-yellow-bee/katler/internal/models"
)

// RespondRequest is the body of POST /invites/{id}/respond.
type RespondRequest struct {
	Decision string `json:"decision"`
}

type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// List returns the invites addressed to the caller that are still pending.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	invites, err := sess.ListInvites(r.Context())
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.OK(w, invites)
}

// Respond accepts or declines an invite.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	decision, err := models.ParseInviteStatus(req.Decision)
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}

	sess := middleware.GetSession(r.Context())
	invite, err := sess.RespondToInvite(r.Context(), chi.URLParam(r, "id"), decision)
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.OK(w, invite)
}
