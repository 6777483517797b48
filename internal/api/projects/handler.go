// Package projects serves project, message, member and invite endpoints
// scoped to one project.
package projects

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/katler/internal/api/middleware"
	"github.com/good-yellow-bee/katler/internal/api/response"
	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/registry"
)

// Request types
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type SendMessageRequest struct {
	Content string  `json:"content"`
	Tag     *string `json:"tag,omitempty"`
}

type InviteRequest struct {
	Identifier string `json:"identifier"`
}

type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// List returns the projects the caller belongs to, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	projects, err := sess.ListProjects(r.Context())
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.OK(w, projects)
}

// Create creates a project owned by the caller and activates it.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}

	sess := middleware.GetSession(r.Context())
	project, err := sess.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.Created(w, project)
}

// Update renames or re-describes a project. Owner only.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	if req.Name == nil && req.Description == nil {
		response.JSONError(w, response.NewBadRequest("nothing to update"))
		return
	}

	sess := middleware.GetSession(r.Context())
	project, err := sess.UpdateProject(r.Context(), chi.URLParam(r, "id"), registry.Patch{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.OK(w, project)
}

// Activate makes the project the caller's active project and returns the
// resulting view.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	if err := sess.SwitchProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.OK(w, sess.View())
}

// SendMessage posts a message. Without a tag the composer tag is used.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}

	var tag *models.Tag
	if req.Tag != nil {
		t, err := models.ParseTag(*req.Tag)
		if err != nil {
			response.Fail(w, r, h.logger, err)
			return
		}
		tag = &t
	}

	sess := middleware.GetSession(r.Context())
	message, err := sess.SendMessage(r.Context(), chi.URLParam(r, "id"), req.Content, tag)
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.Created(w, message)
}

// Members lists the project's members. Owner only.
func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	members, err := sess.Members(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.OK(w, members)
}

// Entries lists recent project entries, newest first. Owner only.
func (h *Handler) Entries(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		response.JSONError(w, response.NewBadRequest(err.Error()))
		return
	}

	sess := middleware.GetSession(r.Context())
	entries, err := sess.EntryLogs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.OK(w, entries)
}

// Invite invites a username or email address. Owner only.
func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}

	sess := middleware.GetSession(r.Context())
	invite, err := sess.CreateInvite(r.Context(), chi.URLParam(r, "id"), req.Identifier)
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.Created(w, invite)
}
