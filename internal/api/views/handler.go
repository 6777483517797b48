// Package views serves the session view, its live stream and the view-only
// tag settings.
package views

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/good-yellow-bee/katler/internal/api/middleware"
	"github.com/good-yellow-bee/katler/internal/api/response"
	"github.com/good-yellow-bee/katler/internal/metrics"
	"github.com/good-yellow-bee/katler/internal/models"
)

// DefaultKeepalive is the interval between SSE keepalive comments.
const DefaultKeepalive = 15 * time.Second

// TagRequest is the body of PUT /session/tag and PUT /session/composer.
type TagRequest struct {
	Tag string `json:"tag"`
}

type Handler struct {
	logger    *slog.Logger
	keepalive time.Duration
}

func NewHandler(logger *slog.Logger, keepalive time.Duration) *Handler {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &Handler{logger: logger, keepalive: keepalive}
}

// View returns a snapshot of the caller's session.
func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	response.OK(w, middleware.GetSession(r.Context()).View())
}

// SetTagFilter narrows the transcript; "all" or "" clears the filter.
func (h *Handler) SetTagFilter(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	tag, err := models.ParseTagFilter(req.Tag)
	if err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}

	sess := middleware.GetSession(r.Context())
	if err := sess.SetTagFilter(r.Context(), tag); err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.OK(w, sess.View())
}

// SetComposerTag selects the tag the next message is sent with.
func (h *Handler) SetComposerTag(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}

	sess := middleware.GetSession(r.Context())
	if err := sess.SetComposerTag(models.Tag(req.Tag)); err != nil {
		response.Fail(w, r, h.logger, err)
		return
	}
	response.OK(w, sess.View())
}

// Stream pushes a "view" event with the full view after every change.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.JSONError(w, response.NewBadRequest("streaming unsupported"))
		return
	}

	sess := middleware.GetSession(r.Context())
	updates, detach := sess.AttachStream()
	defer detach()

	metrics.SSEClientsActive.Inc()
	defer metrics.SSEClientsActive.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sse := NewSSEWriter(w, flusher)
	if err := sse.SendRetry(3000); err != nil {
		return
	}
	if err := sse.SendJSON("view", sess.View()); err != nil {
		h.logger.Debug("view stream write failed", "error", err)
		return
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-updates:
			if err := sse.SendJSON("view", sess.View()); err != nil {
				h.logger.Debug("view stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := sse.SendComment("keepalive"); err != nil {
				return
			}
		}
	}
}
