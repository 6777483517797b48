package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/good-yellow-bee/katler/internal/apperr"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", apperr.Validation("bad"), http.StatusBadRequest, apperr.CodeValidationFailed},
		{"username gate", apperr.ErrUsernameRequired, http.StatusBadRequest, apperr.CodeUsernameRequired},
		{"authorization", apperr.Authorization("no"), http.StatusForbidden, apperr.CodeForbidden},
		{"not found", fmt.Errorf("wrap: %w", apperr.NotFound("gone")), http.StatusNotFound, apperr.CodeNotFound},
		{"conflict", apperr.Conflict("taken"), http.StatusConflict, apperr.CodeConflict},
		{"transport", apperr.Transport(errors.New("secret dsn"), "load"), http.StatusServiceUnavailable, apperr.CodeUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
		{"api error", ErrRateLimited, http.StatusTooManyRequests, ErrCodeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got.Status != tt.status || got.Code != tt.code {
				t.Errorf("FromError() = %d %s, want %d %s", got.Status, got.Code, tt.status, tt.code)
			}
			if strings.Contains(got.Message, "secret dsn") {
				t.Error("transport cause leaked into the message")
			}
		})
	}
}

func TestFail_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	Fail(rec, req, logger, apperr.Conflict("already a member"))

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "CONFLICT" || body.Error.Message != "already a member" {
		t.Errorf("body = %+v", body)
	}
}
