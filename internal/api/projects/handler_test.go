package projects

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"25", 25, false},
		{"1000", 1000, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"ten", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLimit(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLimit(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLimit(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

// Requests rejected before reaching the session need no session in context.
func TestHandler_RejectsBadRequests(t *testing.T) {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name    string
		handler http.HandlerFunc
		method  string
		target  string
		body    string
	}{
		{"create malformed", h.Create, "POST", "/projects", `{"name":`},
		{"create unknown field", h.Create, "POST", "/projects", `{"title":"Launch"}`},
		{"update empty patch", h.Update, "PATCH", "/projects/p1", `{}`},
		{"message bad tag", h.SendMessage, "POST", "/projects/p1/messages", `{"content":"hi","tag":"urgent"}`},
		{"entries bad limit", h.Entries, "GET", "/projects/p1/entries?limit=0", ``},
		{"invite malformed", h.Invite, "POST", "/projects/p1/invites", `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			tt.handler(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}
