package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/good-yellow-bee/katler/internal/storage"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func decode(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestReady(t *testing.T) {
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "health.db"), nil, nil)
	if err := store.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	h := NewHandler()
	h.RegisterChecker(NewSQLiteChecker(store.DB()))
	h.RegisterChecker(NewBrokerChecker("nats", pingFunc(func(context.Context) error { return nil })))

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest("GET", "/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode(t, rec)
	if resp.Checks["sqlite"] != "ok" || resp.Checks["nats"] != "ok" {
		t.Errorf("checks = %v", resp.Checks)
	}
}

func TestReady_Unhealthy(t *testing.T) {
	h := NewHandler()
	h.RegisterChecker(NewBrokerChecker("nats", pingFunc(func(context.Context) error {
		return errors.New("nats: connection closed")
	})))
	h.RegisterChecker(NewSQLiteChecker(nil))

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest("GET", "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	resp := decode(t, rec)
	if resp.Status != "not_ready" {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.Checks["nats"] != "nats: connection closed" {
		t.Errorf("nats check = %q", resp.Checks["nats"])
	}
	if resp.Checks["sqlite"] == "ok" {
		t.Error("nil database should not be healthy")
	}
}

func TestHealth_ReportsSessions(t *testing.T) {
	h := NewHandler()
	h.ReportSessions(func() int { return 3 })

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/health", nil))

	resp := decode(t, rec)
	if resp.Status != "ok" || resp.Sessions == nil || *resp.Sessions != 3 {
		t.Errorf("resp = %+v", resp)
	}
}
