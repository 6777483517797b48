// Package health provides health check endpoints for the API.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// DefaultReadyTimeout bounds a readiness probe.
const DefaultReadyTimeout = 5 * time.Second

// Checker defines the interface for health checkers.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Handler manages health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	sessions func() int
}

// NewHandler creates a new health handler.
func NewHandler() *Handler {
	return &Handler{
		checkers: make([]Checker, 0),
		timeout:  DefaultReadyTimeout,
	}
}

// RegisterChecker adds a dependency checker.
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// ReportSessions makes Health include the number of open sessions.
func (h *Handler) ReportSessions(count func() int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = count
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Sessions *int              `json:"sessions,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// Health returns basic health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}

	h.mu.RLock()
	if h.sessions != nil {
		n := h.sessions()
		resp.Sessions = &n
	}
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

// Live returns liveness probe status.
// Returns 200 if the process is running.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "live"})
}

// Ready returns readiness probe status.
// Checks all registered dependencies concurrently and returns 200 only if
// all are healthy.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checkers := make([]Checker, len(h.checkers))
	copy(checkers, h.checkers)
	h.mu.RUnlock()

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		results    = make(map[string]string, len(checkers))
		allHealthy = true
	)
	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			status := "ok"
			if err := c.Check(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			results[c.Name()] = status
			if status != "ok" {
				allHealthy = false
			}
			mu.Unlock()
		}(checker)
	}
	wg.Wait()

	resp := HealthResponse{
		Status: "ready",
		Checks: results,
	}
	status := http.StatusOK
	if !allHealthy {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
