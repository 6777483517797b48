package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("alice") {
		t.Error("request beyond burst should be limited")
	}
	if !rl.Allow("bob") {
		t.Error("keys are limited independently")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	defer rl.Stop()

	rl.Allow("alice")
	rl.cleanup(time.Now().Add(time.Hour))

	rl.mu.Lock()
	n := len(rl.limiters)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("limiters = %d, want 0 after cleanup", n)
	}
}

func TestRateLimitByUser(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	defer rl.Stop()

	handler := RateLimitByUser(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 2)
	for i := range codes {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		codes[i] = rec.Code
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
}
