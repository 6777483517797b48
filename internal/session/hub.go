package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/good-yellow-bee/katler/internal/metrics"
	"github.com/good-yellow-bee/katler/internal/models"
)

// DefaultIdleTTL is how long an unused session stays open.
const DefaultIdleTTL = 30 * time.Minute

// ErrHubClosed is returned by Get after Close.
var ErrHubClosed = errors.New("session: hub closed")

// Hub holds one session per principal.
type Hub struct {
	deps   Deps
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	opening  map[string]*opening
	closed   bool
}

// opening lets concurrent Get calls for one principal share a single Open.
type opening struct {
	done    chan struct{}
	session *Session
	err     error
}

// NewHub creates a hub. A non-positive ttl selects DefaultIdleTTL.
func NewHub(deps Deps, ttl time.Duration) *Hub {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		deps:     deps,
		ttl:      ttl,
		logger:   logger,
		sessions: make(map[string]*Session),
		opening:  make(map[string]*opening),
	}
}

// Get returns the principal's session, opening it on first use.
func (h *Hub) Get(ctx context.Context, principal models.Principal) (*Session, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if s, ok := h.sessions[principal.ID]; ok {
		h.mu.Unlock()
		s.touch()
		return s, nil
	}
	if op, ok := h.opening[principal.ID]; ok {
		h.mu.Unlock()
		select {
		case <-op.done:
			return op.session, op.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	op := &opening{done: make(chan struct{})}
	h.opening[principal.ID] = op
	h.mu.Unlock()

	op.session, op.err = Open(ctx, h.deps, principal)

	h.mu.Lock()
	delete(h.opening, principal.ID)
	if op.err == nil {
		if h.closed {
			op.session.Close()
			op.session, op.err = nil, ErrHubClosed
		} else {
			h.sessions[principal.ID] = op.session
			metrics.SessionsActive.Set(float64(len(h.sessions)))
		}
	}
	h.mu.Unlock()
	close(op.done)
	return op.session, op.err
}

// Len returns the number of open sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Run evicts idle sessions until ctx is done, then closes all sessions.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case now := <-ticker.C:
			h.Evict(now)
		}
	}
}

// Evict closes sessions idle for longer than the TTL with no attached
// view stream and returns how many were closed.
func (h *Hub) Evict(now time.Time) int {
	h.mu.Lock()
	var idle []*Session
	for id, s := range h.sessions {
		if s.attachedStreams() > 0 || now.Sub(s.idleSince()) < h.ttl {
			continue
		}
		idle = append(idle, s)
		delete(h.sessions, id)
	}
	metrics.SessionsActive.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	for _, s := range idle {
		s.Close()
		metrics.SessionsEvictedTotal.Inc()
		h.logger.Debug("session evicted", "user_id", s.principal.ID)
	}
	return len(idle)
}

// Close closes every session. Further Get calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	metrics.SessionsActive.Set(0)
}
