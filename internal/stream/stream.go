// Package stream keeps the message transcript of the active project in
// sync with the store.
//
// Every scope change (project switch or tag filter change) allocates a new
// scope token. The synchronizer subscribes to message inserts before it runs
// the historical fetch, buffers events that arrive while loading, and then
// merges them into the fetched working set. Every asynchronous continuation
// (fetch result, event delivery, author resolution) carries the token it
// was started under and is discarded when the token is no longer current.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/katler/internal/apperr"
	"github.com/good-yellow-bee/katler/internal/metrics"
	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
	"github.com/good-yellow-bee/katler/internal/storage"
)

// PendingAuthor is shown until the author's display name is resolved.
const PendingAuthor = "…"

// ErrClosed is returned by a synchronizer after Close.
var ErrClosed = errors.New("stream: synchronizer closed")

// State is the synchronizer's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLive    State = "live"
)

// MessageView is a message as rendered in the transcript.
type MessageView struct {
	models.Message
	Author string `json:"author"`
}

// AuthorResolver resolves user ids to display names.
type AuthorResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Synchronizer maintains the working set of messages for one session.
type Synchronizer struct {
	messages   storage.MessageRepository
	subscriber realtime.Subscriber
	authors    AuthorResolver
	logger     *slog.Logger

	// base bounds background work; cancelled by Close.
	base       context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	scope     uint64
	state     State
	projectID string
	tag       *models.Tag
	working   []MessageView
	seen      map[string]struct{}
	buffer    []models.Message
	sub       *realtime.Subscription
	stopPump  context.CancelFunc
	onChange  func()
	closed    bool
}

// New creates an idle synchronizer.
func New(messages storage.MessageRepository, subscriber realtime.Subscriber, authors AuthorResolver, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		messages:   messages,
		subscriber: subscriber,
		authors:    authors,
		logger:     logger,
		base:       base,
		baseCancel: cancel,
		state:      StateIdle,
		seen:       make(map[string]struct{}),
	}
}

// OnChange registers fn to be called after every visible state change.
// fn runs without the synchronizer's lock held.
func (s *Synchronizer) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Activate makes projectID the active scope under the current tag filter.
func (s *Synchronizer) Activate(ctx context.Context, projectID string) error {
	if projectID == "" {
		return apperr.Validation("project id is required")
	}
	s.mu.Lock()
	tag := s.tag
	s.mu.Unlock()
	return s.load(ctx, projectID, tag)
}

// SetTag changes the tag filter. A nil tag shows all messages. When a
// project is active the transcript is reloaded under the new filter.
func (s *Synchronizer) SetTag(ctx context.Context, tag *models.Tag) error {
	s.mu.Lock()
	projectID := s.projectID
	if projectID == "" {
		s.tag = tag
		s.mu.Unlock()
		s.notify()
		return nil
	}
	s.mu.Unlock()
	return s.load(ctx, projectID, tag)
}

// Deactivate tears down the subscription and clears the working set.
func (s *Synchronizer) Deactivate() {
	s.mu.Lock()
	s.scope++
	s.teardownLocked()
	s.state = StateIdle
	s.projectID = ""
	s.working = nil
	s.seen = make(map[string]struct{})
	s.mu.Unlock()
	s.notify()
}

// Close deactivates the synchronizer and stops background work.
func (s *Synchronizer) Close() {
	s.Deactivate()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.baseCancel()
}

// Messages returns a copy of the working set in display order.
func (s *Synchronizer) Messages() []MessageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MessageView, len(s.working))
	copy(out, s.working)
	return out
}

// State returns the lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Scope returns the current scope token.
func (s *Synchronizer) Scope() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// ProjectID returns the active project, or "" when idle.
func (s *Synchronizer) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// Tag returns the active tag filter, nil for all messages.
func (s *Synchronizer) Tag() *models.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tag
}

// Send validates and stores a message. The message is not appended
// locally; it becomes visible through the realtime round-trip.
func (s *Synchronizer) Send(ctx context.Context, projectID, userID, content string, tag models.Tag) (*models.Message, error) {
	if projectID == "" {
		return nil, apperr.Validation("project id is required")
	}
	if err := models.ValidateMessageContent(content); err != nil {
		return nil, err
	}
	tag, err := models.ParseTag(string(tag))
	if err != nil {
		return nil, err
	}

	message := models.NewMessage(projectID, userID, content, tag)
	message.ID = uuid.New().String()
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, apperr.Transport(err, "send message")
	}
	metrics.MessagesSentTotal.WithLabelValues(string(tag)).Inc()
	return message, nil
}

func (s *Synchronizer) load(ctx context.Context, projectID string, tag *models.Tag) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.scope++
	token := s.scope
	s.teardownLocked()
	prevProject, prevTag := s.projectID, s.tag
	s.projectID = projectID
	s.tag = tag
	s.state = StateLoading
	s.buffer = nil
	s.mu.Unlock()
	s.notify()

	sub, err := s.subscriber.Subscribe(ctx, messageFilter(projectID, tag))
	if err != nil {
		s.fail(token, prevProject, prevTag)
		return apperr.Transport(err, "subscribe to messages")
	}

	s.mu.Lock()
	if s.scope != token {
		s.mu.Unlock()
		sub.Close()
		return nil
	}
	pumpCtx, stop := context.WithCancel(s.base)
	s.sub = sub
	s.stopPump = stop
	s.mu.Unlock()
	go s.pump(pumpCtx, token, sub)

	start := time.Now()
	fetched, err := s.messages.List(ctx, storage.MessageFilter{ProjectID: projectID, Tag: tag})
	metrics.StreamFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StreamFetchErrors.Inc()
		if s.fail(token, prevProject, prevTag) {
			return apperr.Transport(err, "load messages")
		}
		return nil
	}

	s.mu.Lock()
	if s.scope != token {
		s.mu.Unlock()
		s.logger.Debug("discard stale fetch", "project_id", projectID, "scope", token)
		return nil
	}

	s.working = make([]MessageView, 0, len(fetched)+len(s.buffer))
	s.seen = make(map[string]struct{}, len(fetched)+len(s.buffer))
	for _, m := range fetched {
		s.appendLocked(*m)
	}
	for _, m := range s.buffer {
		if _, ok := s.seen[m.ID]; ok {
			metrics.StreamEventsTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		s.appendLocked(m)
	}
	s.buffer = nil
	s.state = StateLive
	authors := s.authorsLocked()
	s.mu.Unlock()

	s.notify()
	for _, userID := range authors {
		go s.resolveAuthor(token, userID)
	}
	return nil
}

// fail restores the previous scope after a failed load and reports whether
// token was still current.
func (s *Synchronizer) fail(token uint64, prevProject string, prevTag *models.Tag) bool {
	s.mu.Lock()
	if s.scope != token {
		s.mu.Unlock()
		return false
	}
	s.teardownLocked()
	s.buffer = nil
	s.projectID = prevProject
	s.tag = prevTag
	s.state = StateIdle
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Synchronizer) pump(ctx context.Context, token uint64, sub *realtime.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub.C():
			if !ok {
				return
			}
			s.handle(token, change)
		}
	}
}

// handle applies one realtime message event captured under token.
func (s *Synchronizer) handle(token uint64, change realtime.Change) {
	var m models.Message
	if err := change.Decode(&m); err != nil {
		s.logger.Warn("discard malformed message event", "error", err)
		return
	}

	s.mu.Lock()
	if s.scope != token || m.ProjectID != s.projectID {
		s.mu.Unlock()
		metrics.StreamEventsTotal.WithLabelValues("stale").Inc()
		return
	}

	switch s.state {
	case StateLoading:
		s.buffer = append(s.buffer, m)
		s.mu.Unlock()
		metrics.StreamEventsTotal.WithLabelValues("buffered").Inc()
		return
	case StateLive:
		if _, ok := s.seen[m.ID]; ok {
			s.mu.Unlock()
			metrics.StreamEventsTotal.WithLabelValues("duplicate").Inc()
			return
		}
		resolved := s.appendLocked(m)
		s.mu.Unlock()
		metrics.StreamEventsTotal.WithLabelValues("applied").Inc()
		s.notify()
		if !resolved {
			go s.resolveAuthor(token, m.UserID)
		}
	default:
		s.mu.Unlock()
		metrics.StreamEventsTotal.WithLabelValues("stale").Inc()
	}
}

// appendLocked adds m at the tail. It reuses a name already known in the
// working set and reports whether it did.
func (s *Synchronizer) appendLocked(m models.Message) bool {
	author := PendingAuthor
	for i := len(s.working) - 1; i >= 0; i-- {
		if s.working[i].UserID == m.UserID && s.working[i].Author != PendingAuthor {
			author = s.working[i].Author
			break
		}
	}
	s.working = append(s.working, MessageView{Message: m, Author: author})
	s.seen[m.ID] = struct{}{}
	return author != PendingAuthor
}

func (s *Synchronizer) authorsLocked() []string {
	var ids []string
	known := make(map[string]struct{})
	for _, v := range s.working {
		if v.Author != PendingAuthor {
			continue
		}
		if _, ok := known[v.UserID]; ok {
			continue
		}
		known[v.UserID] = struct{}{}
		ids = append(ids, v.UserID)
	}
	return ids
}

// resolveAuthor fills in the display name for userID. Failures leave the
// placeholder in place.
func (s *Synchronizer) resolveAuthor(token uint64, userID string) {
	if s.authors == nil {
		return
	}
	name, err := s.authors.DisplayName(s.base, userID)
	if err != nil {
		metrics.StreamAuthorLookupErrors.Inc()
		s.logger.Debug("resolve author failed", "user_id", userID, "error", err)
		return
	}

	s.mu.Lock()
	if s.scope != token {
		s.mu.Unlock()
		return
	}
	changed := false
	for i := range s.working {
		if s.working[i].UserID == userID && s.working[i].Author != name {
			s.working[i].Author = name
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Synchronizer) teardownLocked() {
	if s.stopPump != nil {
		s.stopPump()
		s.stopPump = nil
	}
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

func (s *Synchronizer) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// messageFilter selects inserts for projectID, narrowed to tag when set.
func messageFilter(projectID string, tag *models.Tag) realtime.Filter {
	return realtime.Filter{
		Table: realtime.TableMessages,
		Kinds: []realtime.EventKind{realtime.EventInsert},
		Predicate: func(c realtime.Change) bool {
			var row struct {
				ProjectID string     `json:"project_id"`
				Tag       models.Tag `json:"tag"`
			}
			if err := json.Unmarshal(c.Row, &row); err != nil {
				return false
			}
			if row.ProjectID != projectID {
				return false
			}
			return tag == nil || row.Tag == *tag
		},
	}
}
