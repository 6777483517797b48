// Package session composes the Katler core for one principal and exposes
// its commands and reactive view.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/katler/internal/apperr"
	"github.com/good-yellow-bee/katler/internal/audit"
	"github.com/good-yellow-bee/katler/internal/identity"
	"github.com/good-yellow-bee/katler/internal/membership"
	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
	"github.com/good-yellow-bee/katler/internal/registry"
	"github.com/good-yellow-bee/katler/internal/storage"
	"github.com/good-yellow-bee/katler/internal/stream"
)

// Deps are the shared components a session is built from.
type Deps struct {
	Identity *identity.Resolver
	Registry *registry.Registry
	Members  *membership.Manager
	Audit    *audit.Logger
	Messages storage.MessageRepository
	Broker   realtime.Subscriber
	Logger   *slog.Logger
}

// NewDeps wires the core components over one store and broker.
func NewDeps(store storage.Storage, broker realtime.Subscriber, logger *slog.Logger) Deps {
	resolver := identity.NewResolver(store.Profiles(), logger)
	return Deps{
		Identity: resolver,
		Registry: registry.New(store.Projects(), logger),
		Members:  membership.NewManager(store, resolver, logger),
		Audit:    audit.NewLogger(store.EntryLogs(), logger),
		Messages: store.Messages(),
		Broker:   broker,
		Logger:   logger,
	}
}

// View is a snapshot of everything the client renders.
type View struct {
	Profile       *models.Profile         `json:"profile"`
	NeedsUsername bool                    `json:"needs_username"`
	Projects      []*models.Project       `json:"projects"`
	ActiveProject *models.Project         `json:"active_project,omitempty"`
	StreamState   stream.State            `json:"stream_state"`
	TagFilter     string                  `json:"tag_filter"`
	ComposerTag   models.Tag              `json:"composer_tag"`
	Messages      []stream.MessageView    `json:"messages"`
	Invites       []*models.PendingInvite `json:"invites"`
	IsOwner       bool                    `json:"is_owner"`
	Members       []*models.Member        `json:"members,omitempty"`
	EntryLogs     []*models.EntryLog      `json:"entry_logs,omitempty"`
}

// Session is one principal's view of Katler. Commands are serialized.
type Session struct {
	deps      Deps
	principal models.Principal
	logger    *slog.Logger
	sync      *stream.Synchronizer

	ctx    context.Context
	cancel context.CancelFunc

	cmdMu sync.Mutex

	mu          sync.RWMutex
	profile     *models.Profile
	projects    []*models.Project
	activeID    string
	invites     []*models.PendingInvite
	composerTag models.Tag
	owner       bool
	members     []*models.Member
	entryLogs   []*models.EntryLog
	scopeWatch  []*realtime.Subscription
	watches     []*realtime.Subscription

	updates  chan struct{}
	lastSeen atomic.Int64
	closed   atomic.Bool

	streamMu sync.Mutex
	streams  map[chan struct{}]struct{}
}

// Open resolves the principal, loads its projects and invites and starts
// watching for invite and membership changes.
func Open(ctx context.Context, deps Deps, principal models.Principal) (*Session, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	profile, err := deps.Identity.ResolveProfile(ctx, principal)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		deps:        deps,
		principal:   principal,
		logger:      logger.With("user_id", principal.ID),
		sync:        stream.New(deps.Messages, deps.Broker, deps.Identity, logger),
		ctx:         sctx,
		cancel:      cancel,
		profile:     profile,
		composerTag: models.TagNone,
		updates:     make(chan struct{}, 1),
		streams:     make(map[chan struct{}]struct{}),
	}
	s.touch()
	s.sync.OnChange(s.signal)

	if err := s.refreshProjects(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.refreshInvites(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.watchPrincipal(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Debug("session opened")
	return s, nil
}

// Principal returns the session's principal.
func (s *Session) Principal() models.Principal {
	return s.principal
}

// Updates delivers a coalesced signal after every view change.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.touch()
	s.mu.RLock()
	v := View{
		Profile:       s.profile,
		NeedsUsername: !s.profile.HasUsername(),
		Projects:      s.projects,
		ComposerTag:   s.composerTag,
		Invites:       s.invites,
		IsOwner:       s.owner,
	}
	for _, p := range s.projects {
		if p.ID == s.activeID {
			v.ActiveProject = p
		}
	}
	if s.owner {
		v.Members = s.members
		v.EntryLogs = s.entryLogs
	}
	s.mu.RUnlock()

	v.StreamState = s.sync.State()
	v.Messages = s.sync.Messages()
	v.TagFilter = "all"
	if tag := s.sync.Tag(); tag != nil {
		v.TagFilter = string(*tag)
	}
	return v
}

// SetUsername assigns the principal's username.
func (s *Session) SetUsername(ctx context.Context, username string) (*models.Profile, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	s.touch()

	profile, err := s.deps.Identity.SetUsername(ctx, s.principal.ID, username)
	if err != nil {
		return nil, err
	}
	s.setProfile(profile)
	return profile, nil
}

// setProfile replaces the cached profile unless profile is older.
func (s *Session) setProfile(profile *models.Profile) {
	s.mu.Lock()
	if s.profile != nil && profile.UpdatedAt.Before(s.profile.UpdatedAt) {
		s.mu.Unlock()
		return
	}
	s.profile = profile
	s.mu.Unlock()
	s.signal()
}

// CreateProject creates a project owned by the principal and switches to it.
func (s *Session) CreateProject(ctx context.Context, name, description string) (*models.Project, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if err := s.gate(); err != nil {
		return nil, err
	}

	project, err := s.deps.Registry.Create(ctx, s.principal.ID, name, description)
	if err != nil {
		return nil, err
	}

	// The project is committed from here on. Activation failures leave it
	// visible but inactive and are not reported as a failed create.
	if err := s.refreshProjects(ctx); err != nil {
		s.logger.Warn("refresh projects after create failed", "project_id", project.ID, "error", err)
	}
	if err := s.switchLocked(ctx, project.ID); err != nil {
		s.logger.Warn("activate new project failed", "project_id", project.ID, "error", err)
		s.signal()
	}
	return project, nil
}

// UpdateProject applies patch to a project the principal owns.
func (s *Session) UpdateProject(ctx context.Context, projectID string, patch registry.Patch) (*models.Project, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if err := s.gate(); err != nil {
		return nil, err
	}

	project, err := s.deps.Registry.Update(ctx, projectID, s.principal.ID, patch)
	if err != nil {
		return nil, err
	}
	if err := s.refreshProjects(ctx); err != nil {
		return nil, err
	}
	return project, nil
}

// SwitchProject makes projectID the active project.
func (s *Session) SwitchProject(ctx context.Context, projectID string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if err := s.gate(); err != nil {
		return err
	}
	return s.switchLocked(ctx, projectID)
}

// SetTagFilter narrows the transcript to tag; nil shows all messages.
func (s *Session) SetTagFilter(ctx context.Context, tag *models.Tag) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if err := s.gate(); err != nil {
		return err
	}
	return s.sync.SetTag(ctx, tag)
}

// SetComposerTag selects the tag the next message is sent with.
func (s *Session) SetComposerTag(tag models.Tag) error {
	tag, err := models.ParseTag(string(tag))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.composerTag = tag
	s.mu.Unlock()
	s.signal()
	return nil
}

// SendMessage posts content to projectID. A nil tag uses the composer tag,
// which resets to none after a successful send.
func (s *Session) SendMessage(ctx context.Context, projectID, content string, tag *models.Tag) (*models.Message, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if err := s.gate(); err != nil {
		return nil, err
	}

	member, err := s.deps.Members.IsMember(ctx, projectID, s.principal.ID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperr.Authorization("not a member of this project")
	}

	s.mu.RLock()
	sendTag := s.composerTag
	s.mu.RUnlock()
	if tag != nil {
		sendTag = *tag
	}

	message, err := s.sync.Send(ctx, projectID, s.principal.ID, content, sendTag)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.composerTag = models.TagNone
	s.mu.Unlock()
	s.signal()
	return message, nil
}

// CreateInvite invites a username or email address to projectID.
func (s *Session) CreateInvite(ctx context.Context, projectID, identifier string) (*models.Invite, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if err := s.gate(); err != nil {
		return nil, err
	}
	return s.deps.Members.CreateInvite(ctx, projectID, s.principal.ID, identifier)
}

// RespondToInvite accepts or declines an invite. Accepting refreshes the
// project list.
func (s *Session) RespondToInvite(ctx context.Context, inviteID string, decision models.InviteStatus) (*models.Invite, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if err := s.gate(); err != nil {
		return nil, err
	}

	invite, err := s.deps.Members.RespondToInvite(ctx, inviteID, s.principal, decision)
	if err != nil {
		return nil, err
	}
	if err := s.refreshInvites(ctx); err != nil {
		return nil, err
	}
	if decision == models.InviteAccepted {
		if err := s.refreshProjects(ctx); err != nil {
			return nil, err
		}
	}
	return invite, nil
}

// ListInvites returns the principal's pending invites.
func (s *Session) ListInvites(ctx context.Context) ([]*models.PendingInvite, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if err := s.gate(); err != nil {
		return nil, err
	}
	if err := s.refreshInvites(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invites, nil
}

// ListProjects returns the projects the principal can see.
func (s *Session) ListProjects(ctx context.Context) ([]*models.Project, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if err := s.gate(); err != nil {
		return nil, err
	}
	if err := s.refreshProjects(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projects, nil
}

// Members lists a project's members. Owner only.
func (s *Session) Members(ctx context.Context, projectID string) ([]*models.Member, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	s.touch()
	return s.deps.Members.ListMembers(ctx, projectID, s.principal.ID)
}

// EntryLogs lists a project's recent entries. Owner only.
func (s *Session) EntryLogs(ctx context.Context, projectID string, limit int) ([]*models.EntryLog, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	s.touch()
	return s.deps.Members.ListEntryLogs(ctx, projectID, s.principal.ID, limit)
}

// Close tears down every subscription.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.sync.Close()
	s.mu.Lock()
	subs := append(s.watches, s.scopeWatch...)
	s.watches, s.scopeWatch = nil, nil
	s.mu.Unlock()
	closeAll(subs)
	s.logger.Debug("session closed")
}

func (s *Session) switchLocked(ctx context.Context, projectID string) error {
	s.touch()
	if _, err := s.deps.Registry.Get(ctx, projectID, s.principal.ID); err != nil {
		return err
	}

	s.deps.Audit.RecordEntry(ctx, projectID, s.principal.ID)

	if err := s.sync.Activate(ctx, projectID); err != nil {
		return err
	}

	owner, err := s.deps.Members.IsOwner(ctx, projectID, s.principal.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.activeID = projectID
	s.owner = owner
	s.members, s.entryLogs = nil, nil
	previous := s.scopeWatch
	s.scopeWatch = nil
	s.mu.Unlock()
	closeAll(previous)

	if owner {
		if err := s.refreshOwnerViews(ctx, projectID); err != nil {
			return err
		}
		if err := s.watchProject(ctx, projectID); err != nil {
			return err
		}
	}
	s.signal()
	return nil
}

func (s *Session) gate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return identity.RequireUsername(s.profile)
}

func (s *Session) refreshProjects(ctx context.Context) error {
	projects, err := s.deps.Registry.ListVisible(ctx, s.principal.ID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.projects = projects
	s.mu.Unlock()
	s.signal()
	return nil
}

func (s *Session) refreshInvites(ctx context.Context) error {
	invites, err := s.deps.Members.ListPendingInvitesFor(ctx, s.principal)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.invites = invites
	s.mu.Unlock()
	s.signal()
	return nil
}

func (s *Session) refreshOwnerViews(ctx context.Context, projectID string) error {
	members, err := s.deps.Members.ListMembers(ctx, projectID, s.principal.ID)
	if err != nil {
		return err
	}
	entries, err := s.deps.Members.ListEntryLogs(ctx, projectID, s.principal.ID, membership.DefaultEntryLogLimit)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.activeID == projectID {
		s.members = members
		s.entryLogs = entries
	}
	s.mu.Unlock()
	s.signal()
	return nil
}

// signal wakes the Updates consumer and every attached stream without
// blocking.
func (s *Session) signal() {
	notify(s.updates)
	s.streamMu.Lock()
	for ch := range s.streams {
		notify(ch)
	}
	s.streamMu.Unlock()
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// idleSince reports the last time the session was used.
func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// AttachStream registers a connected view stream. The channel receives a
// coalesced signal after every view change; the returned func detaches it.
// Sessions with an attached stream are never evicted.
func (s *Session) AttachStream() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.streamMu.Lock()
	s.streams[ch] = struct{}{}
	s.streamMu.Unlock()
	s.touch()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.streamMu.Lock()
			delete(s.streams, ch)
			s.streamMu.Unlock()
			s.touch()
		})
	}
}

func (s *Session) attachedStreams() int {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return len(s.streams)
}

func closeAll(subs []*realtime.Subscription) {
	for _, sub := range subs {
		sub.Close()
	}
}
