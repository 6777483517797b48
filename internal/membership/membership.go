// Package membership owns project membership rows, the invite state
// machine and the owner-only views of a project.
package membership

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/katler/internal/apperr"
	"github.com/good-yellow-bee/katler/internal/metrics"
	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/storage"
)

// Entry log limits.
const (
	DefaultEntryLogLimit = 50
	MaxEntryLogLimit     = 500
)

// ProfileLookup resolves username references in invites.
type ProfileLookup interface {
	LookupByUsername(ctx context.Context, username string) (*models.Profile, error)
}

// Manager is the membership and invite manager.
type Manager struct {
	projects  storage.ProjectRepository
	invites   storage.InviteRepository
	entryLogs storage.EntryLogRepository
	accounts  storage.ProfileRepository
	profiles  ProfileLookup
	logger    *slog.Logger
}

// NewManager creates a manager over the store.
func NewManager(store storage.Storage, profiles ProfileLookup, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		projects:  store.Projects(),
		invites:   store.Invites(),
		entryLogs: store.EntryLogs(),
		accounts:  store.Profiles(),
		profiles:  profiles,
		logger:    logger,
	}
}

// IsOwner reports whether userID holds the owner role in the project.
func (m *Manager) IsOwner(ctx context.Context, projectID, userID string) (bool, error) {
	membership, err := m.projects.GetMembership(ctx, projectID, userID)
	if err != nil {
		return false, apperr.Transport(err, "check membership")
	}
	return membership != nil && membership.Role == models.RoleOwner, nil
}

// IsMember reports whether userID has any membership row in the project.
func (m *Manager) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	membership, err := m.projects.GetMembership(ctx, projectID, userID)
	if err != nil {
		return false, apperr.Transport(err, "check membership")
	}
	return membership != nil, nil
}

// CreateInvite invites identifier to the project. An identifier with an
// "@" after its first character is an email address; anything else is a
// username, with an optional leading "@".
func (m *Manager) CreateInvite(ctx context.Context, projectID, inviterID, identifier string) (*models.Invite, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperr.Validation("invitee is required")
	}

	project, err := m.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, apperr.Transport(err, "load project")
	}
	if project == nil {
		return nil, apperr.NotFound("project not found")
	}
	if err := m.requireOwner(ctx, projectID, inviterID); err != nil {
		return nil, err
	}

	var inviteeUserID, inviteeEmail string
	if strings.Contains(identifier[1:], "@") {
		addr, err := mail.ParseAddress(identifier)
		if err != nil || addr.Name != "" {
			return nil, apperr.Validation("invalid email address %q", identifier)
		}
		inviteeEmail = models.NormalizeEmail(addr.Address)
		known, err := m.accounts.GetByEmail(ctx, inviteeEmail)
		if err != nil {
			return nil, apperr.Transport(err, "lookup email")
		}
		if known != nil {
			if err := m.rejectMember(ctx, projectID, known.ID, inviteeEmail); err != nil {
				return nil, err
			}
		}
	} else {
		profile, err := m.profiles.LookupByUsername(ctx, identifier)
		if err != nil {
			return nil, err
		}
		inviteeUserID = profile.ID
		if err := m.rejectMember(ctx, projectID, profile.ID, profile.Handle()); err != nil {
			return nil, err
		}
	}

	existing, err := m.invites.FindPending(ctx, projectID, inviteeUserID, inviteeEmail)
	if err != nil {
		return nil, apperr.Transport(err, "check pending invites")
	}
	if existing != nil {
		return nil, apperr.Conflict("an invite is already pending for %s", identifier)
	}

	invite, err := models.NewInvite(projectID, inviterID, inviteeUserID, inviteeEmail)
	if err != nil {
		return nil, apperr.Transport(err, "generate invite token")
	}
	invite.ID = uuid.New().String()

	if err := m.invites.Create(ctx, invite); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflict("invite token collision, try again")
		}
		return nil, apperr.Transport(err, "create invite")
	}

	m.logger.Info("invite created",
		"invite_id", invite.ID,
		"project_id", projectID,
		"inviter_id", inviterID,
	)
	return invite, nil
}

// RespondToInvite accepts or declines an invite on behalf of its addressee.
func (m *Manager) RespondToInvite(ctx context.Context, inviteID string, responder models.Principal, decision models.InviteStatus) (*models.Invite, error) {
	if !decision.IsTerminal() {
		return nil, apperr.Validation("decision must be accepted or declined")
	}

	invite, err := m.invites.GetByID(ctx, inviteID)
	if err != nil {
		return nil, apperr.Transport(err, "load invite")
	}
	if invite == nil {
		return nil, apperr.NotFound("invite not found")
	}
	if !invite.AddressedTo(responder) {
		return nil, apperr.Authorization("this invite is addressed to someone else")
	}

	invite, err = m.invites.Respond(ctx, inviteID, decision, responder.ID)
	switch {
	case errors.Is(err, storage.ErrInviteClosed):
		return nil, apperr.Conflict("invite was already answered")
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperr.NotFound("invite not found")
	case err != nil:
		return nil, apperr.Transport(err, "respond to invite")
	}

	metrics.InvitesRespondedTotal.WithLabelValues(string(decision)).Inc()
	m.logger.Info("invite answered",
		"invite_id", inviteID,
		"project_id", invite.ProjectID,
		"user_id", responder.ID,
		"decision", decision,
	)
	return invite, nil
}

// ListPendingInvitesFor returns pending invites addressed to the principal's
// id or email, newest first.
func (m *Manager) ListPendingInvitesFor(ctx context.Context, principal models.Principal) ([]*models.PendingInvite, error) {
	invites, err := m.invites.ListPendingFor(ctx, principal.ID, models.NormalizeEmail(principal.Email))
	if err != nil {
		return nil, apperr.Transport(err, "list pending invites")
	}
	if invites == nil {
		invites = []*models.PendingInvite{}
	}
	return invites, nil
}

// ListMembers returns the project's members. Owner only.
func (m *Manager) ListMembers(ctx context.Context, projectID, requesterID string) ([]*models.Member, error) {
	if err := m.requireOwner(ctx, projectID, requesterID); err != nil {
		return nil, err
	}
	members, err := m.projects.ListMembers(ctx, projectID)
	if err != nil {
		return nil, apperr.Transport(err, "list members")
	}
	return members, nil
}

// ListEntryLogs returns the most recent entries for the project. Owner only.
// A non-positive limit selects the default; larger limits are clamped.
func (m *Manager) ListEntryLogs(ctx context.Context, projectID, requesterID string, limit int) ([]*models.EntryLog, error) {
	if err := m.requireOwner(ctx, projectID, requesterID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultEntryLogLimit
	}
	if limit > MaxEntryLogLimit {
		limit = MaxEntryLogLimit
	}
	entries, err := m.entryLogs.ListRecent(ctx, projectID, limit)
	if err != nil {
		return nil, apperr.Transport(err, "list entry logs")
	}
	if entries == nil {
		entries = []*models.EntryLog{}
	}
	return entries, nil
}

func (m *Manager) rejectMember(ctx context.Context, projectID, userID, label string) error {
	member, err := m.IsMember(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if member {
		return apperr.Conflict("%s is already a member", label)
	}
	return nil
}

func (m *Manager) requireOwner(ctx context.Context, projectID, userID string) error {
	owner, err := m.IsOwner(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !owner {
		return apperr.Authorization("only the project owner can do this")
	}
	return nil
}
