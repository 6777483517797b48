// Package storage provides the durable row store the Katler core runs on.
//
// Every collection has its own repository. Composite writes that must look
// atomic to readers (project + owner membership, invite acceptance +
// membership) run inside a single transaction. After each commit the store
// publishes the written rows to the realtime change feed.
package storage

import (
	"context"
	"errors"

	"github.com/good-yellow-bee/katler/internal/models"
)

var (
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("storage: duplicate row")
	// ErrNotFound is returned by writes that target a missing row.
	ErrNotFound = errors.New("storage: row not found")
	// ErrInviteClosed is returned when responding to an invite that is
	// already in a different terminal state.
	ErrInviteClosed = errors.New("storage: invite already answered")
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	Profiles() ProfileRepository
	Projects() ProjectRepository
	Invites() InviteRepository
	Messages() MessageRepository
	EntryLogs() EntryLogRepository
}

// ProfileRepository defines operations on principal profiles.
// Lookups return (nil, nil) when the row does not exist.
type ProfileRepository interface {
	Create(ctx context.Context, profile *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	GetByUsername(ctx context.Context, username string) (*models.Profile, error)
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)
	Update(ctx context.Context, profile *models.Profile) error
}

// ProjectRepository defines operations on projects and their memberships.
type ProjectRepository interface {
	// CreateWithOwner inserts the project and the owner's membership row
	// in one transaction.
	CreateWithOwner(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id string) (*models.Project, error)
	Update(ctx context.Context, project *models.Project) error
	// ListForUser returns projects the user is a member of, newest first.
	ListForUser(ctx context.Context, userID string) ([]*models.Project, error)
	GetMembership(ctx context.Context, projectID, userID string) (*models.Membership, error)
	// AddMember inserts a membership row unless one already exists and
	// reports whether a row was inserted.
	AddMember(ctx context.Context, projectID, userID string, role models.Role) (bool, error)
	ListMembers(ctx context.Context, projectID string) ([]*models.Member, error)
	// RepairOwnerships inserts missing owner membership rows.
	RepairOwnerships(ctx context.Context) (int, error)
}

// InviteRepository defines operations on invites.
type InviteRepository interface {
	Create(ctx context.Context, invite *models.Invite) error
	GetByID(ctx context.Context, id string) (*models.Invite, error)
	// FindPending returns a pending invite to the project addressed to the
	// user id or the email, if any.
	FindPending(ctx context.Context, projectID, userID, email string) (*models.Invite, error)
	// ListPendingFor unions pending invites addressed to userID or email.
	ListPendingFor(ctx context.Context, userID, email string) ([]*models.PendingInvite, error)
	// Respond moves a pending invite to status. On acceptance the
	// member row for memberID is inserted in the same transaction. A
	// repeated response with the same status is a no-op that still
	// returns the invite; any other terminal state yields ErrInviteClosed.
	Respond(ctx context.Context, inviteID string, status models.InviteStatus, memberID string) (*models.Invite, error)
}

// MessageFilter selects messages for a historical fetch.
type MessageFilter struct {
	ProjectID string
	Tag       *models.Tag
}

// MessageRepository defines operations on messages.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	// List returns matching messages ordered by creation time, ties broken
	// by insertion order.
	List(ctx context.Context, filter MessageFilter) ([]*models.Message, error)
}

// EntryLogRepository defines operations on the project entry audit log.
type EntryLogRepository interface {
	Create(ctx context.Context, entry *models.EntryLog) error
	// ListRecent returns the newest limit entries for the project.
	ListRecent(ctx context.Context, projectID string, limit int) ([]*models.EntryLog, error)
}
