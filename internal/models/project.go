package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/good-yellow-bee/katler/internal/apperr"
)

// MaxProjectNameLength bounds project names.
const MaxProjectNameLength = 80

// Project is a topic channel owned by exactly one principal.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewProject creates a new Project with initialized timestamps.
func NewProject(ownerID, name, description string) *Project {
	now := time.Now().UTC()
	return &Project{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidateProjectName checks a (trimmed) project name.
func ValidateProjectName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation("project name is required")
	}
	if utf8.RuneCountInString(name) > MaxProjectNameLength {
		return apperr.Validation("project name must be at most %d characters", MaxProjectNameLength)
	}
	return nil
}

// Role is a principal's standing within a project.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// ParseRole converts a string to Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleMember:
		return Role(s), nil
	default:
		return "", apperr.Validation("unknown role %q", s)
	}
}

// Membership is a (project, user) row. At most one exists per pair.
type Membership struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is a membership joined with the member's profile.
type Member struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}
