package models

import (
	"strings"
	"time"

	"github.com/good-yellow-bee/katler/internal/apperr"
)

// Username length bounds.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
)

// Profile is the display identity of an authenticated principal.
// Username stays nil until the principal picks one.
type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Username    *string   `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewProfile creates a profile without a username.
func NewProfile(id, email string) *Profile {
	now := time.Now().UTC()
	return &Profile{
		ID:        id,
		Email:     NormalizeEmail(email),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasUsername reports whether the username gate has been passed.
func (p *Profile) HasUsername() bool {
	return p != nil && p.Username != nil && *p.Username != ""
}

// Handle returns the username, or "" when unset.
func (p *Profile) Handle() string {
	if !p.HasUsername() {
		return ""
	}
	return *p.Username
}

// Principal is an authenticated actor.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// NormalizeUsername trims, lower-cases and strips a leading "@".
func NormalizeUsername(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(s)
}

// ValidateUsername checks a normalized username.
func ValidateUsername(s string) error {
	if len(s) < MinUsernameLength || len(s) > MaxUsernameLength {
		return apperr.Validation("username must be %d-%d characters", MinUsernameLength, MaxUsernameLength)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
		default:
			return apperr.Validation("username may only contain a-z, 0-9, '_', '.' and '-'")
		}
	}
	return nil
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
