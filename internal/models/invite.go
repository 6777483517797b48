package models

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/good-yellow-bee/katler/internal/apperr"
)

// InviteStatus is the lifecycle state of an invite.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
)

// ParseInviteStatus converts a string to InviteStatus.
func ParseInviteStatus(s string) (InviteStatus, error) {
	switch InviteStatus(s) {
	case InvitePending, InviteAccepted, InviteDeclined:
		return InviteStatus(s), nil
	default:
		return "", apperr.Validation("unknown invite status %q", s)
	}
}

// IsTerminal reports whether no further transition is permitted.
func (s InviteStatus) IsTerminal() bool {
	return s == InviteAccepted || s == InviteDeclined
}

// Invite addresses exactly one of InviteeUserID or InviteeEmail.
type Invite struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	InviterID     string       `json:"inviter_id"`
	InviteeUserID string       `json:"invitee_user_id,omitempty"`
	InviteeEmail  string       `json:"invitee_email,omitempty"`
	Status        InviteStatus `json:"status"`
	Token         string       `json:"-"`
	CreatedAt     time.Time    `json:"created_at"`
	RespondedAt   *time.Time   `json:"responded_at,omitempty"`
}

// NewInvite creates a pending invite with a fresh opaque token.
func NewInvite(projectID, inviterID, inviteeUserID, inviteeEmail string) (*Invite, error) {
	token, err := NewInviteToken()
	if err != nil {
		return nil, err
	}
	return &Invite{
		ProjectID:     projectID,
		InviterID:     inviterID,
		InviteeUserID: inviteeUserID,
		InviteeEmail:  NormalizeEmail(inviteeEmail),
		Status:        InvitePending,
		Token:         token,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// NewInviteToken returns 32 random bytes encoded as base64url.
func NewInviteToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AddressedTo reports whether the principal is the invite's addressee.
// The user id wins when set; the email is only consulted otherwise.
func (i *Invite) AddressedTo(p Principal) bool {
	if i.InviteeUserID != "" {
		return i.InviteeUserID == p.ID
	}
	return i.InviteeEmail != "" && i.InviteeEmail == NormalizeEmail(p.Email)
}

// PendingInvite is an invite joined with its project name for display.
type PendingInvite struct {
	Invite
	ProjectName     string `json:"project_name"`
	InviterUsername string `json:"inviter_username,omitempty"`
}
