package models

import (
	"strings"
	"testing"

	"github.com/good-yellow-bee/katler/internal/apperr"
)

func TestParseTag(t *testing.T) {
	tests := []struct {
		input   string
		want    Tag
		wantErr bool
	}{
		{"", TagNone, false},
		{"none", TagNone, false},
		{"Decision", TagDecision, false},
		{" idea ", TagIdea, false},
		{"problem", TagProblem, false},
		{"urgent", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTag(tt.input)
			if tt.wantErr {
				if !apperr.IsKind(err, apperr.KindValidation) {
					t.Fatalf("ParseTag(%q) error = %v, want validation", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTag(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseTag(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTagFilter(t *testing.T) {
	for _, s := range []string{"", "all", "ALL"} {
		got, err := ParseTagFilter(s)
		if err != nil || got != nil {
			t.Errorf("ParseTagFilter(%q) = %v, %v; want nil filter", s, got, err)
		}
	}

	got, err := ParseTagFilter("idea")
	if err != nil || got == nil || *got != TagIdea {
		t.Errorf("ParseTagFilter(idea) = %v, %v", got, err)
	}

	if _, err := ParseTagFilter("bogus"); err == nil {
		t.Error("unknown filter should fail")
	}
}

func TestParseRoleAndStatus(t *testing.T) {
	if _, err := ParseRole("admin"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("ParseRole(admin) error = %v", err)
	}
	if r, err := ParseRole("owner"); err != nil || r != RoleOwner {
		t.Errorf("ParseRole(owner) = %v, %v", r, err)
	}
	if _, err := ParseInviteStatus("revoked"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("ParseInviteStatus(revoked) error = %v", err)
	}
	if InvitePending.IsTerminal() {
		t.Error("pending is not terminal")
	}
	if !InviteAccepted.IsTerminal() || !InviteDeclined.IsTerminal() {
		t.Error("accepted and declined are terminal")
	}
}

func TestValidateProjectName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "Launch", false},
		{"empty", "", true},
		{"whitespace", "   ", true},
		{"max length", strings.Repeat("a", MaxProjectNameLength), false},
		{"too long", strings.Repeat("a", MaxProjectNameLength+1), true},
		{"multibyte max length", strings.Repeat("界", MaxProjectNameLength), false},
		{"multibyte too long", strings.Repeat("界", MaxProjectNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProjectName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProjectName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"alice", false},
		{"a.b-c_9", false},
		{"ab", true},
		{strings.Repeat("x", MaxUsernameLength+1), true},
		{"has space", true},
		{"Alice", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}

	if got := NormalizeUsername("  @Alice "); got != "alice" {
		t.Errorf("NormalizeUsername = %q, want alice", got)
	}
}

func TestValidateMessageContent(t *testing.T) {
	if err := ValidateMessageContent("hello"); err != nil {
		t.Errorf("valid content: %v", err)
	}
	if err := ValidateMessageContent(" \n\t "); err == nil {
		t.Error("whitespace-only content should fail")
	}
	if err := ValidateMessageContent(strings.Repeat("x", MaxMessageLength+1)); err == nil {
		t.Error("oversized content should fail")
	}
	if err := ValidateMessageContent(strings.Repeat("界", MaxMessageLength)); err != nil {
		t.Errorf("content at the limit in characters: %v", err)
	}
	if err := ValidateMessageContent(strings.Repeat("界", MaxMessageLength+1)); err == nil {
		t.Error("multibyte content over the limit should fail")
	}
}

func TestInvite_AddressedTo(t *testing.T) {
	byID, err := NewInvite("p1", "owner", "u1", "")
	if err != nil {
		t.Fatalf("NewInvite: %v", err)
	}
	if !byID.AddressedTo(Principal{ID: "u1"}) {
		t.Error("user id invite should match its user")
	}
	if byID.AddressedTo(Principal{ID: "u2", Email: "u1@example.com"}) {
		t.Error("user id invite should not match by email")
	}

	byEmail, err := NewInvite("p1", "owner", "", "Alice@Example.com")
	if err != nil {
		t.Fatalf("NewInvite: %v", err)
	}
	if !byEmail.AddressedTo(Principal{ID: "x", Email: "ALICE@example.com"}) {
		t.Error("email invite should match case-insensitively")
	}
	if byEmail.AddressedTo(Principal{ID: "x", Email: ""}) {
		t.Error("empty email should never match")
	}
}

func TestNewInviteToken(t *testing.T) {
	a, err := NewInviteToken()
	if err != nil {
		t.Fatalf("NewInviteToken: %v", err)
	}
	b, _ := NewInviteToken()
	if a == b {
		t.Error("tokens should differ")
	}
	if len(a) != 43 {
		t.Errorf("token length = %d, want 43", len(a))
	}
}
