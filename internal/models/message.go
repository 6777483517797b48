package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/good-yellow-bee/katler/internal/apperr"
)

// MaxMessageLength bounds message content.
const MaxMessageLength = 4000

// Tag classifies a message.
type Tag string

const (
	TagNone     Tag = "none"
	TagDecision Tag = "decision"
	TagIdea     Tag = "idea"
	TagProblem  Tag = "problem"
)

// Tags lists every tag in display order.
var Tags = []Tag{TagNone, TagDecision, TagIdea, TagProblem}

// ParseTag converts a string to Tag. The empty string maps to TagNone.
func ParseTag(s string) (Tag, error) {
	switch Tag(strings.ToLower(strings.TrimSpace(s))) {
	case "", TagNone:
		return TagNone, nil
	case TagDecision:
		return TagDecision, nil
	case TagIdea:
		return TagIdea, nil
	case TagProblem:
		return TagProblem, nil
	default:
		return "", apperr.Validation("unknown tag %q", s)
	}
}

// ParseTagFilter converts a filter string; "" and "all" mean no filter.
func ParseTagFilter(s string) (*Tag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return nil, nil
	}
	tag, err := ParseTag(s)
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

// Message is immutable once created.
type Message struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Tag       Tag       `json:"tag"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(projectID, userID, content string, tag Tag) *Message {
	return &Message{
		ProjectID: projectID,
		UserID:    userID,
		Content:   content,
		Tag:       tag,
		CreatedAt: time.Now().UTC(),
	}
}

// ValidateMessageContent rejects empty, whitespace-only and oversized content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validation("message content is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return apperr.Validation("message content must be at most %d characters", MaxMessageLength)
	}
	return nil
}
