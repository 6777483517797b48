package models

import "time"

// EntryLog records one activation of a project by a user.
type EntryLog struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	EnteredAt time.Time `json:"entered_at"`
}

// NewEntryLog creates an entry stamped with the current time.
func NewEntryLog(projectID, userID string) *EntryLog {
	return &EntryLog{
		ProjectID: projectID,
		UserID:    userID,
		EnteredAt: time.Now().UTC(),
	}
}
