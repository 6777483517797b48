// Package audit records project entries. Recording is best effort: a
// failed write is logged and counted but never fails the caller.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/katler/internal/metrics"
	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/storage"
)

// Logger is the entry audit logger.
type Logger struct {
	entries storage.EntryLogRepository
	logger  *slog.Logger
}

// NewLogger creates an audit logger.
func NewLogger(entries storage.EntryLogRepository, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{entries: entries, logger: logger}
}

// RecordEntry appends an entry for userID activating projectID.
// Every activation is recorded, repeats included.
func (l *Logger) RecordEntry(ctx context.Context, projectID, userID string) {
	entry := models.NewEntryLog(projectID, userID)
	entry.ID = uuid.New().String()

	if err := l.entries.Create(ctx, entry); err != nil {
		metrics.AuditEntryFailures.Inc()
		l.logger.Warn("record project entry failed",
			"project_id", projectID,
			"user_id", userID,
			"error", err,
		)
		return
	}
	metrics.AuditEntriesTotal.Inc()
}
