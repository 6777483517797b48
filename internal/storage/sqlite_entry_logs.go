package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
)

type sqliteEntryLogRepo struct {
	db   *sql.DB
	feed *changeFeed
}

func (r *sqliteEntryLogRepo) Create(ctx context.Context, entry *models.EntryLog) error {
	query := `
		INSERT INTO entry_logs (id, project_id, user_id, entered_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, entry.ID, entry.ProjectID, entry.UserID, entry.EnteredAt)
	if err != nil {
		return fmt.Errorf("insert entry log: %w", err)
	}
	r.feed.emit(ctx, realtime.TableEntryLogs, realtime.EventInsert, entry)
	return nil
}

func (r *sqliteEntryLogRepo) ListRecent(ctx context.Context, projectID string, limit int) ([]*models.EntryLog, error) {
	query := `
		SELECT e.id, e.project_id, e.user_id, COALESCE(p.username, ''), e.entered_at
		FROM entry_logs e
		LEFT JOIN profiles p ON p.id = e.user_id
		WHERE e.project_id = ?
		ORDER BY e.entered_at DESC, e.rowid DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entry logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.EntryLog
	for rows.Next() {
		e := &models.EntryLog{}
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.UserID, &e.Username, &e.EnteredAt); err != nil {
			return nil, fmt.Errorf("scan entry log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
