package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
)

type sqliteMessageRepo struct {
	db   *sql.DB
	feed *changeFeed
}

func (r *sqliteMessageRepo) Create(ctx context.Context, message *models.Message) error {
	query := `
		INSERT INTO messages (id, project_id, user_id, content, tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		message.ID, message.ProjectID, message.UserID, message.Content,
		message.Tag, message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	r.feed.emit(ctx, realtime.TableMessages, realtime.EventInsert, message)
	return nil
}

func (r *sqliteMessageRepo) List(ctx context.Context, filter MessageFilter) ([]*models.Message, error) {
	query := `
		SELECT id, project_id, user_id, content, tag, created_at
		FROM messages
		WHERE project_id = ?
	`
	args := []any{filter.ProjectID}
	if filter.Tag != nil {
		query += " AND tag = ?"
		args = append(args, *filter.Tag)
	}
	query += " ORDER BY created_at ASC, rowid ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := &models.Message{}
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Content, &m.Tag, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
