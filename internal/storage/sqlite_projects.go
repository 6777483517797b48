package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
)

type sqliteProjectRepo struct {
	db   *sql.DB
	feed *changeFeed
}

const projectColumns = `p.id, p.name, p.description, p.owner_id, p.created_at, p.updated_at`

func (r *sqliteProjectRepo) CreateWithOwner(ctx context.Context, project *models.Project) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create project: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		project.ID, project.Name, project.Description, project.OwnerID,
		project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	membership := &models.Membership{
		ProjectID: project.ID,
		UserID:    project.OwnerID,
		Role:      models.RoleOwner,
		CreatedAt: project.CreatedAt,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
	`, membership.ProjectID, membership.UserID, membership.Role, membership.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create project: %w", err)
	}

	r.feed.emit(ctx, realtime.TableProjects, realtime.EventInsert, project)
	r.feed.emit(ctx, realtime.TableMemberships, realtime.EventInsert, membership)
	return nil
}

func (r *sqliteProjectRepo) GetByID(ctx context.Context, id string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects p WHERE p.id = ?`
	project, err := scanProject(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project by id: %w", err)
	}
	return project, nil
}

func (r *sqliteProjectRepo) Update(ctx context.Context, project *models.Project) error {
	query := `
		UPDATE projects SET name = ?, description = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		project.Name, project.Description, project.UpdatedAt,
		project.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	r.feed.emit(ctx, realtime.TableProjects, realtime.EventUpdate, project)
	return nil
}

func (r *sqliteProjectRepo) ListForUser(ctx context.Context, userID string) ([]*models.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects p
		INNER JOIN project_members pm ON p.id = pm.project_id
		WHERE pm.user_id = ?
		ORDER BY p.created_at DESC, p.rowid DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (r *sqliteProjectRepo) GetMembership(ctx context.Context, projectID, userID string) (*models.Membership, error) {
	query := `
		SELECT project_id, user_id, role, created_at
		FROM project_members WHERE project_id = ? AND user_id = ?
	`
	m := &models.Membership{}
	err := r.db.QueryRowContext(ctx, query, projectID, userID).Scan(
		&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (r *sqliteProjectRepo) AddMember(ctx context.Context, projectID, userID string, role models.Role) (bool, error) {
	m := &models.Membership{
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	inserted, err := insertMembership(ctx, r.db, m)
	if err != nil {
		return false, err
	}
	if inserted {
		r.feed.emit(ctx, realtime.TableMemberships, realtime.EventInsert, m)
	}
	return inserted, nil
}

func (r *sqliteProjectRepo) ListMembers(ctx context.Context, projectID string) ([]*models.Member, error) {
	query := `
		SELECT pm.user_id, COALESCE(pr.username, ''), COALESCE(pr.email, ''), pm.role
		FROM project_members pm
		LEFT JOIN profiles pr ON pr.id = pm.user_id
		WHERE pm.project_id = ?
		ORDER BY CASE pm.role WHEN 'owner' THEN 0 ELSE 1 END, pr.username
	`
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member := &models.Member{}
		if err := rows.Scan(&member.UserID, &member.Username, &member.Email, &member.Role); err != nil {
			return nil, fmt.Errorf("scan project member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (r *sqliteProjectRepo) RepairOwnerships(ctx context.Context) (int, error) {
	query := `
		INSERT INTO project_members (project_id, user_id, role, created_at)
		SELECT p.id, p.owner_id, 'owner', p.created_at
		FROM projects p
		WHERE NOT EXISTS (
			SELECT 1 FROM project_members pm
			WHERE pm.project_id = p.id AND pm.role = 'owner'
		)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = 'owner'
	`
	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("repair owner memberships: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertMembership inserts m unless the (project, user) row exists.
func insertMembership(ctx context.Context, db execer, m *models.Membership) (bool, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, m.ProjectID, m.UserID, m.Role, m.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert membership: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func scanProject(row rowScanner) (*models.Project, error) {
	project := &models.Project{}
	err := row.Scan(
		&project.ID, &project.Name, &project.Description, &project.OwnerID,
		&project.CreatedAt, &project.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return project, nil
}
