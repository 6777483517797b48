package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
)

type sqliteInviteRepo struct {
	db   *sql.DB
	feed *changeFeed
}

const inviteColumns = `i.id, i.project_id, i.inviter_id, i.invitee_user_id, i.invitee_email,
	i.status, i.token, i.created_at, i.responded_at`

func (r *sqliteInviteRepo) Create(ctx context.Context, invite *models.Invite) error {
	query := `
		INSERT INTO invites (id, project_id, inviter_id, invitee_user_id, invitee_email, status, token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		invite.ID, invite.ProjectID, invite.InviterID,
		nullString(invite.InviteeUserID), nullString(invite.InviteeEmail),
		invite.Status, invite.Token, invite.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert invite: %w", err)
	}
	r.feed.emit(ctx, realtime.TableInvites, realtime.EventInsert, invite)
	return nil
}

func (r *sqliteInviteRepo) GetByID(ctx context.Context, id string) (*models.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM invites i WHERE i.id = ?`
	invite, err := scanInvite(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invite by id: %w", err)
	}
	return invite, nil
}

func (r *sqliteInviteRepo) FindPending(ctx context.Context, projectID, userID, email string) (*models.Invite, error) {
	query := `
		SELECT ` + inviteColumns + `
		FROM invites i
		WHERE i.project_id = ? AND i.status = 'pending'
			AND ((? <> '' AND i.invitee_user_id = ?) OR (? <> '' AND i.invitee_email = ?))
		ORDER BY i.created_at DESC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, projectID, userID, userID, email, email)
	invite, err := scanInvite(row)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending invite: %w", err)
	}
	return invite, nil
}

func (r *sqliteInviteRepo) ListPendingFor(ctx context.Context, userID, email string) ([]*models.PendingInvite, error) {
	query := `
		SELECT ` + inviteColumns + `, p.name, COALESCE(inviter.username, '')
		FROM invites i
		INNER JOIN projects p ON p.id = i.project_id
		LEFT JOIN profiles inviter ON inviter.id = i.inviter_id
		WHERE i.status = 'pending'
			AND ((? <> '' AND i.invitee_user_id = ?) OR (? <> '' AND i.invitee_email = ?))
		ORDER BY i.created_at DESC, i.rowid DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, userID, email, email)
	if err != nil {
		return nil, fmt.Errorf("list pending invites: %w", err)
	}
	defer rows.Close()

	var invites []*models.PendingInvite
	for rows.Next() {
		pending := &models.PendingInvite{}
		var userID, email sql.NullString
		var respondedAt sql.NullTime
		err := rows.Scan(
			&pending.ID, &pending.ProjectID, &pending.InviterID, &userID, &email,
			&pending.Status, &pending.Token, &pending.CreatedAt, &respondedAt,
			&pending.ProjectName, &pending.InviterUsername,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pending invite: %w", err)
		}
		fillInvite(&pending.Invite, userID, email, respondedAt)
		invites = append(invites, pending)
	}
	return invites, rows.Err()
}

func (r *sqliteInviteRepo) Respond(ctx context.Context, inviteID string, status models.InviteStatus, memberID string) (*models.Invite, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin respond invite: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + inviteColumns + ` FROM invites i WHERE i.id = ?`
	invite, err := scanInvite(tx.QueryRowContext(ctx, query, inviteID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invite for response: %w", err)
	}

	if invite.Status.IsTerminal() && invite.Status != status {
		return nil, ErrInviteClosed
	}

	updated := false
	if invite.Status == models.InvitePending {
		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			UPDATE invites SET status = ?, responded_at = ?
			WHERE id = ? AND status = 'pending'
		`, status, now, inviteID)
		if err != nil {
			return nil, fmt.Errorf("update invite status: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return nil, ErrInviteClosed
		}
		invite.Status = status
		invite.RespondedAt = &now
		updated = true
	}

	var membership *models.Membership
	if status == models.InviteAccepted {
		m := &models.Membership{
			ProjectID: invite.ProjectID,
			UserID:    memberID,
			Role:      models.RoleMember,
			CreatedAt: time.Now().UTC(),
		}
		inserted, err := insertMembership(ctx, tx, m)
		if err != nil {
			return nil, err
		}
		if inserted {
			membership = m
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit respond invite: %w", err)
	}

	if updated {
		r.feed.emit(ctx, realtime.TableInvites, realtime.EventUpdate, invite)
	}
	if membership != nil {
		r.feed.emit(ctx, realtime.TableMemberships, realtime.EventInsert, membership)
	}
	return invite, nil
}

func scanInvite(row rowScanner) (*models.Invite, error) {
	invite := &models.Invite{}
	var userID, email sql.NullString
	var respondedAt sql.NullTime
	err := row.Scan(
		&invite.ID, &invite.ProjectID, &invite.InviterID, &userID, &email,
		&invite.Status, &invite.Token, &invite.CreatedAt, &respondedAt,
	)
	if err != nil {
		return nil, err
	}
	fillInvite(invite, userID, email, respondedAt)
	return invite, nil
}

func fillInvite(invite *models.Invite, userID, email sql.NullString, respondedAt sql.NullTime) {
	invite.InviteeUserID = userID.String
	invite.InviteeEmail = email.String
	if respondedAt.Valid {
		t := respondedAt.Time
		invite.RespondedAt = &t
	}
}
