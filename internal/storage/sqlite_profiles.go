package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/katler/internal/models"
	"github.com/good-yellow-bee/katler/internal/realtime"
)

type sqliteProfileRepo struct {
	db   *sql.DB
	feed *changeFeed
}

const profileColumns = `id, email, username, display_name, created_at, updated_at`

func (r *sqliteProfileRepo) Create(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (id, email, username, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		profile.ID, profile.Email, usernameValue(profile), profile.DisplayName,
		profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	r.feed.emit(ctx, realtime.TableProfiles, realtime.EventInsert, profile)
	return nil
}

func (r *sqliteProfileRepo) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile by id: %w", err)
	}
	return profile, nil
}

func (r *sqliteProfileRepo) GetByUsername(ctx context.Context, username string) (*models.Profile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE username = ?`, username)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile by username: %w", err)
	}
	return profile, nil
}

func (r *sqliteProfileRepo) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE email = ? ORDER BY created_at LIMIT 1`
	profile, err := scanProfile(r.db.QueryRowContext(ctx, query, email))
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile by email: %w", err)
	}
	return profile, nil
}

func (r *sqliteProfileRepo) Update(ctx context.Context, profile *models.Profile) error {
	query := `
		UPDATE profiles SET email = ?, username = ?, display_name = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		profile.Email, usernameValue(profile), profile.DisplayName, profile.UpdatedAt,
		profile.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update profile: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	r.feed.emit(ctx, realtime.TableProfiles, realtime.EventUpdate, profile)
	return nil
}

func usernameValue(p *models.Profile) sql.NullString {
	if p.Username == nil {
		return sql.NullString{}
	}
	return nullString(*p.Username)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	profile := &models.Profile{}
	var username sql.NullString
	err := row.Scan(
		&profile.ID, &profile.Email, &username, &profile.DisplayName,
		&profile.CreatedAt, &profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if username.Valid {
		name := username.String
		profile.Username = &name
	}
	return profile, nil
}
