package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Profiles: one per authenticated principal, username set later
			CREATE TABLE IF NOT EXISTS profiles (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL DEFAULT '',
				username TEXT UNIQUE,
				display_name TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Projects table
			CREATE TABLE IF NOT EXISTS projects (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				owner_id TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY (owner_id) REFERENCES profiles(id)
			);

			-- Project-member junction table, one row per (project, user)
			CREATE TABLE IF NOT EXISTS project_members (
				project_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				role TEXT NOT NULL CHECK (role IN ('owner', 'member')),
				created_at DATETIME NOT NULL,
				PRIMARY KEY (project_id, user_id),
				FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
				FOREIGN KEY (user_id) REFERENCES profiles(id)
			);

			-- Invites address exactly one of invitee_user_id / invitee_email
			CREATE TABLE IF NOT EXISTS invites (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				inviter_id TEXT NOT NULL,
				invitee_user_id TEXT,
				invitee_email TEXT,
				status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'accepted', 'declined')),
				token TEXT UNIQUE NOT NULL,
				created_at DATETIME NOT NULL,
				responded_at DATETIME,
				CHECK ((invitee_user_id IS NULL) <> (invitee_email IS NULL)),
				FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
				FOREIGN KEY (inviter_id) REFERENCES profiles(id)
			);

			-- Messages are immutable
			CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				content TEXT NOT NULL,
				tag TEXT NOT NULL DEFAULT 'none' CHECK (tag IN ('none', 'decision', 'idea', 'problem')),
				created_at DATETIME NOT NULL,
				FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
			);

			-- Append-only project entry log
			CREATE TABLE IF NOT EXISTS entry_logs (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				entered_at DATETIME NOT NULL,
				FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
			);

			-- Indexes
			CREATE UNIQUE INDEX IF NOT EXISTS idx_project_members_one_owner
				ON project_members(project_id) WHERE role = 'owner';
			CREATE INDEX IF NOT EXISTS idx_project_members_user ON project_members(user_id);
			CREATE INDEX IF NOT EXISTS idx_profiles_email ON profiles(email);
			CREATE INDEX IF NOT EXISTS idx_invites_user ON invites(invitee_user_id, status);
			CREATE INDEX IF NOT EXISTS idx_invites_email ON invites(invitee_email, status);
			CREATE INDEX IF NOT EXISTS idx_messages_project ON messages(project_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_messages_project_tag ON messages(project_id, tag, created_at);
			CREATE INDEX IF NOT EXISTS idx_entry_logs_project ON entry_logs(project_id, entered_at);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
