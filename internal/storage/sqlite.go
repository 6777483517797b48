package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/good-yellow-bee/katler/internal/metrics"
	"github.com/good-yellow-bee/katler/internal/realtime"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path   string
	db     *sql.DB
	feed   *changeFeed
	logger *slog.Logger

	profiles  *sqliteProfileRepo
	projects  *sqliteProjectRepo
	invites   *sqliteInviteRepo
	messages  *sqliteMessageRepo
	entryLogs *sqliteEntryLogRepo
}

// NewSQLiteStorage creates a new SQLite storage. Committed writes are
// published to publisher when it is non-nil.
func NewSQLiteStorage(path string, publisher realtime.Publisher, logger *slog.Logger) *SQLiteStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStorage{
		path:   path,
		feed:   &changeFeed{publisher: publisher, logger: logger},
		logger: logger,
	}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	s.db = db

	s.profiles = &sqliteProfileRepo{db: db, feed: s.feed}
	s.projects = &sqliteProjectRepo{db: db, feed: s.feed}
	s.invites = &sqliteInviteRepo{db: db, feed: s.feed}
	s.messages = &sqliteMessageRepo{db: db, feed: s.feed}
	s.entryLogs = &sqliteEntryLogRepo{db: db, feed: s.feed}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Profiles returns the profile repository.
func (s *SQLiteStorage) Profiles() ProfileRepository {
	return s.profiles
}

// Projects returns the project repository.
func (s *SQLiteStorage) Projects() ProjectRepository {
	return s.projects
}

// Invites returns the invite repository.
func (s *SQLiteStorage) Invites() InviteRepository {
	return s.invites
}

// Messages returns the message repository.
func (s *SQLiteStorage) Messages() MessageRepository {
	return s.messages
}

// EntryLogs returns the entry log repository.
func (s *SQLiteStorage) EntryLogs() EntryLogRepository {
	return s.entryLogs
}

// changeFeed publishes committed rows. Publication failures never undo a
// commit; they are logged and the write is still reported as successful.
type changeFeed struct {
	publisher realtime.Publisher
	logger    *slog.Logger
}

func (f *changeFeed) emit(ctx context.Context, table realtime.Table, kind realtime.EventKind, row any) {
	if f == nil || f.publisher == nil {
		return
	}
	change, err := realtime.NewChange(table, kind, row)
	if err != nil {
		f.logger.Warn("encode change failed", "table", table, "error", err)
		return
	}
	if err := f.publisher.Publish(context.WithoutCancel(ctx), change); err != nil {
		metrics.ChangePublishErrors.WithLabelValues(string(table)).Inc()
		f.logger.Warn("publish change failed", "table", table, "kind", kind, "error", err)
		return
	}
	metrics.ChangesPublishedTotal.WithLabelValues(string(table)).Inc()
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
