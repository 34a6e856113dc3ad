// Package store persists the oversight domain in SQLite. One Store owns the
// database handle; repositories are methods grouped by entity family.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// Store wraps the SQLite handle. modernc/sqlite serializes writes, so the
// pool is pinned to a single connection and transactions never deadlock on
// themselves.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if needed) the database at path and ensures the
// schema. The path may be a bare file path or a file: URL; query parameters
// are replaced with the store's own pragma set.
func Open(path string) (*Store, error) {
	path = normalizePath(path)
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
			"cache_size(-64000)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		initErr := fmt.Errorf("initialize schema for %q: %w", path, err)
		if closeErr := db.Close(); closeErr != nil {
			return nil, stderrors.Join(initErr, fmt.Errorf("close database after init failure: %w", closeErr))
		}
		return nil, initErr
	}
	return s, nil
}

func normalizePath(path string) string {
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// DB exposes the underlying handle for packages that share the database,
// such as the audit logger.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database %q: %w", s.dbPath, err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			return stderrors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS parent_users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS child_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_id INTEGER NOT NULL REFERENCES parent_users(id) ON DELETE CASCADE,
		display_name TEXT NOT NULL,
		age INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_child_profiles_parent ON child_profiles(parent_id);

	CREATE TABLE IF NOT EXISTS linked_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		child_profile_id INTEGER NOT NULL REFERENCES child_profiles(id) ON DELETE CASCADE,
		platform TEXT NOT NULL,
		platform_account_id TEXT NOT NULL,
		platform_username TEXT,
		access_token_ciphertext BLOB NOT NULL,
		refresh_token_ciphertext BLOB,
		token_expiry DATETIME,
		scopes TEXT,
		last_scan_at DATETIME,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(platform, platform_account_id)
	);
	CREATE INDEX IF NOT EXISTS idx_linked_accounts_child ON linked_accounts(child_profile_id);

	CREATE TABLE IF NOT EXISTS coppa_verifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		child_profile_id INTEGER NOT NULL REFERENCES child_profiles(id) ON DELETE CASCADE,
		platform TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		verified_at DATETIME,
		expires_at DATETIME,
		notes TEXT,
		data TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_coppa_child_platform ON coppa_verifications(child_profile_id, platform);

	CREATE TABLE IF NOT EXISTS subscribed_channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		linked_account_id INTEGER NOT NULL REFERENCES linked_accounts(id) ON DELETE CASCADE,
		channel_id TEXT NOT NULL,
		title TEXT,
		description TEXT,
		thumbnail_url TEXT,
		subscriber_count INTEGER NOT NULL DEFAULT 0,
		video_count INTEGER NOT NULL DEFAULT 0,
		topic_details TEXT,
		last_fetched_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(linked_account_id, channel_id)
	);
	CREATE INDEX IF NOT EXISTS idx_subscribed_channels_account ON subscribed_channels(linked_account_id);

	CREATE TABLE IF NOT EXISTS analyzed_videos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL REFERENCES subscribed_channels(id) ON DELETE CASCADE,
		video_platform_id TEXT NOT NULL UNIQUE,
		title TEXT,
		description TEXT,
		published_at DATETIME,
		duration INTEGER NOT NULL DEFAULT 0,
		view_count INTEGER NOT NULL DEFAULT 0,
		like_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyzed_videos_channel ON analyzed_videos(channel_id);

	CREATE TABLE IF NOT EXISTS analysis_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id INTEGER NOT NULL REFERENCES analyzed_videos(id) ON DELETE CASCADE,
		channel_id INTEGER NOT NULL REFERENCES subscribed_channels(id) ON DELETE CASCADE,
		risk_category TEXT NOT NULL,
		severity TEXT NOT NULL,
		flagged_text TEXT,
		keywords_matched TEXT,
		confidence_score REAL NOT NULL DEFAULT 0,
		marked_not_harmful BOOLEAN NOT NULL DEFAULT FALSE,
		marked_not_harmful_at DATETIME,
		marked_not_harmful_by INTEGER REFERENCES parent_users(id) ON DELETE SET NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(video_id, risk_category)
	);
	CREATE INDEX IF NOT EXISTS idx_analysis_results_channel ON analysis_results(channel_id);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		child_profile_id INTEGER NOT NULL REFERENCES child_profiles(id) ON DELETE CASCADE,
		alert_type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT,
		summary_data TEXT,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		read_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_child ON alerts(child_profile_id, is_read);

	CREATE TABLE IF NOT EXISTS notification_preferences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_id INTEGER NOT NULL UNIQUE REFERENCES parent_users(id) ON DELETE CASCADE,
		email_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		push_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		alert_scan_complete BOOLEAN NOT NULL DEFAULT TRUE,
		alert_new_flags BOOLEAN NOT NULL DEFAULT TRUE,
		alert_high_risk BOOLEAN NOT NULL DEFAULT TRUE,
		alert_account_change BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS device_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_id INTEGER NOT NULL REFERENCES parent_users(id) ON DELETE CASCADE,
		token TEXT NOT NULL UNIQUE,
		platform TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_device_tokens_parent ON device_tokens(parent_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_info`).Scan(&count); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec(`INSERT INTO schema_info (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx so repository helpers can
// run standalone or inside WithTx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func closeRows(rows *sql.Rows, err *error, what string) {
	if closeErr := rows.Close(); closeErr != nil {
		wrapped := fmt.Errorf("close %s rows: %w", what, closeErr)
		if *err != nil {
			*err = stderrors.Join(*err, wrapped)
			return
		}
		*err = wrapped
	}
}
