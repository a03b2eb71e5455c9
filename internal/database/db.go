package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrMonitorNotFound is returned when no monitor has the requested id
var ErrMonitorNotFound = errors.New("monitor not found")

// ConfigDecodeError means a stored JSON configuration column could not be parsed
type ConfigDecodeError struct {
	MonitorID int64
	Column    string
	Err       error
}

func (e *ConfigDecodeError) Error() string {
	return fmt.Sprintf("monitor %d: malformed %s: %v", e.MonitorID, e.Column, e.Err)
}

func (e *ConfigDecodeError) Unwrap() error {
	return e.Err
}

// DB represents the database connection
type DB struct {
	conn *sql.DB
	// mu serializes writers
	mu sync.Mutex
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Create database directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database connection
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection gives every reader the latest committed write
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}

	// Initialize schema
	if err := db.InitSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// InitSchema creates the database tables if they don't exist.
// Timestamps are unix milliseconds.
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS monitors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'text',
		selector TEXT NOT NULL DEFAULT '',
		scenario TEXT NOT NULL DEFAULT '[]',
		check_interval TEXT NOT NULL DEFAULT '1h',
		notify_rule TEXT NOT NULL DEFAULT '{}',
		ai_prompt TEXT NOT NULL DEFAULT '',
		ai_only INTEGER NOT NULL DEFAULT 0,
		keywords TEXT NOT NULL DEFAULT '[]',
		retry_count INTEGER NOT NULL DEFAULT 3,
		retry_delay_ms INTEGER NOT NULL DEFAULT 2000,
		tags TEXT NOT NULL DEFAULT '[]',
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		last_check INTEGER,
		last_value TEXT,
		last_screenshot TEXT NOT NULL DEFAULT '',
		last_change INTEGER,
		unread_count INTEGER NOT NULL DEFAULT 0,
		last_healed INTEGER,
		pending_selector TEXT NOT NULL DEFAULT '',
		checking_until INTEGER
	);

	CREATE TABLE IF NOT EXISTS check_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id INTEGER NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		value TEXT,
		screenshot TEXT NOT NULL DEFAULT '',
		prev_screenshot TEXT NOT NULL DEFAULT '',
		diff_screenshot TEXT NOT NULL DEFAULT '',
		ai_summary TEXT NOT NULL DEFAULT '',
		diff TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		http_status INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_monitors_active ON monitors(active);
	CREATE INDEX IF NOT EXISTS idx_history_monitor_created ON check_history(monitor_id, created_at);
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}
	return db.addColumnIfMissing("monitors", "checking_until", "INTEGER")
}

// addColumnIfMissing upgrades tables created by older releases
func (db *DB) addColumnIfMissing(table, column, decl string) error {
	rows, err := db.conn.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.conn.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	if err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}
