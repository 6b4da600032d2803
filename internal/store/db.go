// Package store provides SQLite persistence for catalog items, the image
// registry, and sync run history.
//
// The database runs embedded with WAL mode for concurrent reads. The three
// tables are owned by distinct accessors (Catalog, Images, Runs) sharing one
// connection pool, so a sync batch can apply record changes inside a single
// transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the embedded SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path, creating the
// parent directory and schema when missing. The caller MUST call Close()
// when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL for concurrent readers during sync writes.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after a WAL checkpoint.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog_items (
		item_id            TEXT PRIMARY KEY,
		name               TEXT NOT NULL,
		category_primary   TEXT NOT NULL DEFAULT '',
		category_secondary TEXT NOT NULL DEFAULT '',
		price_normal       REAL NOT NULL DEFAULT 0,
		price_discount     REAL NOT NULL DEFAULT 0,
		discount_rate      REAL NOT NULL DEFAULT 0,
		currency           TEXT NOT NULL DEFAULT 'CNY',
		origin_country     TEXT NOT NULL DEFAULT '',
		origin_province    TEXT NOT NULL DEFAULT '',
		origin_city        TEXT NOT NULL DEFAULT '',
		platform           TEXT NOT NULL DEFAULT '',
		specification      TEXT NOT NULL DEFAULT '',
		flavor             TEXT NOT NULL DEFAULT '',
		manufacturer       TEXT NOT NULL DEFAULT '',
		notes              TEXT NOT NULL DEFAULT '',
		images             TEXT NOT NULL DEFAULT '{}',  -- JSON map: slot -> image ref
		collected_at       TEXT NOT NULL,
		status             TEXT NOT NULL DEFAULT 'active',
		visible            INTEGER NOT NULL DEFAULT 1,
		updated_at         TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_status ON catalog_items(status);
	CREATE INDEX IF NOT EXISTS idx_items_collected ON catalog_items(collected_at);

	CREATE TABLE IF NOT EXISTS image_records (
		image_id       TEXT PRIMARY KEY,
		item_id        TEXT NOT NULL,
		slot           TEXT NOT NULL,
		object_path    TEXT NOT NULL,
		content_digest TEXT NOT NULL,
		digest_md5     TEXT NOT NULL DEFAULT '',
		mime_type      TEXT NOT NULL DEFAULT '',
		byte_size      INTEGER NOT NULL DEFAULT 0,
		width          INTEGER NOT NULL DEFAULT 0,
		height         INTEGER NOT NULL DEFAULT 0,
		variants       TEXT NOT NULL DEFAULT '[]',  -- JSON array of thumbnail variants
		active         INTEGER NOT NULL DEFAULT 1,
		product_exists INTEGER NOT NULL DEFAULT 1,
		file_exists    INTEGER NOT NULL DEFAULT 1,
		access_count   INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		UNIQUE(item_id, slot)
	);

	CREATE INDEX IF NOT EXISTS idx_images_item ON image_records(item_id);
	CREATE INDEX IF NOT EXISTS idx_images_digest ON image_records(content_digest);

	CREATE TABLE IF NOT EXISTS sync_runs (
		run_id      TEXT PRIMARY KEY,
		mode        TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT,
		created     INTEGER NOT NULL DEFAULT 0,
		updated     INTEGER NOT NULL DEFAULT 0,
		deleted     INTEGER NOT NULL DEFAULT 0,
		errors      TEXT NOT NULL DEFAULT '[]',  -- JSON array of per-item errors
		success     INTEGER NOT NULL DEFAULT 0,
		dry_run     INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// timeFormat is the canonical storage representation for timestamps.
const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
