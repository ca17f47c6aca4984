package database

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite prefers a single writer.
	conn.SetMaxOpenConns(1)
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	db := &DB{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
		typ:  "SQLite",
	}
	if err := db.migrateSQLite(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) migrateSQLite() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		feed_url TEXT NOT NULL DEFAULT '',
		cooldown_hours REAL NOT NULL DEFAULT 24,
		last_polled_at DATETIME,
		last_poll_ok INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_critical INTEGER NOT NULL DEFAULT 0,
		articles_scraped INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sources_topic ON sources(topic_id);
	CREATE TABLE IF NOT EXISTS drip_configs (
		topic_id INTEGER PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 0,
		release_interval_hours INTEGER NOT NULL DEFAULT 4,
		items_per_release INTEGER NOT NULL DEFAULT 1,
		active_start_hour INTEGER NOT NULL DEFAULT 6,
		active_end_hour INTEGER NOT NULL DEFAULT 22
	);
	CREATE TABLE IF NOT EXISTS queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		ready_at DATETIME NOT NULL,
		scheduled_publish_at DATETIME,
		published_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_queue_pending ON queue(topic_id, ready_at, id) WHERE published_at IS NULL;
	`
	_, err := db.conn.Exec(schema)
	return err
}
