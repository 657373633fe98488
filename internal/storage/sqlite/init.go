package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id INTEGER PRIMARY KEY,
	task_id TEXT NOT NULL,
	session_id TEXT,
	url TEXT NOT NULL,
	content_id TEXT,
	title TEXT,
	status TEXT NOT NULL,
	error_detail TEXT,
	attempt INTEGER NOT NULL DEFAULT 1,
	bytes INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads (status);

CREATE TABLE IF NOT EXISTS archive (
	content_id TEXT PRIMARY KEY,
	archived_at DATETIME NOT NULL
);`

// InitDB opens the SQLite database at path and creates the tables if needed.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// go-sqlite3 connections do not share in-memory state and writes are serialised anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
