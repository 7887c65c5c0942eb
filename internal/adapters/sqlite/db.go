// Package sqlite persists the per-context conversation log, the memory
// table, and the metadata key/value side-table in a single database file.
// The relational store is the source of truth; the vector index is a derived
// projection rebuilt from it when they disagree.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is bumped with every migration below.
const schemaVersion = 2

// migration 2 added the status index; index changes require a vector
// rebuild, so migrations whose version is in this set flag the reset.
var indexedColumnMigrations = map[int]bool{2: true}

// DB wraps the per-context database file.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the context database and runs migrations.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// database/sql pooling plus SQLite's writer lock: one connection keeps
	// the single-writer discipline trivial.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	var version int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	needsVectorReset := false
	for v := version + 1; v <= schemaVersion; v++ {
		if err := applyMigration(tx, v); err != nil {
			return fmt.Errorf("migration %d failed: %w", v, err)
		}
		if indexedColumnMigrations[v] {
			needsVectorReset = true
		}
	}

	if needsVectorReset && version > 0 {
		if _, err := tx.Exec(
			`INSERT INTO db_metadata (key, value) VALUES ('vector_db_needs_reset', '1')
			 ON CONFLICT(key) DO UPDATE SET value = '1'`,
		); err != nil {
			return fmt.Errorf("failed to flag vector reset: %w", err)
		}
		log.Printf("info: schema migration touched indexed columns, vector index flagged for rebuild")
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func applyMigration(tx *sql.Tx, version int) error {
	switch version {
	case 1:
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				tokens INTEGER NOT NULL DEFAULT 0,
				timestamp INTEGER NOT NULL,
				metadata TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
			`CREATE TABLE IF NOT EXISTS user_memories (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				topic TEXT NOT NULL,
				text TEXT NOT NULL,
				relevance REAL NOT NULL DEFAULT 1.0,
				status TEXT NOT NULL DEFAULT 'current',
				created_at INTEGER NOT NULL,
				last_updated INTEGER NOT NULL,
				source_message_ids TEXT,
				metadata TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_memories_topic ON user_memories(topic)`,
			`CREATE INDEX IF NOT EXISTS idx_user_memories_type ON user_memories(type)`,
			`CREATE TABLE IF NOT EXISTS db_metadata (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		}
		for _, s := range stmts {
			if _, err := tx.Exec(s); err != nil {
				return err
			}
		}
		return nil
	case 2:
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_user_memories_status ON user_memories(status)`)
		return err
	default:
		return fmt.Errorf("unknown schema version %d", version)
	}
}
