package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Database stores post history and justice state in SQLite
type Database struct {
	db    *sql.DB
	mutex sync.RWMutex
	log   *logrus.Logger
}

// NewDatabase creates a new SQLite database connection
func NewDatabase(dbPath string, log *logrus.Logger) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:  db,
		log: log,
	}

	if err := database.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.db.Close()
}

// Ping checks the connection is usable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// initTables creates the necessary tables if they don't exist
func (d *Database) initTables() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	// note: mission_table_version lets us find claims parsed under an older hashtag table
	query := `
	CREATE TABLE IF NOT EXISTS posts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		post_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		handle TEXT NOT NULL,
		text TEXT NOT NULL,
		points INTEGER NOT NULL,
		mission_id INTEGER NOT NULL,
		mission_table_version INTEGER NOT NULL,
		city TEXT NOT NULL,
		state TEXT NOT NULL,
		country TEXT NOT NULL,
		created_at TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		UNIQUE (source, post_id)
	);
	CREATE INDEX IF NOT EXISTS idx_posts_source ON posts(source, seq);
	CREATE INDEX IF NOT EXISTS idx_posts_handle ON posts(handle);
	` + justiceSchema

	_, err := d.db.Exec(query)
	return err
}
