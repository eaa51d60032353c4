package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database manages the SQLite database for lots, streams and occupancy
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one writer; every lot aggregator shares this connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	database := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// GetDB returns the underlying database connection
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.dbPath
}

// Ping verifies the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// initSchema initializes the database schema
func (d *Database) initSchema() error {
	schema := `
	-- System state table
	CREATE TABLE IF NOT EXISTS system_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Parking lots
	CREATE TABLE IF NOT EXISTS parking_lots (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		total_spots INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Camera streams feeding a lot
	CREATE TABLE IF NOT EXISTS stream_sources (
		id TEXT PRIMARY KEY,
		parking_lot_id INTEGER NOT NULL,
		stream_source TEXT NOT NULL UNIQUE,
		processing_rate INTEGER NOT NULL, -- seconds between detection cycles
		parking_zone TEXT, -- JSON polygons
		is_active BOOLEAN NOT NULL DEFAULT 1,
		deactivated_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (parking_lot_id) REFERENCES parking_lots(id) ON DELETE CASCADE
	);

	-- Occupancy records, one per closed cycle
	CREATE TABLE IF NOT EXISTS occupancy (
		id TEXT PRIMARY KEY,
		parking_lot_id INTEGER NOT NULL,
		occupied_spots INTEGER NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (parking_lot_id) REFERENCES parking_lots(id) ON DELETE CASCADE
	);

	-- Indexes for performance
	CREATE INDEX IF NOT EXISTS idx_stream_sources_lot ON stream_sources(parking_lot_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_occupancy_lot_timestamp ON occupancy(parking_lot_id, timestamp);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// ensureDir ensures a directory exists
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
