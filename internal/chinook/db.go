// Package chinook loads and summarises the Chinook sample music-store
// database that the notebook tasks analyse, and exports CSV samples of its
// tables for the notebook companion's working directory.
package chinook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// DefaultPath is where the Chinook database is looked up when no path is configured.
const DefaultPath = "chinook-database/ChinookDatabase/DataSources/Chinook_Sqlite.sqlite"

// ErrDatabaseNotFound is returned by Open when the database file is missing.
var ErrDatabaseNotFound = errors.New("database file not found")

// DB is an open Chinook database.
type DB struct {
	db   *sql.DB
	path string
}

// Open connects to the SQLite database at path.
func Open(path string) (*DB, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w at %s", ErrDatabaseNotFound, path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Tables lists the user tables in name order.
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
