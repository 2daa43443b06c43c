// Package repo implements the persisted side of the tracker over SQLite:
// users, daemons, paths, connections and the daemon-connection associations.
// Persisted state is authoritative for all of these; the registry only caches
// who is live. Multi-statement operations run inside one transaction and
// release it on every exit path.
package repo

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	db *sql.DB

	Users       *UserRepo
	Daemons     *DaemonRepo
	Paths       *PathRepo
	Connections *ConnectionRepo
}

// Open opens (creating if necessary) the tracker database and ensures the
// schema exists.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}
	// a single pooled connection: sqlite serializes writers anyway, and
	// :memory: databases are per-connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	d.Users = &UserRepo{db: db}
	d.Daemons = &DaemonRepo{db: db}
	d.Paths = &PathRepo{db: db}
	d.Connections = &ConnectionRepo{db: db}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		token TEXT NOT NULL UNIQUE,
		confirm TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS daemons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (user_id, name)
	);

	CREATE TABLE IF NOT EXISTS paths (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_id INTEGER REFERENCES paths(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (user_id, path)
	);

	CREATE TABLE IF NOT EXISTS connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		path_id INTEGER NOT NULL UNIQUE REFERENCES paths(id) ON DELETE CASCADE,
		token TEXT NOT NULL UNIQUE,
		encrypted BOOLEAN NOT NULL DEFAULT FALSE,
		fixed BOOLEAN NOT NULL DEFAULT FALSE,
		connect_address TEXT NOT NULL DEFAULT '',
		connect_port TEXT NOT NULL DEFAULT '',
		listen_address TEXT NOT NULL DEFAULT '',
		listen_port TEXT NOT NULL DEFAULT '',
		address_override TEXT NOT NULL DEFAULT '',
		port_override TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS daemon_connections (
		daemon_id INTEGER NOT NULL REFERENCES daemons(id) ON DELETE CASCADE,
		connection_id INTEGER NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
		acting_as TEXT NOT NULL CHECK (acting_as IN ('server', 'client')),
		address_override TEXT NOT NULL DEFAULT '',
		port_override TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (daemon_id, connection_id)
	);

	CREATE INDEX IF NOT EXISTS idx_paths_parent ON paths(parent_id);
	CREATE INDEX IF NOT EXISTS idx_daemon_connections_connection ON daemon_connections(connection_id);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
