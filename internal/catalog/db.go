// Package catalog is the relational store behind the Host Manager: one
// SQLite database holding host configuration, guest configuration, status
// rings, task history, and the log feed, plus the bearer token and saving
// root recorded once at bootstrap.
//
// Storage follows the teacher's registry package: pure-Go SQLite
// (modernc.org/sqlite, no cgo), WAL mode, idempotent CREATE TABLE IF NOT
// EXISTS migrations, upsert-by-primary-key writes.
package catalog

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database for catalog storage.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and runs
// its migrations.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqldb, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := sqldb.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqldb.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	cdb := &DB{db: sqldb}
	if err := cdb.migrate(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return cdb, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hs_global (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			bearer      TEXT NOT NULL DEFAULT '',
			saving_root TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS hs_config (
			hs_name    TEXT PRIMARY KEY,
			config     TEXT NOT NULL DEFAULT '{}',
			enabled    INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS hs_status (
			hs_name    TEXT PRIMARY KEY,
			status     TEXT NOT NULL DEFAULT '{}',
			ring       TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS vm_saving (
			hs_name    TEXT NOT NULL,
			vm_uuid    TEXT NOT NULL,
			config     TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (hs_name, vm_uuid)
		)`,
		`CREATE TABLE IF NOT EXISTS vm_status (
			hs_name    TEXT NOT NULL,
			vm_uuid    TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT '{}',
			ring       TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (hs_name, vm_uuid)
		)`,
		`CREATE TABLE IF NOT EXISTS vm_tasker (
			task_id    TEXT PRIMARY KEY,
			hs_name    TEXT NOT NULL,
			vm_uuid    TEXT NOT NULL DEFAULT '',
			task       TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS hs_logger (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			hs_name    TEXT NOT NULL DEFAULT '',
			vm_uuid    TEXT NOT NULL DEFAULT '',
			level      TEXT NOT NULL DEFAULT 'info',
			message    TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return d.addColumnIfMissing("hs_config", "enabled", "INTEGER NOT NULL DEFAULT 1")
}

// addColumnIfMissing probes PRAGMA table_info for column and
// issues ALTER TABLE ... ADD COLUMN only when it is absent, so migrate()
// stays idempotent across versions that added a column later.
func (d *DB) addColumnIfMissing(table, column, ddl string) error {
	rows, err := d.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			log.Printf("catalog: column %s.%s already present, skipping ALTER TABLE", table, column)
			return rows.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = d.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddl))
	return err
}
