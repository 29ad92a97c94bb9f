// Package sqlite implements the ledger's domain store interfaces on a local
// SQLite file. It is the durable backend for paper mode, where a full
// PostgreSQL deployment would be overkill. Balances are stored as base-10
// text and timestamps as Unix seconds.
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Client wraps the shared database handle. SQLite allows a single writer, so
// all stores serialize writes through the client's mutex; reads run
// concurrently under WAL.
type Client struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database file and applies the schema.
func Open(path string) (*Client, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// WAL keeps readers unblocked while the flush loop writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	c := &Client{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return c, nil
}

func (c *Client) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pool_state (
			id              INTEGER PRIMARY KEY CHECK (id = 1),
			principal_asset TEXT    NOT NULL,
			reward_asset    TEXT    NOT NULL,
			annual_rate     TEXT    NOT NULL DEFAULT '0',
			total_principal TEXT    NOT NULL DEFAULT '0',
			reward_reserve  TEXT    NOT NULL DEFAULT '0',
			updated_at      INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS accounts (
			address          TEXT PRIMARY KEY,
			principal        TEXT    NOT NULL DEFAULT '0',
			unclaimed_reward TEXT    NOT NULL DEFAULT '0',
			last_settled_at  INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			id              TEXT PRIMARY KEY,
			type            TEXT    NOT NULL,
			account         TEXT    NOT NULL,
			asset           TEXT    NOT NULL,
			amount          TEXT    NOT NULL DEFAULT '0',
			principal_after TEXT,
			old_rate        TEXT,
			new_rate        TEXT,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_account_created ON events(account, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			event      TEXT    NOT NULL,
			detail     TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at)`,
	}

	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// Close shuts down the database handle.
func (c *Client) Close() error {
	return c.db.Close()
}
