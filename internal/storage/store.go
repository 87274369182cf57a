// Package storage defines the unified Store interface that abstracts persistence.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL
// (production). Both expose the same bounded conversation history store.
package storage

import "github.com/jkaninda/mioo/internal/history"

// Store is the unified persistence interface for Mioo.
type Store interface {
	// Messages returns the bounded conversation history store.
	Messages() history.Store

	// Lifecycle.
	Migrate() error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
