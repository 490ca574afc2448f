// Package database handles database connections and migrations.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/flipdeck-api/internal/database/migrations"
)

// Options configures how the database is opened.
type Options struct {
	// DSN is a local libsql DSN ("file:flipdeck.db", ":memory:") or a
	// libsql server URL ("http://127.0.0.1:8080").
	DSN string
	// SyncURL, when set with AuthToken, opens DSN as an embedded replica of
	// the remote primary.
	SyncURL   string
	AuthToken string
}

// New creates a new database connection using libsql.
// Supports:
//   - Local files: DSN="file:path/to/db.sqlite"
//   - Embedded replica: set SyncURL + AuthToken for sync with Turso cloud
//   - Local libsql server: run `turso dev` and use DSN="http://127.0.0.1:8080"
func New(opts Options) (*sql.DB, error) {
	var db *sql.DB

	if opts.SyncURL != "" && opts.AuthToken != "" {
		dbPath := strings.TrimPrefix(opts.DSN, "file:")
		dbPath = strings.Split(dbPath, "?")[0]

		connector, err := libsql.NewEmbeddedReplicaConnector(dbPath, opts.SyncURL,
			libsql.WithAuthToken(opts.AuthToken),
			libsql.WithReadYourWrites(true),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Turso connector: %w", err)
		}
		db = sql.OpenDB(connector)
	} else {
		var err error
		db, err = sql.Open("libsql", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	// SQLite allows one writer; a single connection serialises ledger and claim transactions.
	if isLocal(opts) {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func isLocal(opts Options) bool {
	return opts.SyncURL == "" && !strings.HasPrefix(opts.DSN, "http") && !strings.HasPrefix(opts.DSN, "libsql:")
}

// Migrate runs database migrations.
// User identities come from Clerk; user_id columns hold Clerk user IDs ("user_xxx").
func Migrate(db *sql.DB, logger *slog.Logger) error {
	return migrations.Run(db, logger)
}

// GetAppliedMigrations returns information about applied migrations.
func GetAppliedMigrations(db *sql.DB) ([]migrations.AppliedMigration, error) {
	return migrations.GetAppliedMigrations(db)
}

// GetPendingMigrations returns migrations that haven't been applied yet.
func GetPendingMigrations(db *sql.DB) ([]migrations.Migration, error) {
	return migrations.GetPendingMigrations(db)
}
