package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/tursodatabase/go-libsql"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRun_AppliesAllAndIsIdempotent(t *testing.T) {
	db := openMemoryDB(t)

	if err := Run(db, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	pending, err := GetPendingMigrations(db)
	if err != nil {
		t.Fatalf("GetPendingMigrations() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after Run = %d, want 0", len(pending))
	}

	applied, err := GetAppliedMigrations(db)
	if err != nil {
		t.Fatalf("GetAppliedMigrations() error = %v", err)
	}
	if len(applied) != len(registry) {
		t.Errorf("applied = %d, want %d", len(applied), len(registry))
	}

	// Second run is a no-op.
	if err := Run(db, nil); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	latest, err := GetLatestVersion(db)
	if err != nil {
		t.Fatalf("GetLatestVersion() error = %v", err)
	}
	if want := sorted()[len(registry)-1].Timestamp; latest != want {
		t.Errorf("latest = %q, want %q", latest, want)
	}
}

func TestSchema_BalanceCannotGoNegative(t *testing.T) {
	db := openMemoryDB(t)
	if err := Run(db, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	_, err := db.Exec(`INSERT INTO credit_accounts (user_id, plan, balance, reset_at, created_at, updated_at)
		VALUES ('u1', 'starter', -1, '2026-11-01T00:00:00Z', '2026-10-01T00:00:00Z', '2026-10-01T00:00:00Z')`)
	if err == nil {
		t.Error("expected CHECK constraint to reject a negative balance")
	}
}

func TestSorted(t *testing.T) {
	ms := sorted()
	for i := 1; i < len(ms); i++ {
		if ms[i-1].Timestamp >= ms[i].Timestamp {
			t.Errorf("migrations not strictly ordered: %s before %s", ms[i-1].Timestamp, ms[i].Timestamp)
		}
	}
}
