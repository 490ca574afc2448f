package service

import (
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/auth"
	"github.com/jmylchreest/flipdeck-api/internal/database/migrations"
	"github.com/jmylchreest/flipdeck-api/internal/repository"
	_ "github.com/tursodatabase/go-libsql"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestRepos creates repositories over a migrated in-memory database.
func setupTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// Every :memory: connection is its own database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return repository.NewRepositories(db)
}

type testServices struct {
	repos        *repository.Repositories
	credits      *CreditService
	entitlements *EntitlementService
	community    *CommunityService
	estimations  *EstimationService
}

// setupTestServices wires services over a fresh database with a fixed clock.
func setupTestServices(t *testing.T) *testServices {
	t.Helper()
	repos := setupTestRepos(t)
	logger := testLogger()

	clock := func() time.Time { return testNow }

	credits := NewCreditService(repos, logger)
	credits.now = clock

	tokens := auth.NewUploadTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	community := NewCommunityService(repos, credits, tokens, 20*time.Minute, logger)
	community.now = clock

	entitlements := NewEntitlementService()
	estimations := NewEstimationService(repos, credits, entitlements, nil, EstimationServiceConfig{}, logger)
	estimations.now = clock

	return &testServices{
		repos:        repos,
		credits:      credits,
		entitlements: entitlements,
		community:    community,
		estimations:  estimations,
	}
}

// setClock moves every service clock to now.
func (s *testServices) setClock(now time.Time) {
	clock := func() time.Time { return now }
	s.credits.now = clock
	s.community.now = clock
	s.estimations.now = clock
}

// openAccount creates an account on plan and sets its balance exactly.
func (s *testServices) openAccount(t *testing.T, userID, plan string, balance int64) {
	t.Helper()
	ctx := t.Context()

	acct, err := s.credits.EnsureAccount(ctx, userID, plan)
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	delta := balance - acct.Balance
	switch {
	case delta > 0:
		if _, err := s.credits.Credit(ctx, userID, delta, "recharge", ""); err != nil {
			t.Fatalf("seed credit: %v", err)
		}
	case delta < 0:
		if _, err := s.credits.Debit(ctx, userID, -delta, "seed"); err != nil {
			t.Fatalf("seed debit: %v", err)
		}
	}
}

// assertLedgerBalanced checks that the balance equals the sum of ledger entries.
func assertLedgerBalanced(t *testing.T, repos *repository.Repositories, userID string) {
	t.Helper()
	acct, err := repos.Credit.GetAccount(t.Context(), userID)
	if err != nil || acct == nil {
		t.Fatalf("GetAccount(%s) = %v, %v", userID, acct, err)
	}
	sum, err := repos.Credit.SumEntries(t.Context(), userID)
	if err != nil {
		t.Fatalf("SumEntries: %v", err)
	}
	if sum != acct.Balance {
		t.Errorf("balance %d != ledger sum %d for %s", acct.Balance, sum, userID)
	}
}
