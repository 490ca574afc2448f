package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/database/migrations"
	"github.com/jmylchreest/flipdeck-api/internal/models"
	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
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

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

// insertTestAccount is a helper to create a credit account with a starting balance.
func insertTestAccount(t *testing.T, repos *Repositories, userID string, balance int64) {
	t.Helper()
	_, err := repos.Credit.CreateAccount(t.Context(), &models.CreditAccount{
		UserID:    userID,
		Plan:      "starter",
		ResetAt:   testNow.AddDate(0, 1, 0),
		CreatedAt: testNow,
		UpdatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	if balance > 0 {
		if _, ok, err := repos.Credit.ApplyDelta(t.Context(), userID, balance, testNow); err != nil || !ok {
			t.Fatalf("failed to seed balance: ok=%v err=%v", ok, err)
		}
	}
}

// insertTestTask is a helper to create an available task.
func insertTestTask(t *testing.T, repos *Repositories, id string, priority models.TaskPriority, reward int64) {
	t.Helper()
	err := repos.Task.Create(t.Context(), &models.CommunityTask{
		ID:                   id,
		ModelName:            "Pokemon 151 ETB",
		Platform:             "vinted",
		Priority:             priority,
		Type:                 "listing_scan",
		PagesFrom:            1,
		PagesTo:              5,
		EstimatedTimeMinutes: 10,
		RewardCredits:        reward,
		State:                models.TaskAvailable,
		CreatedAt:            testNow,
	})
	if err != nil {
		t.Fatalf("failed to create test task: %v", err)
	}
}
