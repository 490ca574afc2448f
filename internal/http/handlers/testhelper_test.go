package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/flipdeck-api/internal/auth"
	"github.com/jmylchreest/flipdeck-api/internal/database/migrations"
	"github.com/jmylchreest/flipdeck-api/internal/http/mw"
	"github.com/jmylchreest/flipdeck-api/internal/models"
	"github.com/jmylchreest/flipdeck-api/internal/repository"
	"github.com/jmylchreest/flipdeck-api/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	repos       *repository.Repositories
	credits     *service.CreditService
	community   *service.CommunityService
	estimations *service.EstimationService
	tokens      *auth.UploadTokenIssuer
}

// setupTestEnv wires real services over a migrated in-memory database.
func setupTestEnv(t *testing.T) *testEnv {
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

	repos := repository.NewRepositories(db)
	logger := testLogger()
	tokens := auth.NewUploadTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)

	credits := service.NewCreditService(repos, logger)
	community := service.NewCommunityService(repos, credits, tokens, 20*time.Minute, logger)
	estimations := service.NewEstimationService(repos, credits, service.NewEntitlementService(), nil, service.EstimationServiceConfig{
		DedupeWindow: 10 * time.Second,
	}, logger)

	return &testEnv{
		repos:       repos,
		credits:     credits,
		community:   community,
		estimations: estimations,
		tokens:      tokens,
	}
}

// userCtx returns a context authenticated as userID on plan.
func userCtx(userID, plan string) context.Context {
	return mw.WithUserClaims(context.Background(), &mw.UserClaims{UserID: userID, Plan: plan})
}

// openAccount creates an account on plan and sets its balance exactly.
func (e *testEnv) openAccount(t *testing.T, userID, plan string, balance int64) {
	t.Helper()
	ctx := t.Context()

	acct, err := e.credits.EnsureAccount(ctx, userID, plan)
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	delta := balance - acct.Balance
	switch {
	case delta > 0:
		if _, err := e.credits.Credit(ctx, userID, delta, models.SourceRecharge, ""); err != nil {
			t.Fatalf("seed credit: %v", err)
		}
	case delta < 0:
		if _, err := e.credits.Debit(ctx, userID, -delta, "seed"); err != nil {
			t.Fatalf("seed debit: %v", err)
		}
	}
}

// seedMarket ingests recent observations for modelID.
func (e *testEnv) seedMarket(t *testing.T, modelID string) {
	t.Helper()
	now := time.Now().UTC()
	var inputs []service.ObservationInput
	for i := 0; i < 12; i++ {
		inputs = append(inputs, service.ObservationInput{
			ID:         fmt.Sprintf("%s-%02d", modelID, i),
			ModelID:    modelID,
			Platform:   "vinted",
			Condition:  models.ConditionNew,
			Price:      300 + float64(i*10),
			Sold:       i%3 == 0,
			ObservedAt: now.Add(-time.Duration(i*5) * 24 * time.Hour),
		})
	}
	if _, err := e.estimations.IngestObservations(t.Context(), inputs); err != nil {
		t.Fatalf("IngestObservations: %v", err)
	}
}

// supplyTask adds a task to the pool.
func (e *testEnv) supplyTask(t *testing.T, priority models.TaskPriority, reward int64) *models.CommunityTask {
	t.Helper()
	task, err := e.community.SupplyTask(t.Context(), service.CreateTaskInput{
		ModelName:            "iPhone 13 128GB",
		Platform:             "vinted",
		Priority:             priority,
		Type:                 "listing_scan",
		PagesFrom:            1,
		PagesTo:              5,
		EstimatedTimeMinutes: 4,
		RewardCredits:        reward,
	})
	if err != nil {
		t.Fatalf("SupplyTask: %v", err)
	}
	return task
}

// asAPIError asserts err is an *APIError with the given status and code.
func asAPIError(t *testing.T, err error, status int, code string) *APIError {
	t.Helper()
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error = %T %v, want *APIError", err, err)
	}
	if apiErr.Status != status || apiErr.Code != code {
		t.Fatalf("error = %d %s, want %d %s", apiErr.Status, apiErr.Code, status, code)
	}
	return apiErr
}
