package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/models"
)

// seedMarket ingests a spread of observations for modelID over the last 60 days.
func (s *testServices) seedMarket(t *testing.T, modelID string) {
	t.Helper()
	var inputs []ObservationInput
	for i := 0; i < 12; i++ {
		inputs = append(inputs, ObservationInput{
			ID:         fmt.Sprintf("%s-%02d", modelID, i),
			ModelID:    modelID,
			Platform:   "vinted",
			Condition:  models.ConditionNew,
			Price:      300 + float64(i*10),
			Sold:       i%3 == 0,
			ObservedAt: testNow.Add(-time.Duration(i*5) * 24 * time.Hour),
		})
	}
	if _, err := s.estimations.IngestObservations(t.Context(), inputs); err != nil {
		t.Fatalf("IngestObservations: %v", err)
	}
}

func estimationRequest(modelID string) models.EstimationRequest {
	return models.EstimationRequest{
		ModelID:       modelID,
		Condition:     models.ConditionNew,
		BuyPriceInput: 250,
	}
}

func TestEstimationService_StarterWithoutCredits(t *testing.T) {
	s := setupTestServices(t)
	ctx := context.Background()
	s.seedMarket(t, "iphone-13")
	s.openAccount(t, "user-1", "starter", 0)
	before, _ := s.repos.Credit.CountEntries(ctx, "user-1")

	_, err := s.estimations.Estimate(ctx, "user-1", "starter", estimationRequest("iphone-13"), "")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("error = %v, want ErrInsufficientCredits", err)
	}

	after, _ := s.repos.Credit.CountEntries(ctx, "user-1")
	if after != before {
		t.Errorf("rejected estimation wrote %d ledger entries", after-before)
	}
	if n, _ := s.repos.Estimation.CountByUser(ctx, "user-1"); n != 0 {
		t.Errorf("rejected estimation stored %d history rows", n)
	}
}

func TestEstimationService_ProDebitsOnce(t *testing.T) {
	s := setupTestServices(t)
	ctx := context.Background()
	s.seedMarket(t, "iphone-13")
	s.openAccount(t, "user-1", "pro", 50)

	res, err := s.estimations.Estimate(ctx, "user-1", "pro", estimationRequest("iphone-13"), "")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if res.CreditCost != 5 {
		t.Errorf("credit cost = %d, want 5", res.CreditCost)
	}

	acct, _ := s.credits.GetAccount(ctx, "user-1")
	if acct.Balance != 45 {
		t.Errorf("balance = %d, want 45", acct.Balance)
	}

	entries, _, _ := s.credits.History(ctx, "user-1", 1, 0)
	e := entries[0]
	if e.Amount != -5 || e.Source != models.SourceEstimationDebit || e.Reference != res.ID {
		t.Errorf("debit entry = %+v", e)
	}
	assertLedgerBalanced(t, s.repos, "user-1")

	// Pro sees price fields but not probability
	if res.SellPrice1m == nil || res.MarginPct == nil || res.Trend90d == nil {
		t.Error("pro result is missing granted fields")
	}
	if res.ResellProbability != nil {
		t.Error("pro result leaked resell probability")
	}
}

func TestEstimationService_Masking(t *testing.T) {
	tests := []struct {
		plan        string
		wantSell    bool
		wantProb    bool
		wantTrend   bool
		wantMaskLen int
	}{
		{"starter", false, false, false, 7},
		{"pro", true, false, true, 1},
		{"elite", true, true, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			s := setupTestServices(t)
			s.seedMarket(t, "iphone-13")
			s.openAccount(t, "user-1", tt.plan, 20)

			res, err := s.estimations.Estimate(context.Background(), "user-1", tt.plan, estimationRequest("iphone-13"), "")
			if err != nil {
				t.Fatalf("Estimate: %v", err)
			}
			if (res.SellPrice1m != nil) != tt.wantSell {
				t.Errorf("sell visible = %v, want %v", res.SellPrice1m != nil, tt.wantSell)
			}
			if (res.ResellProbability != nil) != tt.wantProb {
				t.Errorf("probability visible = %v, want %v", res.ResellProbability != nil, tt.wantProb)
			}
			if (res.Trend90d != nil) != tt.wantTrend {
				t.Errorf("trend visible = %v, want %v", res.Trend90d != nil, tt.wantTrend)
			}
			if len(res.Masked) != tt.wantMaskLen {
				t.Errorf("masked = %v, want %d fields", res.Masked, tt.wantMaskLen)
			}
			if res.MarketMedianPrice <= 0 {
				t.Error("median missing")
			}

			// The stored row keeps every field
			rec, _ := s.repos.Estimation.GetByID(context.Background(), "user-1", res.ID)
			if rec == nil || rec.Result.ResellProbability == nil {
				t.Error("stored result should be unmasked")
			}
		})
	}
}

func TestEstimationService_AdvancedModeRestricted(t *testing.T) {
	s := setupTestServices(t)
	s.seedMarket(t, "iphone-13")
	s.openAccount(t, "user-1", "starter", 20)

	req := estimationRequest("iphone-13")
	req.AdvancedMode = true
	_, err := s.estimations.Estimate(context.Background(), "user-1", "starter", req, "")
	if !errors.Is(err, ErrPlanRestricted) {
		t.Fatalf("error = %v, want ErrPlanRestricted", err)
	}

	acct, _ := s.credits.GetAccount(context.Background(), "user-1")
	if acct.Balance != 20 {
		t.Errorf("balance = %d, want untouched 20", acct.Balance)
	}
}

func TestEstimationService_UnknownModelDoesNotDebit(t *testing.T) {
	s := setupTestServices(t)
	s.seedMarket(t, "iphone-13")
	s.openAccount(t, "user-1", "elite", 10)

	_, err := s.estimations.Estimate(context.Background(), "user-1", "elite", estimationRequest("nokia-3310"), "")
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("error = %v, want ErrModelNotFound", err)
	}

	acct, _ := s.credits.GetAccount(context.Background(), "user-1")
	if acct.Balance != 10 {
		t.Errorf("balance = %d, want 10", acct.Balance)
	}
}

func TestEstimationService_ValidationError(t *testing.T) {
	s := setupTestServices(t)
	s.openAccount(t, "user-1", "elite", 10)

	_, err := s.estimations.Estimate(context.Background(), "user-1", "elite", models.EstimationRequest{
		ModelID:       "",
		Condition:     "mint",
		BuyPriceInput: -1,
	}, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if len(verr.Fields) != 3 {
		t.Errorf("field errors = %v, want 3", verr.Fields)
	}
}

func TestEstimationService_IdempotentReplay(t *testing.T) {
	s := setupTestServices(t)
	ctx := context.Background()
	s.seedMarket(t, "iphone-13")
	s.openAccount(t, "user-1", "pro", 7)

	first, err := s.estimations.Estimate(ctx, "user-1", "pro", estimationRequest("iphone-13"), "key-1")
	if err != nil {
		t.Fatalf("first Estimate: %v", err)
	}

	// Balance is now 2, below the cost; the replay still succeeds
	s.setClock(testNow.Add(5 * time.Second))
	second, err := s.estimations.Estimate(ctx, "user-1", "pro", estimationRequest("iphone-13"), "key-1")
	if err != nil {
		t.Fatalf("replayed Estimate: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("replay id = %s, want %s", second.ID, first.ID)
	}

	acct, _ := s.credits.GetAccount(ctx, "user-1")
	if acct.Balance != 2 {
		t.Errorf("balance = %d, want 2 after one debit", acct.Balance)
	}

	// Outside the window the key is a fresh request
	s.setClock(testNow.Add(time.Minute))
	if _, err := s.estimations.Estimate(ctx, "user-1", "pro", estimationRequest("iphone-13"), "key-1"); !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("expired key error = %v, want ErrInsufficientCredits", err)
	}

	// Keys are scoped per user
	s.openAccount(t, "user-2", "pro", 10)
	other, err := s.estimations.Estimate(ctx, "user-2", "pro", estimationRequest("iphone-13"), "key-1")
	if err != nil {
		t.Fatalf("other user Estimate: %v", err)
	}
	if other.ID == first.ID {
		t.Error("key replayed across users")
	}
	assertLedgerBalanced(t, s.repos, "user-1")
	assertLedgerBalanced(t, s.repos, "user-2")
}

func TestEstimationService_KeyReusedWithDifferentRequest(t *testing.T) {
	s := setupTestServices(t)
	ctx := context.Background()
	s.seedMarket(t, "iphone-13")
	s.seedMarket(t, "pixel-8")
	s.openAccount(t, "user-1", "elite", 30)

	if _, err := s.estimations.Estimate(ctx, "user-1", "elite", estimationRequest("iphone-13"), "key-1"); err != nil {
		t.Fatalf("first Estimate: %v", err)
	}

	otherModel := estimationRequest("pixel-8")
	otherPrice := estimationRequest("iphone-13")
	otherPrice.BuyPriceInput = 300
	otherCondition := estimationRequest("iphone-13")
	otherCondition.Condition = models.ConditionGood

	for _, req := range []models.EstimationRequest{otherModel, otherPrice, otherCondition} {
		s.setClock(testNow.Add(2 * time.Second))
		if _, err := s.estimations.Estimate(ctx, "user-1", "elite", req, "key-1"); !errors.Is(err, ErrIdempotencyKeyReused) {
			t.Errorf("Estimate(%s, %v) error = %v, want ErrIdempotencyKeyReused", req.ModelID, req.BuyPriceInput, err)
		}
	}

	acct, _ := s.credits.GetAccount(ctx, "user-1")
	if acct.Balance != 27 {
		t.Errorf("balance = %d, want 27 after a single debit", acct.Balance)
	}
	assertLedgerBalanced(t, s.repos, "user-1")
}

func TestEstimationService_WithoutKeyEveryCallDebits(t *testing.T) {
	s := setupTestServices(t)
	ctx := context.Background()
	s.seedMarket(t, "iphone-13")
	s.openAccount(t, "user-1", "elite", 9)

	for i := 0; i < 3; i++ {
		if _, err := s.estimations.Estimate(ctx, "user-1", "elite", estimationRequest("iphone-13"), ""); err != nil {
			t.Fatalf("Estimate #%d: %v", i, err)
		}
	}
	acct, _ := s.credits.GetAccount(ctx, "user-1")
	if acct.Balance != 0 {
		t.Errorf("balance = %d, want 0", acct.Balance)
	}

	results, total, err := s.estimations.History(ctx, "user-1", "elite", 1, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 3 || len(results) != 2 {
		t.Errorf("history = %d rows of %d, want 2 of 3", len(results), total)
	}
}

func TestEstimationService_HistoryMaskedByCurrentPlan(t *testing.T) {
	s := setupTestServices(t)
	ctx := context.Background()
	s.seedMarket(t, "iphone-13")
	s.openAccount(t, "user-1", "elite", 10)

	if _, err := s.estimations.Estimate(ctx, "user-1", "elite", estimationRequest("iphone-13"), ""); err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	// After a downgrade the same row is masked to the new plan
	results, _, err := s.estimations.History(ctx, "user-1", "starter", 1, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(results) != 1 || results[0].SellPrice1m != nil {
		t.Errorf("history not masked for starter: %+v", results)
	}
}

type fakeExportStore struct {
	enabled bool
	puts    map[string][]byte
}

func (f *fakeExportStore) IsEnabled() bool { return f.enabled }

func (f *fakeExportStore) PutObject(_ context.Context, key string, data []byte, _ string) error {
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return nil
}

func (f *fakeExportStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	return "https://exports.test/" + key + "?ttl=" + expiry.String(), nil
}

func TestEstimationService_Export(t *testing.T) {
	s := setupTestServices(t)
	ctx := context.Background()
	s.seedMarket(t, "iphone-13")
	s.openAccount(t, "user-1", "elite", 10)

	res, err := s.estimations.Estimate(ctx, "user-1", "elite", estimationRequest("iphone-13"), "")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	t.Run("restricted plan", func(t *testing.T) {
		if _, err := s.estimations.Export(ctx, "user-1", "pro", res.ID); !errors.Is(err, ErrExportRestricted) {
			t.Errorf("error = %v, want ErrExportRestricted", err)
		}
	})

	t.Run("unknown estimation", func(t *testing.T) {
		if _, err := s.estimations.Export(ctx, "user-1", "elite", "missing"); !errors.Is(err, ErrEstimationNotFound) {
			t.Errorf("error = %v, want ErrEstimationNotFound", err)
		}
		if _, err := s.estimations.Export(ctx, "user-2", "elite", res.ID); !errors.Is(err, ErrEstimationNotFound) {
			t.Errorf("foreign export error = %v, want ErrEstimationNotFound", err)
		}
	})

	t.Run("inline without storage", func(t *testing.T) {
		out, err := s.estimations.Export(ctx, "user-1", "elite", res.ID)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		if out.URL != "" || !strings.HasPrefix(out.CSV, "field,value\n") {
			t.Errorf("export = %+v", out)
		}
		if !strings.Contains(out.CSV, "resell_probability,") {
			t.Error("elite export missing probability")
		}
	})

	t.Run("presigned with storage", func(t *testing.T) {
		store := &fakeExportStore{enabled: true}
		svc := NewEstimationService(s.repos, s.credits, s.entitlements, store, EstimationServiceConfig{ExportExpiry: 5 * time.Minute}, testLogger())
		svc.now = func() time.Time { return testNow }

		out, err := svc.Export(ctx, "user-1", "elite", res.ID)
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		key := ExportKey("user-1", res.ID)
		if _, ok := store.puts[key]; !ok {
			t.Errorf("nothing stored under %s", key)
		}
		if !strings.Contains(out.URL, key) || out.CSV != "" {
			t.Errorf("export = %+v", out)
		}
		if out.ExpiresAt == nil || !out.ExpiresAt.Equal(testNow.Add(5*time.Minute)) {
			t.Errorf("expires_at = %v", out.ExpiresAt)
		}
	})
}

func TestEstimationService_IngestObservationsValidates(t *testing.T) {
	s := setupTestServices(t)

	_, err := s.estimations.IngestObservations(context.Background(), []ObservationInput{{
		ModelID:    "iphone-13",
		Platform:   "vinted",
		Condition:  "shiny",
		Price:      10,
		ObservedAt: testNow,
	}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("error = %v, want ErrInvalidRequest", err)
	}
}
