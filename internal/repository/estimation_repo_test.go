package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/flipdeck-api/internal/models"
)

func TestEstimationRepository_CreateAndGet(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	sell := 82.5
	rec := &models.EstimationRecord{
		ID: "est-1", UserID: "alice", ModelID: "pkm-151-etb", IdempotencyKey: "k1", CreditCost: 5,
		Result: models.EstimationResult{
			ID: "est-1", ModelID: "pkm-151-etb", Condition: models.ConditionNew,
			MarketMedianPrice: 75, SellPrice1m: &sell, CreditCost: 5,
		},
		CreatedAt: testNow,
	}
	if err := repos.Estimation.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repos.Estimation.GetByID(ctx, "alice", "est-1")
	if err != nil || got == nil {
		t.Fatalf("GetByID = %v, %v", got, err)
	}
	if got.Result.SellPrice1m == nil || *got.Result.SellPrice1m != sell {
		t.Errorf("sell price not preserved: %v", got.Result.SellPrice1m)
	}
	if got.IdempotencyKey != "k1" {
		t.Errorf("key = %q, want k1", got.IdempotencyKey)
	}

	// Other users cannot read it
	if other, _ := repos.Estimation.GetByID(ctx, "bob", "est-1"); other != nil {
		t.Error("estimation visible to another user")
	}

	list, _ := repos.Estimation.ListByUser(ctx, "alice", 10, 0)
	if len(list) != 1 {
		t.Errorf("ListByUser len = %d, want 1", len(list))
	}
	if n, _ := repos.Estimation.CountByUser(ctx, "alice"); n != 1 {
		t.Errorf("CountByUser = %d, want 1", n)
	}
}

func TestEstimationRepository_ReserveKey(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	window := 10 * time.Second

	ok, err := repos.Estimation.ReserveKey(ctx, "alice", "k1", "est-1", testNow.Add(window), testNow)
	if err != nil || !ok {
		t.Fatalf("first reserve: ok=%v err=%v", ok, err)
	}

	// Live binding wins
	ok, _ = repos.Estimation.ReserveKey(ctx, "alice", "k1", "est-2", testNow.Add(window), testNow.Add(time.Second))
	if ok {
		t.Error("live key reserved twice")
	}
	id, _ := repos.Estimation.LookupKey(ctx, "alice", "k1", testNow.Add(time.Second))
	if id != "est-1" {
		t.Errorf("LookupKey = %q, want est-1", id)
	}

	// Same key for another user is independent
	if ok, _ := repos.Estimation.ReserveKey(ctx, "bob", "k1", "est-3", testNow.Add(window), testNow); !ok {
		t.Error("key reservation leaked across users")
	}

	// Expired binding is replaced
	later := testNow.Add(window + time.Second)
	if id, _ := repos.Estimation.LookupKey(ctx, "alice", "k1", later); id != "" {
		t.Errorf("expired LookupKey = %q, want empty", id)
	}
	ok, _ = repos.Estimation.ReserveKey(ctx, "alice", "k1", "est-4", later.Add(window), later)
	if !ok {
		t.Error("expired key not replaced")
	}

	n, err := repos.Estimation.PruneKeys(ctx, later.Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneKeys: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}
}

func TestMarketRepository_ListForModel(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	obs := []*models.MarketObservation{
		{ID: "o1", ModelID: "m1", Platform: "vinted", Region: "fr", Condition: models.ConditionNew, Price: 70, ObservedAt: testNow.Add(-48 * time.Hour)},
		{ID: "o2", ModelID: "m1", Platform: "ebay", Region: "de", Condition: models.ConditionNew, Price: 80, Sold: true, ObservedAt: testNow.Add(-24 * time.Hour)},
		{ID: "o3", ModelID: "m1", Platform: "vinted", Region: "fr", Condition: models.ConditionGood, Price: 60, ObservedAt: testNow.AddDate(0, 0, -200)},
		{ID: "o4", ModelID: "m2", Platform: "vinted", Region: "fr", Condition: models.ConditionNew, Price: 10, ObservedAt: testNow},
	}
	if err := repos.Market.Insert(ctx, obs); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// Re-ingesting the same IDs is a no-op
	if err := repos.Market.Insert(ctx, obs[:1]); err != nil {
		t.Fatalf("re-Insert: %v", err)
	}

	since := testNow.AddDate(0, 0, -90)
	all, err := repos.Market.ListForModel(ctx, "m1", "", since)
	if err != nil {
		t.Fatalf("ListForModel: %v", err)
	}
	if len(all) != 2 || all[0].ID != "o1" || all[1].ID != "o2" {
		t.Fatalf("all regions = %v, want [o1 o2]", ids(all))
	}
	if !all[1].Sold {
		t.Error("sold flag not preserved")
	}

	fr, _ := repos.Market.ListForModel(ctx, "m1", "fr", since)
	if len(fr) != 1 || fr[0].ID != "o1" {
		t.Errorf("fr = %v, want [o1]", ids(fr))
	}
}

func ids(obs []*models.MarketObservation) []string {
	out := make([]string, 0, len(obs))
	for _, o := range obs {
		out = append(out, o.ID)
	}
	return out
}
