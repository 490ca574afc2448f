package constants

import (
	"strings"
	"testing"
	"time"
)

func TestResolve_KnownPlans(t *testing.T) {
	tests := []struct {
		plan        string
		wantPlan    Plan
		wantDisplay string
	}{
		{"starter", PlanStarter, "Starter"},
		{"pro", PlanPro, "Pro"},
		{"elite", PlanElite, "Elite"},
		{"  PRO ", PlanPro, "Pro"},
		{"plan_v1_elite", PlanElite, "Elite"},
	}

	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			got := Resolve(tt.plan)
			if got.Plan != tt.wantPlan {
				t.Errorf("Resolve(%q).Plan = %q, want %q", tt.plan, got.Plan, tt.wantPlan)
			}
			if got.DisplayName != tt.wantDisplay {
				t.Errorf("Resolve(%q).DisplayName = %q, want %q", tt.plan, got.DisplayName, tt.wantDisplay)
			}
		})
	}
}

func TestResolve_UnknownPlanFailsClosed(t *testing.T) {
	for _, raw := range []string{"", "gold", "enterprise", "plan_v2_pro"} {
		got := Resolve(raw)
		if got.Plan != PlanStarter {
			t.Errorf("Resolve(%q).Plan = %q, want starter", raw, got.Plan)
		}
		if got != Plans[PlanStarter] {
			t.Errorf("Resolve(%q) does not match starter entitlements", raw)
		}
	}
}

func TestResolve_IsPure(t *testing.T) {
	for _, p := range PlanOrder {
		a := Resolve(string(p))
		b := Resolve(string(p))
		if a != b {
			t.Errorf("Resolve(%q) returned different results on repeated calls", p)
		}
	}
}

func TestResolve_ReturnsCopy(t *testing.T) {
	ent := Resolve("pro")
	ent.Limits.EstimationCreditCost = 999
	ent.Capabilities.CanExportEstimation = true

	again := Resolve("pro")
	if again.Limits.EstimationCreditCost == 999 {
		t.Error("mutating a resolved value changed the plan table")
	}
	if again.Capabilities.CanExportEstimation {
		t.Error("mutating resolved capabilities changed the plan table")
	}
}

func TestDefaultPlans_AreMonotonic(t *testing.T) {
	if err := ValidateMonotonic(Plans); err != nil {
		t.Fatalf("default plans not monotonic: %v", err)
	}
}

func TestValidateMonotonic_RejectsRegression(t *testing.T) {
	plans := map[Plan]PlanEntitlements{}
	for k, v := range Plans {
		plans[k] = v
	}
	elite := plans[PlanElite]
	elite.Capabilities.CanSeeMargin = false
	plans[PlanElite] = elite

	err := ValidateMonotonic(plans)
	if err == nil {
		t.Fatal("expected error when elite hides margin granted by pro")
	}
	if !strings.Contains(err.Error(), "can_see_margin") {
		t.Errorf("error = %q, want mention of can_see_margin", err.Error())
	}
}

func TestValidateMonotonic_MissingPlan(t *testing.T) {
	plans := map[Plan]PlanEntitlements{
		PlanStarter: Plans[PlanStarter],
		PlanElite:   Plans[PlanElite],
	}
	if err := ValidateMonotonic(plans); err == nil {
		t.Error("expected error for missing pro plan")
	}
}

func TestParsePlanSettings(t *testing.T) {
	t.Run("override applied", func(t *testing.T) {
		data := []byte(`{"plans":{"pro":{"display_name":"Pro+","monthly_credits":150,
			"limits":{"max_alerts":25,"max_community_jobs_per_day":12,"cooldown_minutes":8,"estimation_credit_cost":4,"requests_per_minute":120},
			"capabilities":{"can_use_estimator":true,"can_use_advanced_mode":true,"can_see_buy_price":true,"can_see_sell_price":true,"can_see_margin":true,"can_see_trend":true}}}}`)

		plans, err := parsePlanSettings(data)
		if err != nil {
			t.Fatalf("parsePlanSettings() error = %v", err)
		}
		pro := plans[PlanPro]
		if pro.DisplayName != "Pro+" {
			t.Errorf("DisplayName = %q, want %q", pro.DisplayName, "Pro+")
		}
		if pro.MonthlyCredits != 150 {
			t.Errorf("MonthlyCredits = %d, want 150", pro.MonthlyCredits)
		}
		if pro.Limits.EstimationCreditCost != 4 {
			t.Errorf("EstimationCreditCost = %d, want 4", pro.Limits.EstimationCreditCost)
		}
		if plans[PlanElite] != Plans[PlanElite] {
			t.Error("plans absent from the override should keep defaults")
		}
	})

	t.Run("non-monotonic override rejected", func(t *testing.T) {
		data := []byte(`{"plans":{"starter":{"monthly_credits":20,"capabilities":{"can_use_estimator":true,"can_export_estimation":true}}}}`)
		if _, err := parsePlanSettings(data); err == nil {
			t.Error("expected rejection when starter exports but pro does not")
		}
	})

	t.Run("unknown plans ignored", func(t *testing.T) {
		data := []byte(`{"plans":{"platinum":{"monthly_credits":9999}}}`)
		plans, err := parsePlanSettings(data)
		if err != nil {
			t.Fatalf("parsePlanSettings() error = %v", err)
		}
		if len(plans) != len(Plans) {
			t.Errorf("len(plans) = %d, want %d", len(plans), len(Plans))
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := parsePlanSettings([]byte(`{`)); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestPlanRank(t *testing.T) {
	if PlanStarter.Rank() >= PlanPro.Rank() || PlanPro.Rank() >= PlanElite.Rank() {
		t.Error("plan ranks are not strictly increasing")
	}
	if Plan("unknown").Rank() != 0 {
		t.Error("unknown plan should rank as starter")
	}
}

func TestNextMonthlyReset(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"mid month", time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"december rolls year", time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"exact boundary moves forward", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextMonthlyReset(tt.in); !got.Equal(tt.want) {
				t.Errorf("NextMonthlyReset(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCooldownMessage(t *testing.T) {
	if got := CooldownMessage(1); !strings.Contains(got, "1 minute.") {
		t.Errorf("CooldownMessage(1) = %q", got)
	}
	if got := CooldownMessage(12); !strings.Contains(got, "12 minutes") {
		t.Errorf("CooldownMessage(12) = %q", got)
	}
}
