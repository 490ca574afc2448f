// Package constants defines centralized configuration for plan entitlements,
// rate limits, and user-facing messages. Change values here to update
// limits across the entire application.
package constants

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// plansMu protects concurrent access to the Plans map.
var plansMu sync.RWMutex

// Plan is a subscription tier.
type Plan string

// Plan names, ordered from most to least restrictive.
const (
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
	PlanElite   Plan = "elite"
)

// PlanOrder lists plans from lowest to highest. Capabilities must never
// decrease along this order.
var PlanOrder = []Plan{PlanStarter, PlanPro, PlanElite}

// Rank returns the position of the plan in PlanOrder (starter = 0).
// Unknown plans rank as starter.
func (p Plan) Rank() int {
	for i, known := range PlanOrder {
		if known == p {
			return i
		}
	}
	return 0
}

// Limits holds the numeric limits of a plan.
type Limits struct {
	// MaxAlerts is the max number of price alerts a user may keep.
	MaxAlerts int `json:"max_alerts"`
	// MaxCommunityJobsPerDay is the number of community task claims allowed per UTC day.
	MaxCommunityJobsPerDay int `json:"max_community_jobs_per_day"`
	// CooldownMinutes is the wait imposed between two claims.
	CooldownMinutes int `json:"cooldown_minutes"`
	// EstimationCreditCost is debited for every successful estimation.
	EstimationCreditCost int64 `json:"estimation_credit_cost"`
	// RequestsPerMinute is the authenticated API rate limit (0 = unlimited).
	RequestsPerMinute int `json:"requests_per_minute"`
}

// Capabilities is the visibility and action set granted by a plan.
type Capabilities struct {
	CanUseEstimator     bool `json:"can_use_estimator"`
	CanUseAdvancedMode  bool `json:"can_use_advanced_mode"`
	CanSeeBuyPrice      bool `json:"can_see_buy_price"`
	CanSeeSellPrice     bool `json:"can_see_sell_price"`
	CanSeeMargin        bool `json:"can_see_margin"`
	CanSeeProbability   bool `json:"can_see_probability"`
	CanSeeTrend         bool `json:"can_see_trend"`
	ChartInteractive    bool `json:"chart_interactive"`
	CanExportEstimation bool `json:"can_export_estimation"`
}

// flags returns the capabilities as an ordered list of named flags.
// Used for monotonicity checks and for reporting which fields were masked.
func (c Capabilities) flags() []capabilityFlag {
	return []capabilityFlag{
		{"can_use_estimator", c.CanUseEstimator},
		{"can_use_advanced_mode", c.CanUseAdvancedMode},
		{"can_see_buy_price", c.CanSeeBuyPrice},
		{"can_see_sell_price", c.CanSeeSellPrice},
		{"can_see_margin", c.CanSeeMargin},
		{"can_see_probability", c.CanSeeProbability},
		{"can_see_trend", c.CanSeeTrend},
		{"chart_interactive", c.ChartInteractive},
		{"can_export_estimation", c.CanExportEstimation},
	}
}

type capabilityFlag struct {
	name    string
	granted bool
}

// PlanEntitlements is the resolved view of a plan.
type PlanEntitlements struct {
	Plan Plan
	// DisplayName is the user-facing plan name exposed as planDisplayName.
	DisplayName string
	// Order controls the display order in pricing tables (lower = first).
	Order int
	// MonthlyCredits is the allotment granted at every monthly reset.
	// Unused credits are forfeited at reset.
	MonthlyCredits int64
	Limits         Limits
	Capabilities   Capabilities
}

// Plans defines entitlements for each plan.
// To change plan limits, modify this map (or override it from S3, see plan_loader.go).
var Plans = map[Plan]PlanEntitlements{
	PlanStarter: {
		Plan:           PlanStarter,
		DisplayName:    "Starter",
		Order:          0,
		MonthlyCredits: 20,
		Limits: Limits{
			MaxAlerts:              3,
			MaxCommunityJobsPerDay: 3,
			CooldownMinutes:        30,
			EstimationCreditCost:   5,
			RequestsPerMinute:      30,
		},
		Capabilities: Capabilities{
			CanUseEstimator: true, // basic mode only
		},
	},
	PlanPro: {
		Plan:           PlanPro,
		DisplayName:    "Pro",
		Order:          1,
		MonthlyCredits: 120,
		Limits: Limits{
			MaxAlerts:              20,
			MaxCommunityJobsPerDay: 10,
			CooldownMinutes:        10,
			EstimationCreditCost:   5,
			RequestsPerMinute:      120,
		},
		Capabilities: Capabilities{
			CanUseEstimator:    true,
			CanUseAdvancedMode: true,
			CanSeeBuyPrice:     true,
			CanSeeSellPrice:    true,
			CanSeeMargin:       true,
			CanSeeTrend:        true,
		},
	},
	PlanElite: {
		Plan:           PlanElite,
		DisplayName:    "Elite",
		Order:          2,
		MonthlyCredits: 400,
		Limits: Limits{
			MaxAlerts:              100,
			MaxCommunityJobsPerDay: 25,
			CooldownMinutes:        2,
			EstimationCreditCost:   3,
			RequestsPerMinute:      300,
		},
		Capabilities: Capabilities{
			CanUseEstimator:     true,
			CanUseAdvancedMode:  true,
			CanSeeBuyPrice:      true,
			CanSeeSellPrice:     true,
			CanSeeMargin:        true,
			CanSeeProbability:   true,
			CanSeeTrend:         true,
			ChartInteractive:    true,
			CanExportEstimation: true,
		},
	},
}

// Resolve returns the entitlements for a plan. Unknown plans fail closed to
// starter. Thread-safe; the result is a copy.
func Resolve(plan string) PlanEntitlements {
	p := NormalizePlanName(plan)

	if planLoader != nil && planLoader.IsEnabled() {
		if ent := planLoader.get(p); ent != nil {
			return *ent
		}
	}

	plansMu.RLock()
	defer plansMu.RUnlock()

	if ent, ok := Plans[p]; ok {
		return ent
	}
	return Plans[PlanStarter]
}

// NormalizePlanName maps raw plan identifiers to a known Plan.
// Examples:
//   - "Pro" -> pro
//   - "plan_v1_elite" -> elite
//   - "gold" -> starter
func NormalizePlanName(plan string) Plan {
	p := strings.ToLower(strings.TrimSpace(plan))
	p = strings.TrimPrefix(p, "plan_v1_")

	switch Plan(p) {
	case PlanStarter, PlanPro, PlanElite:
		return Plan(p)
	default:
		return PlanStarter
	}
}

// IsKnownPlan reports whether the raw value names a plan without falling back.
func IsKnownPlan(plan string) bool {
	p := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(plan)), "plan_v1_")
	_, ok := Plans[Plan(p)]
	return ok
}

// ValidateMonotonic checks that no plan hides a capability that a lower plan
// grants. It returns an error naming the first offending flag.
func ValidateMonotonic(plans map[Plan]PlanEntitlements) error {
	for i := 1; i < len(PlanOrder); i++ {
		lower, okLower := plans[PlanOrder[i-1]]
		higher, okHigher := plans[PlanOrder[i]]
		if !okLower || !okHigher {
			return fmt.Errorf("plan set is missing %s or %s", PlanOrder[i-1], PlanOrder[i])
		}
		lf := lower.Capabilities.flags()
		hf := higher.Capabilities.flags()
		for j := range lf {
			if lf[j].granted && !hf[j].granted {
				return fmt.Errorf("%s grants %s but %s does not", lower.Plan, lf[j].name, higher.Plan)
			}
		}
	}
	return nil
}

// AllPlans returns the entitlements of every plan in display order.
func AllPlans() []PlanEntitlements {
	out := make([]PlanEntitlements, 0, len(PlanOrder))
	for _, p := range PlanOrder {
		out = append(out, Resolve(string(p)))
	}
	return out
}

// NextMonthlyReset returns the first instant of the calendar month after t (UTC).
func NextMonthlyReset(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Global rate limiting defaults
const (
	// GlobalIPRateLimitPerMinute is the fallback rate limit for unauthenticated requests
	GlobalIPRateLimitPerMinute = 100
	// GlobalConcurrencyLimit is the max concurrent requests the server will handle
	GlobalConcurrencyLimit = 100
	// MaxRequestBodySize is the max request body size in bytes (1MB)
	MaxRequestBodySize = 1 * 1024 * 1024
)

// Community job defaults
const (
	// DefaultJobExpiryWindow is how long a claimed job may go without a
	// progress report before it expires.
	DefaultJobExpiryWindow = 20 * time.Minute
	// DefaultExpirySweepInterval is how often stale jobs are expired.
	DefaultExpirySweepInterval = 1 * time.Minute
	// DefaultQuotaRetentionDays is how long per-day quota rows are kept.
	DefaultQuotaRetentionDays = 35
	// DefaultExportRetention is how long exported CSVs stay in object storage.
	DefaultExportRetention = 7 * 24 * time.Hour
)

// Estimation defaults
const (
	// DefaultEstimationDedupeWindow is how long an Idempotency-Key replays
	// the stored estimation instead of debiting again.
	DefaultEstimationDedupeWindow = 10 * time.Second
	// MaxEstimationPageSize caps estimation history pages.
	MaxEstimationPageSize = 100
)

// HTTP request timeouts
const (
	// DefaultRequestTimeout is the timeout for most API endpoints
	DefaultRequestTimeout = 30 * time.Second
)

// Cache durations for Cache-Control headers
const (
	// CacheMaxAgeShort is for rapidly changing data (task lists, health checks)
	CacheMaxAgeShort = 30 * time.Second
	// CacheMaxAgeMedium is for semi-stable data (plan info)
	CacheMaxAgeMedium = 5 * time.Minute
)

// InsufficientCreditsMessage returns a user-facing message prompting a recharge.
func InsufficientCreditsMessage(balance, cost int64) string {
	return fmt.Sprintf("This estimation costs %d credits and you have %d. Recharge credits or wait for your monthly reset.", cost, balance)
}

// PlanRestrictedMessage returns a user-facing upgrade prompt for a gated feature.
func PlanRestrictedMessage(plan string, feature string) string {
	current := Resolve(plan)
	switch current.Plan {
	case PlanStarter:
		return fmt.Sprintf("%s is not available on the %s plan. Upgrade to Pro to unlock it.", feature, current.DisplayName)
	case PlanPro:
		return fmt.Sprintf("%s is not available on the %s plan. Upgrade to Elite to unlock it.", feature, current.DisplayName)
	default:
		return fmt.Sprintf("%s is not available on your current plan.", feature)
	}
}

// DailyLimitMessage returns a user-facing message for an exhausted claim quota.
func DailyLimitMessage(plan string) string {
	ent := Resolve(plan)
	return fmt.Sprintf("You've claimed %d community tasks today, the %s plan limit. Come back tomorrow or upgrade for more.",
		ent.Limits.MaxCommunityJobsPerDay, ent.DisplayName)
}

// CooldownMessage returns a user-facing message carrying the remaining wait.
func CooldownMessage(remainingMinutes int) string {
	if remainingMinutes == 1 {
		return "You can claim another task in 1 minute."
	}
	return fmt.Sprintf("You can claim another task in %d minutes.", remainingMinutes)
}
