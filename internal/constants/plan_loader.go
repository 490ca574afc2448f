package constants

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/jmylchreest/flipdeck-api/internal/config"
)

// PlanSettingsJSON represents the JSON structure for plan overrides from S3.
type PlanSettingsJSON struct {
	Plans map[string]PlanJSON `json:"plans"`
}

// PlanJSON represents one plan in JSON format.
type PlanJSON struct {
	DisplayName    string       `json:"display_name,omitempty"`
	Order          int          `json:"order,omitempty"`
	MonthlyCredits int64        `json:"monthly_credits"`
	Limits         Limits       `json:"limits"`
	Capabilities   Capabilities `json:"capabilities"`
}

// PlanSettingsLoader provides S3-backed plan overrides with caching.
// An override set is applied as a whole, and only when it keeps
// capabilities non-decreasing across plans.
type PlanSettingsLoader struct {
	loader *config.S3Loader

	mu     sync.RWMutex
	plans  map[Plan]PlanEntitlements
	logger *slog.Logger
}

// PlanSettingsConfig holds configuration for the plan settings loader.
type PlanSettingsConfig = config.S3LoaderConfig

var (
	planLoader     *PlanSettingsLoader
	planLoaderOnce sync.Once
)

// InitPlanLoader initializes the global plan settings loader.
// Call this at startup if you want S3-backed plan settings.
func InitPlanLoader(cfg PlanSettingsConfig) {
	planLoaderOnce.Do(func() {
		planLoader = &PlanSettingsLoader{
			loader: config.NewS3Loader(cfg),
			logger: cfg.Logger,
		}
		if planLoader.logger == nil {
			planLoader.logger = slog.Default()
		}
	})
}

// GetPlanLoader returns the global plan settings loader (may be nil if not initialized).
func GetPlanLoader() *PlanSettingsLoader {
	return planLoader
}

// IsEnabled returns true if S3 is configured.
func (l *PlanSettingsLoader) IsEnabled() bool {
	return l.loader.IsEnabled()
}

// Refresh fetches plan settings from S3 if the cache has gone stale.
// Intended to be called from a ticker, not from the request path.
func (l *PlanSettingsLoader) Refresh(ctx context.Context) {
	if !l.loader.NeedsRefresh() {
		return
	}

	result, err := l.loader.Fetch(ctx)
	if err != nil || result == nil || result.NotChanged {
		return
	}

	plans, err := parsePlanSettings(result.Data)
	if err != nil {
		l.logger.Error("rejected plan settings from S3", "error", err)
		return
	}

	l.mu.Lock()
	l.plans = plans
	l.mu.Unlock()

	l.logger.Info("plan settings loaded from S3", "plan_count", len(plans))
}

// get returns the override for a plan, or nil.
func (l *PlanSettingsLoader) get(p Plan) *PlanEntitlements {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if ent, ok := l.plans[p]; ok {
		return &ent
	}
	return nil
}

// parsePlanSettings decodes an override document, fills missing plans from
// the compiled defaults, and validates capability monotonicity.
func parsePlanSettings(data []byte) (map[Plan]PlanEntitlements, error) {
	var settings PlanSettingsJSON
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}

	plansMu.RLock()
	merged := make(map[Plan]PlanEntitlements, len(Plans))
	for k, v := range Plans {
		merged[k] = v
	}
	plansMu.RUnlock()

	for name, pj := range settings.Plans {
		if !IsKnownPlan(name) {
			continue
		}
		p := NormalizePlanName(name)
		ent := merged[p]
		if pj.DisplayName != "" {
			ent.DisplayName = pj.DisplayName
		}
		if pj.Order != 0 {
			ent.Order = pj.Order
		}
		ent.MonthlyCredits = pj.MonthlyCredits
		ent.Limits = pj.Limits
		ent.Capabilities = pj.Capabilities
		merged[p] = ent
	}

	if err := ValidateMonotonic(merged); err != nil {
		return nil, err
	}
	return merged, nil
}
