// Package routes provides shared route registration for the Flipdeck API.
// This allows both the main server and the OpenAPI generator to use
// the same route definitions, ensuring the spec is always in sync.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/flipdeck-api/internal/http/mw"
	"github.com/jmylchreest/flipdeck-api/internal/version"
)

// NewHumaConfig creates the shared Huma configuration for the API.
// This includes API metadata, security schemes, and tag definitions.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("Flipdeck API", version.Get().Short())
	cfg.Info.Description = "Resale price estimation, community data collection and credit accounting for Flipdeck."

	// Disable $schema field in responses - it conflicts with "schema" field in SDK code generators
	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Clerk session token. Include it in the Authorization header as `Bearer <token>`.",
		},
		mw.UploadTokenScheme: {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Job upload token returned by a claim. Valid only for the job it was issued for.",
		},
	}

	// Define OpenAPI tags with display names for documentation
	cfg.Tags = []*huma.Tag{
		{Name: "Community", Description: "Community task pool and claims", Extensions: map[string]any{"x-displayName": "Community"}},
		{Name: "Collector", Description: "Progress and outcome reports from collectors", Extensions: map[string]any{"x-displayName": "Collector"}},
		{Name: "Estimations", Description: "Credit-metered resale estimations", Extensions: map[string]any{"x-displayName": "Estimations"}},
		{Name: "Account", Description: "Credit balance, ledger and entitlements", Extensions: map[string]any{"x-displayName": "Account"}},
		{Name: "Plans", Description: "Subscription plans", Extensions: map[string]any{"x-displayName": "Plans"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}
