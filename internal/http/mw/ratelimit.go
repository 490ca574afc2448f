package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// PlanLimits maps plan names to their requests per minute limit.
	// A value of 0 means unlimited (no rate limiting applied).
	PlanLimits map[string]int
	// IPRequestsPerMinute is a fallback rate limit by IP for unauthenticated requests
	IPRequestsPerMinute int
}

// DefaultRateLimitConfig returns defaults from the constants package.
func DefaultRateLimitConfig() RateLimitConfig {
	planLimits := make(map[string]int)
	for _, ent := range constants.AllPlans() {
		planLimits[string(ent.Plan)] = ent.Limits.RequestsPerMinute
	}
	return RateLimitConfig{
		PlanLimits:          planLimits,
		IPRequestsPerMinute: constants.GlobalIPRateLimitPerMinute,
	}
}

// RateLimitByUser returns a middleware that rate limits by user ID.
// Should be applied AFTER OptionalAuth so claims are available.
// Falls back to IP-based limiting if user is not authenticated.
// Honors RequestsPerMinute=0 as unlimited (no rate limiting).
func RateLimitByUser(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyByUser := httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		claims := GetUserClaims(r.Context())
		if claims == nil || claims.UserID == "" {
			return httprate.KeyByIP(r)
		}
		return "user:" + claims.UserID, nil
	})

	planLimiters := make(map[string]*httprate.RateLimiter)
	for plan, limit := range cfg.PlanLimits {
		if limit > 0 {
			planLimiters[plan] = httprate.NewRateLimiter(limit, time.Minute, keyByUser)
		}
	}

	fallbackLimiter := httprate.NewRateLimiter(
		cfg.IPRequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserClaims(r.Context())
			if claims == nil || claims.IsSupplyKey {
				if claims != nil {
					// Backend supply traffic is not user-facing
					next.ServeHTTP(w, r)
					return
				}
				fallbackLimiter.Handler(next).ServeHTTP(w, r)
				return
			}

			plan := string(constants.NormalizePlanName(claims.Plan))
			if limit, ok := cfg.PlanLimits[plan]; ok && limit == 0 {
				next.ServeHTTP(w, r)
				return
			}

			limiter, ok := planLimiters[plan]
			if !ok {
				limiter = fallbackLimiter
			}
			limiter.Handler(next).ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP returns a middleware that rate limits by IP address.
// Used as the global fallback ahead of authentication.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
