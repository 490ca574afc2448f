package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
)

// ========================================
// DefaultRateLimitConfig Tests
// ========================================

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()

	for _, plan := range constants.PlanOrder {
		limit, ok := cfg.PlanLimits[string(plan)]
		if !ok {
			t.Errorf("expected PlanLimits to contain %q", plan)
			continue
		}
		if want := constants.Resolve(string(plan)).Limits.RequestsPerMinute; limit != want {
			t.Errorf("PlanLimits[%s] = %d, want %d", plan, limit, want)
		}
	}

	if cfg.IPRequestsPerMinute != constants.GlobalIPRateLimitPerMinute {
		t.Errorf("IPRequestsPerMinute = %d, want %d", cfg.IPRequestsPerMinute, constants.GlobalIPRateLimitPerMinute)
	}
}

// ========================================
// RateLimitByUser Tests
// ========================================

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveAs(h http.Handler, claims *UserClaims, remoteAddr string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/test", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if claims != nil {
		req = req.WithContext(WithUserClaims(req.Context(), claims))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitByUser_NoAuth(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{
		PlanLimits:          map[string]int{"starter": 60},
		IPRequestsPerMinute: 30,
	})(okHandler())

	if code := serveAs(handler, nil, "192.168.1.1:12345"); code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
}

func TestRateLimitByUser_EnforcesPlanLimit(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{
		PlanLimits:          map[string]int{"starter": 2, "elite": 50},
		IPRequestsPerMinute: 30,
	})(okHandler())

	starter := &UserClaims{UserID: "user_a", Plan: "starter"}
	for i := 0; i < 2; i++ {
		if code := serveAs(handler, starter, ""); code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, code, http.StatusOK)
		}
	}
	if code := serveAs(handler, starter, ""); code != http.StatusTooManyRequests {
		t.Errorf("third starter request: status = %d, want %d", code, http.StatusTooManyRequests)
	}

	// Limits are per user, not shared across the plan
	other := &UserClaims{UserID: "user_b", Plan: "starter"}
	if code := serveAs(handler, other, ""); code != http.StatusOK {
		t.Errorf("other user: status = %d, want %d", code, http.StatusOK)
	}

	elite := &UserClaims{UserID: "user_c", Plan: "elite"}
	for i := 0; i < 5; i++ {
		if code := serveAs(handler, elite, ""); code != http.StatusOK {
			t.Fatalf("elite request %d: status = %d, want %d", i, code, http.StatusOK)
		}
	}
}

func TestRateLimitByUser_UnlimitedPlan(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{
		PlanLimits:          map[string]int{"starter": 60, "elite": 0},
		IPRequestsPerMinute: 30,
	})(okHandler())

	claims := &UserClaims{UserID: "user_123", Plan: "elite"}
	for i := 0; i < 100; i++ {
		if code := serveAs(handler, claims, ""); code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d (unlimited plan)", i, code, http.StatusOK)
			break
		}
	}
}

func TestRateLimitByUser_NormalizesPlan(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{
		PlanLimits:          map[string]int{"pro": 1},
		IPRequestsPerMinute: 100,
	})(okHandler())

	// "Plan_V1_Pro" resolves to the pro limiter, so the second call is limited
	claims := &UserClaims{UserID: "user_123", Plan: "Plan_V1_Pro"}
	if code := serveAs(handler, claims, ""); code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if code := serveAs(handler, claims, ""); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", code, http.StatusTooManyRequests)
	}
}

func TestRateLimitByUser_SupplyKeyBypasses(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{
		PlanLimits:          map[string]int{"starter": 1},
		IPRequestsPerMinute: 1,
	})(okHandler())

	claims := &UserClaims{UserID: supplyUserID, Plan: "starter", IsSupplyKey: true}
	for i := 0; i < 10; i++ {
		if code := serveAs(handler, claims, ""); code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, code, http.StatusOK)
		}
	}
}

// ========================================
// RateLimitByIP Tests
// ========================================

func TestRateLimitByIP(t *testing.T) {
	handler := RateLimitByIP(1)(okHandler())

	if code := serveAs(handler, nil, "192.168.1.1:12345"); code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if code := serveAs(handler, nil, "192.168.1.1:12345"); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", code, http.StatusTooManyRequests)
	}
	if code := serveAs(handler, nil, "10.0.0.1:12345"); code != http.StatusOK {
		t.Errorf("other IP: status = %d, want %d", code, http.StatusOK)
	}
}
