package service

import (
	"errors"
	"testing"

	"github.com/jmylchreest/flipdeck-api/internal/models"
)

func TestEntitlementService_CheckEstimator(t *testing.T) {
	svc := NewEntitlementService()

	tests := []struct {
		name     string
		plan     string
		balance  int64
		noAcct   bool
		advanced bool
		wantErr  error
	}{
		{"starter with credits", "starter", 5, false, false, nil},
		{"starter broke", "starter", 0, false, false, ErrInsufficientCredits},
		{"starter advanced", "starter", 100, false, true, ErrPlanRestricted},
		{"starter advanced broke", "starter", 0, false, true, ErrPlanRestricted},
		{"pro advanced", "pro", 5, false, true, nil},
		{"pro one short", "pro", 4, false, false, ErrInsufficientCredits},
		{"elite cheaper", "elite", 3, false, true, nil},
		{"no account", "pro", 0, true, false, ErrInsufficientCredits},
		{"unknown plan fails closed", "platinum", 100, false, true, ErrPlanRestricted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var acct *models.CreditAccount
			if !tt.noAcct {
				acct = &models.CreditAccount{UserID: "user-1", Plan: tt.plan, Balance: tt.balance}
			}

			err := svc.CheckEstimator(tt.plan, acct, tt.advanced)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckEstimator() = %v, want %v", err, tt.wantErr)
			}

			if !tt.advanced {
				if got := svc.CanUseEstimator(tt.plan, acct); got != (tt.wantErr == nil) {
					t.Errorf("CanUseEstimator() = %v, want %v", got, tt.wantErr == nil)
				}
			}
		})
	}
}

func TestEntitlementService_CanExport(t *testing.T) {
	svc := NewEntitlementService()

	for plan, want := range map[string]bool{"starter": false, "pro": false, "elite": true, "": false} {
		if got := svc.CanExport(plan); got != want {
			t.Errorf("CanExport(%q) = %v, want %v", plan, got, want)
		}
	}
}
