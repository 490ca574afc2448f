package service

import (
	"github.com/jmylchreest/flipdeck-api/internal/constants"
	"github.com/jmylchreest/flipdeck-api/internal/models"
)

// EntitlementService answers plan questions for a given account. It holds no
// state; the plan is always passed in.
type EntitlementService struct{}

// NewEntitlementService creates a new entitlement service.
func NewEntitlementService() *EntitlementService {
	return &EntitlementService{}
}

// Resolve returns the entitlements for a plan.
func (s *EntitlementService) Resolve(plan string) constants.PlanEntitlements {
	return constants.Resolve(plan)
}

// CanUseEstimator reports whether the plan grants the estimator and the
// account can pay for one estimation.
func (s *EntitlementService) CanUseEstimator(plan string, account *models.CreditAccount) bool {
	ent := constants.Resolve(plan)
	return ent.Capabilities.CanUseEstimator && account != nil && account.Balance >= ent.Limits.EstimationCreditCost
}

// CheckEstimator returns why an estimation cannot run, or nil. The plan is
// checked before the balance.
func (s *EntitlementService) CheckEstimator(plan string, account *models.CreditAccount, advanced bool) error {
	ent := constants.Resolve(plan)
	if !ent.Capabilities.CanUseEstimator {
		return ErrPlanRestricted
	}
	if advanced && !ent.Capabilities.CanUseAdvancedMode {
		return ErrPlanRestricted
	}
	if account == nil || account.Balance < ent.Limits.EstimationCreditCost {
		return ErrInsufficientCredits
	}
	return nil
}

// CanExport reports whether the plan may export estimations.
func (s *EntitlementService) CanExport(plan string) bool {
	return constants.Resolve(plan).Capabilities.CanExportEstimation
}
