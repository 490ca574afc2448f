package handlers

import (
	"context"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
	"github.com/jmylchreest/flipdeck-api/internal/http/mw"
	"github.com/jmylchreest/flipdeck-api/internal/models"
	"github.com/jmylchreest/flipdeck-api/internal/service"
)

// AccountHandler serves the caller's credit account.
type AccountHandler struct {
	credits *service.CreditService
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(credits *service.CreditService) *AccountHandler {
	return &AccountHandler{credits: credits}
}

// ensureAccount opens the caller's account on first sight and keeps its plan
// in step with the session claims.
func ensureAccount(ctx context.Context, credits *service.CreditService, claims *mw.UserClaims) (*models.CreditAccount, error) {
	acct, err := credits.EnsureAccount(ctx, claims.UserID, claims.Plan)
	if err != nil {
		return nil, err
	}
	if claims.Plan == "" {
		return acct, nil
	}
	if plan := string(constants.NormalizePlanName(claims.Plan)); plan != acct.Plan {
		if err := credits.SetPlan(ctx, claims.UserID, plan); err != nil {
			return nil, err
		}
		acct.Plan = plan
	}
	return acct, nil
}

// EntitlementsView is the client-facing form of a plan's entitlements.
type EntitlementsView struct {
	Plan           string                 `json:"plan" doc:"Plan identifier"`
	DisplayName    string                 `json:"display_name" doc:"User-facing plan name"`
	MonthlyCredits int64                  `json:"monthly_credits" doc:"Credits granted at every monthly reset"`
	Limits         constants.Limits       `json:"limits"`
	Capabilities   constants.Capabilities `json:"capabilities"`
}

func newEntitlementsView(ent constants.PlanEntitlements) EntitlementsView {
	return EntitlementsView{
		Plan:           string(ent.Plan),
		DisplayName:    ent.DisplayName,
		MonthlyCredits: ent.MonthlyCredits,
		Limits:         ent.Limits,
		Capabilities:   ent.Capabilities,
	}
}

// GetAccountOutput represents the account summary response.
type GetAccountOutput struct {
	Body struct {
		models.AccountSummary
		Entitlements EntitlementsView `json:"entitlements"`
	}
}

// GetAccount returns the caller's balance, reset date and entitlements.
func (h *AccountHandler) GetAccount(ctx context.Context, input *struct{}) (*GetAccountOutput, error) {
	claims, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := ensureAccount(ctx, h.credits, claims); err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: claims.Plan})
	}

	summary, err := h.credits.Summary(ctx, claims.UserID)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: claims.Plan})
	}

	out := &GetAccountOutput{}
	out.Body.AccountSummary = *summary
	out.Body.Entitlements = newEntitlementsView(constants.Resolve(summary.Plan))
	return out, nil
}

// ListLedgerInput represents ledger pagination.
type ListLedgerInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"200" doc:"Maximum entries to return"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Entries to skip"`
}

// ListLedgerOutput represents a page of ledger entries.
type ListLedgerOutput struct {
	Body struct {
		Entries []*models.LedgerEntry `json:"entries"`
		Total   int                   `json:"total"`
	}
}

// ListLedger returns the caller's ledger entries, newest first.
func (h *AccountHandler) ListLedger(ctx context.Context, input *ListLedgerInput) (*ListLedgerOutput, error) {
	claims, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := ensureAccount(ctx, h.credits, claims); err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: claims.Plan})
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	entries, total, err := h.credits.History(ctx, claims.UserID, limit, input.Offset)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: claims.Plan})
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}

	out := &ListLedgerOutput{}
	out.Body.Entries = entries
	out.Body.Total = total
	return out, nil
}
