package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jmylchreest/flipdeck-api/internal/constants"
	"github.com/jmylchreest/flipdeck-api/internal/models"
	"github.com/jmylchreest/flipdeck-api/internal/service"
)

// EstimationHandler serves priced estimations.
type EstimationHandler struct {
	estimations *service.EstimationService
	credits     *service.CreditService
	logger      *slog.Logger
}

// NewEstimationHandler creates a new estimation handler.
func NewEstimationHandler(estimations *service.EstimationService, credits *service.CreditService, logger *slog.Logger) *EstimationHandler {
	return &EstimationHandler{
		estimations: estimations,
		credits:     credits,
		logger:      logger,
	}
}

// RunEstimationInput represents an estimation request.
type RunEstimationInput struct {
	IdempotencyKey string `header:"Idempotency-Key" maxLength:"128" doc:"Replays the stored result instead of debiting again when reused shortly after"`
	Body           models.EstimationRequest
}

// EstimationOutput represents a single estimation.
type EstimationOutput struct {
	Body *models.EstimationResult
}

// RunEstimation debits the plan's estimation cost and returns the masked result.
// Insufficient credits are reported as 402.
func (h *EstimationHandler) RunEstimation(ctx context.Context, input *RunEstimationInput) (*EstimationOutput, error) {
	claims, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := ensureAccount(ctx, h.credits, claims)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: claims.Plan})
	}

	result, err := h.estimations.Estimate(ctx, claims.UserID, acct.Plan, input.Body, input.IdempotencyKey)
	if err != nil {
		ec := errorContext{
			Plan:    acct.Plan,
			Feature: "The estimator",
			Cost:    constants.Resolve(acct.Plan).Limits.EstimationCreditCost,
			Balance: acct.Balance,
		}
		if input.Body.AdvancedMode {
			ec.Feature = "Advanced mode"
		}
		if errors.Is(err, service.ErrInsufficientCredits) {
			// Report the balance the check actually saw
			if fresh, ferr := h.credits.GetAccount(ctx, claims.UserID); ferr == nil {
				ec.Balance = fresh.Balance
			}
		}
		return nil, toAPIError(ctx, err, ec)
	}
	return &EstimationOutput{Body: result}, nil
}

// ListEstimationsInput represents history pagination.
type ListEstimationsInput struct {
	Page     int `query:"page" default:"1" minimum:"1" doc:"Page number, starting at 1"`
	PageSize int `query:"page_size" default:"20" minimum:"1" maximum:"100" doc:"Results per page"`
}

// ListEstimationsOutput represents a page of estimation history.
type ListEstimationsOutput struct {
	Body struct {
		Estimations []models.EstimationResult `json:"estimations"`
		Total       int                       `json:"total"`
		Page        int                       `json:"page"`
		PageSize    int                       `json:"page_size"`
	}
}

// ListEstimations returns the caller's history, masked by the current plan.
func (h *EstimationHandler) ListEstimations(ctx context.Context, input *ListEstimationsInput) (*ListEstimationsOutput, error) {
	claims, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := ensureAccount(ctx, h.credits, claims)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: claims.Plan})
	}

	page := max(input.Page, 1)
	pageSize := input.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	results, total, err := h.estimations.History(ctx, claims.UserID, acct.Plan, page, pageSize)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: acct.Plan})
	}
	if results == nil {
		results = []models.EstimationResult{}
	}

	out := &ListEstimationsOutput{}
	out.Body.Estimations = results
	out.Body.Total = total
	out.Body.Page = page
	out.Body.PageSize = min(pageSize, constants.MaxEstimationPageSize)
	return out, nil
}

// ExportEstimationInput identifies the estimation to export.
type ExportEstimationInput struct {
	ID string `path:"id" doc:"Estimation ID"`
}

// ExportEstimationOutput represents a CSV export.
type ExportEstimationOutput struct {
	Body *service.ExportResult
}

// ExportEstimation renders one of the caller's estimations as CSV.
func (h *EstimationHandler) ExportEstimation(ctx context.Context, input *ExportEstimationInput) (*ExportEstimationOutput, error) {
	claims, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := ensureAccount(ctx, h.credits, claims)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: claims.Plan})
	}

	result, err := h.estimations.Export(ctx, claims.UserID, acct.Plan, input.ID)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: acct.Plan})
	}
	return &ExportEstimationOutput{Body: result}, nil
}
