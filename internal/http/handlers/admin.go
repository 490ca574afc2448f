package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/flipdeck-api/internal/models"
	"github.com/jmylchreest/flipdeck-api/internal/service"
)

// AdminHandler handles superadmin and supply-backend endpoints.
type AdminHandler struct {
	community   *service.CommunityService
	credits     *service.CreditService
	estimations *service.EstimationService
	logger      *slog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(community *service.CommunityService, credits *service.CreditService, estimations *service.EstimationService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		community:   community,
		credits:     credits,
		estimations: estimations,
		logger:      logger,
	}
}

// SupplyTaskInput represents a new community task.
type SupplyTaskInput struct {
	Body service.CreateTaskInput
}

// SupplyTask adds a task to the available pool.
func (h *AdminHandler) SupplyTask(ctx context.Context, input *SupplyTaskInput) (*TaskOutput, error) {
	task, err := h.community.SupplyTask(ctx, input.Body)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{})
	}
	h.logger.Info("admin supplied task", "task_id", task.ID, "actor", getUserID(ctx))
	return &TaskOutput{Body: task}, nil
}

// ResetAccountInput identifies the account to reset.
type ResetAccountInput struct {
	UserID string `path:"userId" doc:"Clerk user ID"`
}

// ResetAccountOutput represents the account after a forced reset.
type ResetAccountOutput struct {
	Body *models.CreditAccount
}

// ResetAccount forces a monthly reset ahead of the account's boundary.
func (h *AdminHandler) ResetAccount(ctx context.Context, input *ResetAccountInput) (*ResetAccountOutput, error) {
	acct, err := h.credits.ResetMonthly(ctx, input.UserID)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{})
	}
	h.logger.Info("admin forced credit reset", "user_id", input.UserID, "actor", getUserID(ctx), "balance", acct.Balance)
	return &ResetAccountOutput{Body: acct}, nil
}

// IngestObservationsInput represents a batch of market listings.
type IngestObservationsInput struct {
	Body struct {
		Observations []service.ObservationInput `json:"observations" minItems:"1" maxItems:"1000"`
	}
}

// IngestObservationsOutput reports how many observations were stored.
type IngestObservationsOutput struct {
	Body struct {
		Ingested int `json:"ingested"`
	}
}

// IngestObservations stores market observations feeding the estimation engine.
func (h *AdminHandler) IngestObservations(ctx context.Context, input *IngestObservationsInput) (*IngestObservationsOutput, error) {
	n, err := h.estimations.IngestObservations(ctx, input.Body.Observations)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{})
	}
	out := &IngestObservationsOutput{}
	out.Body.Ingested = n
	return out, nil
}

// DisabledAdmin answers every admin route with 404. Used when ADMIN_ENABLED
// is off (always in self-hosted mode).
type DisabledAdmin struct{}

var errAdminDisabled = huma.Error404NotFound("admin endpoints are disabled")

func (DisabledAdmin) SupplyTask(context.Context, *SupplyTaskInput) (*TaskOutput, error) {
	return nil, errAdminDisabled
}

func (DisabledAdmin) ResetAccount(context.Context, *ResetAccountInput) (*ResetAccountOutput, error) {
	return nil, errAdminDisabled
}

func (DisabledAdmin) IngestObservations(context.Context, *IngestObservationsInput) (*IngestObservationsOutput, error) {
	return nil, errAdminDisabled
}
