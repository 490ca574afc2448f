package handlers

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/flipdeck-api/internal/models"
	"github.com/jmylchreest/flipdeck-api/internal/service"
)

// CommunityHandler serves the community task pool.
type CommunityHandler struct {
	community *service.CommunityService
	credits   *service.CreditService
	logger    *slog.Logger
}

// NewCommunityHandler creates a new community handler.
func NewCommunityHandler(community *service.CommunityService, credits *service.CreditService, logger *slog.Logger) *CommunityHandler {
	return &CommunityHandler{
		community: community,
		credits:   credits,
		logger:    logger,
	}
}

// ListTasksOutput represents the available pool.
type ListTasksOutput struct {
	Body struct {
		Tasks   []*models.CommunityTask `json:"tasks"`
		Summary models.TaskSummary      `json:"summary"`
	}
}

// ListTasks returns the available tasks, highest priority first.
func (h *CommunityHandler) ListTasks(ctx context.Context, input *struct{}) (*ListTasksOutput, error) {
	if _, err := requireUser(ctx); err != nil {
		return nil, err
	}

	tasks, summary, err := h.community.ListAvailable(ctx)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{})
	}
	if tasks == nil {
		tasks = []*models.CommunityTask{}
	}

	out := &ListTasksOutput{}
	out.Body.Tasks = tasks
	out.Body.Summary = summary
	return out, nil
}

// ClaimTaskInput represents a claim on a specific task.
type ClaimTaskInput struct {
	ID string `path:"id" doc:"Task ID"`
}

// ClaimTaskOutput represents a successful claim.
type ClaimTaskOutput struct {
	Body *service.ClaimResult
}

// ClaimTask claims a task for the caller.
func (h *CommunityHandler) ClaimTask(ctx context.Context, input *ClaimTaskInput) (*ClaimTaskOutput, error) {
	claims, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := ensureAccount(ctx, h.credits, claims)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: claims.Plan})
	}

	result, err := h.community.Claim(ctx, claims.UserID, acct.Plan, input.ID)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: acct.Plan})
	}
	return &ClaimTaskOutput{Body: result}, nil
}

// QuickClaim claims the best available task for the caller.
func (h *CommunityHandler) QuickClaim(ctx context.Context, input *struct{}) (*ClaimTaskOutput, error) {
	claims, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := ensureAccount(ctx, h.credits, claims)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: claims.Plan})
	}

	result, err := h.community.QuickClaim(ctx, claims.UserID, acct.Plan)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: acct.Plan})
	}
	return &ClaimTaskOutput{Body: result}, nil
}

// MyTasksOutput represents the caller's tasks and claim allowance.
type MyTasksOutput struct {
	Body struct {
		Tasks    []*models.CommunityTask   `json:"tasks"`
		Quota    models.UserCommunityQuota `json:"quota"`
		CanClaim bool                      `json:"can_claim"`
	}
}

// MyTasks returns the caller's recent tasks with today's quota.
func (h *CommunityHandler) MyTasks(ctx context.Context, input *struct{}) (*MyTasksOutput, error) {
	claims, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := ensureAccount(ctx, h.credits, claims)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: claims.Plan})
	}

	tasks, quota, err := h.community.MyTasks(ctx, claims.UserID, acct.Plan)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: acct.Plan})
	}
	if tasks == nil {
		tasks = []*models.CommunityTask{}
	}

	out := &MyTasksOutput{}
	out.Body.Tasks = tasks
	out.Body.Quota = quota
	out.Body.CanClaim = quota.CanClaim()
	return out, nil
}

// JobInput identifies a job by path.
type JobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// TaskOutput represents a single task.
type TaskOutput struct {
	Body *models.CommunityTask
}

// CancelJob abandons one of the caller's jobs. The quota slot stays used.
func (h *CommunityHandler) CancelJob(ctx context.Context, input *JobInput) (*TaskOutput, error) {
	claims, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}

	task, err := h.community.Cancel(ctx, claims.UserID, input.ID)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{Plan: claims.Plan})
	}
	return &TaskOutput{Body: task}, nil
}
