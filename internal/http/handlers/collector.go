package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/flipdeck-api/internal/http/mw"
	"github.com/jmylchreest/flipdeck-api/internal/models"
	"github.com/jmylchreest/flipdeck-api/internal/service"
)

// CollectorHandler receives reports from collectors holding an upload token.
type CollectorHandler struct {
	community *service.CommunityService
}

// NewCollectorHandler creates a new collector handler.
func NewCollectorHandler(community *service.CommunityService) *CollectorHandler {
	return &CollectorHandler{community: community}
}

// requireJob checks that the upload token was issued for jobID.
func requireJob(ctx context.Context, jobID string) error {
	claims := mw.GetUploadClaims(ctx)
	if claims == nil || claims.JobID != jobID {
		return huma.Error401Unauthorized("invalid upload token")
	}
	return nil
}

// ProgressInput represents a progress report.
type ProgressInput struct {
	ID   string `path:"id" doc:"Job ID"`
	Body struct {
		PagesScanned int `json:"pages_scanned" minimum:"0" doc:"Pages scanned so far"`
		AdsFound     int `json:"ads_found" minimum:"0" doc:"Ads found so far"`
	}
}

// ProgressOutput reports whether the update was applied.
type ProgressOutput struct {
	Body struct {
		Accepted bool            `json:"accepted"`
		Job      *models.TaskJob `json:"job"`
	}
}

// ReportProgress records cumulative counters. Stale reports are ignored.
func (h *CollectorHandler) ReportProgress(ctx context.Context, input *ProgressInput) (*ProgressOutput, error) {
	if err := requireJob(ctx, input.ID); err != nil {
		return nil, err
	}

	job, accepted, err := h.community.ReportProgress(ctx, input.ID, input.Body.PagesScanned, input.Body.AdsFound)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{})
	}

	out := &ProgressOutput{}
	out.Body.Accepted = accepted
	out.Body.Job = job
	return out, nil
}

// CompleteInput represents the final report of a job.
type CompleteInput struct {
	ID   string `path:"id" doc:"Job ID"`
	Body struct {
		PagesScanned int `json:"pages_scanned" minimum:"0" doc:"Total pages scanned"`
		AdsFound     int `json:"ads_found" minimum:"0" doc:"Total ads found"`
	}
}

// CompleteJob finishes the job and credits the task reward to its owner.
func (h *CollectorHandler) CompleteJob(ctx context.Context, input *CompleteInput) (*TaskOutput, error) {
	if err := requireJob(ctx, input.ID); err != nil {
		return nil, err
	}

	task, err := h.community.Complete(ctx, input.ID, input.Body.PagesScanned, input.Body.AdsFound)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{})
	}
	return &TaskOutput{Body: task}, nil
}

// FailInput represents a collector failure.
type FailInput struct {
	ID   string `path:"id" doc:"Job ID"`
	Body struct {
		Reason string `json:"reason" maxLength:"500" doc:"Why collection failed"`
	}
}

// FailJob ends the job without a reward.
func (h *CollectorHandler) FailJob(ctx context.Context, input *FailInput) (*TaskOutput, error) {
	if err := requireJob(ctx, input.ID); err != nil {
		return nil, err
	}

	task, err := h.community.Fail(ctx, input.ID, input.Body.Reason)
	if err != nil {
		return nil, toAPIError(ctx, err, errorContext{})
	}
	return &TaskOutput{Body: task}, nil
}
