package routes

import (
	"context"

	"github.com/jmylchreest/flipdeck-api/internal/http/handlers"
)

// CommunityHandlers defines the interface for community task operations.
type CommunityHandlers interface {
	ListTasks(ctx context.Context, input *struct{}) (*handlers.ListTasksOutput, error)
	QuickClaim(ctx context.Context, input *struct{}) (*handlers.ClaimTaskOutput, error)
	ClaimTask(ctx context.Context, input *handlers.ClaimTaskInput) (*handlers.ClaimTaskOutput, error)
	MyTasks(ctx context.Context, input *struct{}) (*handlers.MyTasksOutput, error)
	CancelJob(ctx context.Context, input *handlers.JobInput) (*handlers.TaskOutput, error)
}

// CollectorHandlers defines the interface for upload-token authenticated reports.
type CollectorHandlers interface {
	ReportProgress(ctx context.Context, input *handlers.ProgressInput) (*handlers.ProgressOutput, error)
	CompleteJob(ctx context.Context, input *handlers.CompleteInput) (*handlers.TaskOutput, error)
	FailJob(ctx context.Context, input *handlers.FailInput) (*handlers.TaskOutput, error)
}

// EstimationHandlers defines the interface for estimation operations.
type EstimationHandlers interface {
	RunEstimation(ctx context.Context, input *handlers.RunEstimationInput) (*handlers.EstimationOutput, error)
	ListEstimations(ctx context.Context, input *handlers.ListEstimationsInput) (*handlers.ListEstimationsOutput, error)
	ExportEstimation(ctx context.Context, input *handlers.ExportEstimationInput) (*handlers.ExportEstimationOutput, error)
}

// AccountHandlers defines the interface for account operations.
type AccountHandlers interface {
	GetAccount(ctx context.Context, input *struct{}) (*handlers.GetAccountOutput, error)
	ListLedger(ctx context.Context, input *handlers.ListLedgerInput) (*handlers.ListLedgerOutput, error)
}

// AdminHandlers defines the interface for admin operations.
// These endpoints are hidden from public OpenAPI documentation.
type AdminHandlers interface {
	SupplyTask(ctx context.Context, input *handlers.SupplyTaskInput) (*handlers.TaskOutput, error)
	ResetAccount(ctx context.Context, input *handlers.ResetAccountInput) (*handlers.ResetAccountOutput, error)
	IngestObservations(ctx context.Context, input *handlers.IngestObservationsInput) (*handlers.IngestObservationsOutput, error)
}

// Handlers aggregates all handler interfaces for route registration.
// For the main server, pass real handler implementations.
// For OpenAPI generation, pass stub implementations.
type Handlers struct {
	// Public endpoints
	HealthCheck func(ctx context.Context, input *struct{}) (*handlers.HealthCheckOutput, error)
	ListPlans   func(ctx context.Context, input *struct{}) (*handlers.ListPlansOutput, error)

	// Kubernetes probes (hidden from docs)
	Livez  func(ctx context.Context, input *struct{}) (*handlers.ProbeOutput, error)
	Readyz func(ctx context.Context, input *struct{}) (*handlers.ProbeOutput, error)

	// Protected endpoint handlers
	Community  CommunityHandlers
	Collector  CollectorHandlers
	Estimation EstimationHandlers
	Account    AccountHandlers
	Admin      AdminHandlers
}
