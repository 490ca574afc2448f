package routes

import (
	"context"

	"github.com/jmylchreest/flipdeck-api/internal/http/handlers"
)

// StubHandlers returns a Handlers instance with stub implementations.
// All handlers return nil responses - these are only used for OpenAPI generation
// where Huma extracts type information from function signatures.
func StubHandlers() *Handlers {
	return &Handlers{
		HealthCheck: stubHealthCheck,
		ListPlans:   stubListPlans,

		Livez:  stubProbe,
		Readyz: stubProbe,

		Community:  &stubCommunityHandlers{},
		Collector:  &stubCollectorHandlers{},
		Estimation: &stubEstimationHandlers{},
		Account:    &stubAccountHandlers{},
		Admin:      &stubAdminHandlers{},
	}
}

// --- Public endpoint stubs ---

func stubHealthCheck(_ context.Context, _ *struct{}) (*handlers.HealthCheckOutput, error) {
	return nil, nil
}

func stubListPlans(_ context.Context, _ *struct{}) (*handlers.ListPlansOutput, error) {
	return nil, nil
}

func stubProbe(_ context.Context, _ *struct{}) (*handlers.ProbeOutput, error) {
	return nil, nil
}

// --- Community handlers stub ---

type stubCommunityHandlers struct{}

func (s *stubCommunityHandlers) ListTasks(_ context.Context, _ *struct{}) (*handlers.ListTasksOutput, error) {
	return nil, nil
}

func (s *stubCommunityHandlers) QuickClaim(_ context.Context, _ *struct{}) (*handlers.ClaimTaskOutput, error) {
	return nil, nil
}

func (s *stubCommunityHandlers) ClaimTask(_ context.Context, _ *handlers.ClaimTaskInput) (*handlers.ClaimTaskOutput, error) {
	return nil, nil
}

func (s *stubCommunityHandlers) MyTasks(_ context.Context, _ *struct{}) (*handlers.MyTasksOutput, error) {
	return nil, nil
}

func (s *stubCommunityHandlers) CancelJob(_ context.Context, _ *handlers.JobInput) (*handlers.TaskOutput, error) {
	return nil, nil
}

// --- Collector handlers stub ---

type stubCollectorHandlers struct{}

func (s *stubCollectorHandlers) ReportProgress(_ context.Context, _ *handlers.ProgressInput) (*handlers.ProgressOutput, error) {
	return nil, nil
}

func (s *stubCollectorHandlers) CompleteJob(_ context.Context, _ *handlers.CompleteInput) (*handlers.TaskOutput, error) {
	return nil, nil
}

func (s *stubCollectorHandlers) FailJob(_ context.Context, _ *handlers.FailInput) (*handlers.TaskOutput, error) {
	return nil, nil
}

// --- Estimation handlers stub ---

type stubEstimationHandlers struct{}

func (s *stubEstimationHandlers) RunEstimation(_ context.Context, _ *handlers.RunEstimationInput) (*handlers.EstimationOutput, error) {
	return nil, nil
}

func (s *stubEstimationHandlers) ListEstimations(_ context.Context, _ *handlers.ListEstimationsInput) (*handlers.ListEstimationsOutput, error) {
	return nil, nil
}

func (s *stubEstimationHandlers) ExportEstimation(_ context.Context, _ *handlers.ExportEstimationInput) (*handlers.ExportEstimationOutput, error) {
	return nil, nil
}

// --- Account handlers stub ---

type stubAccountHandlers struct{}

func (s *stubAccountHandlers) GetAccount(_ context.Context, _ *struct{}) (*handlers.GetAccountOutput, error) {
	return nil, nil
}

func (s *stubAccountHandlers) ListLedger(_ context.Context, _ *handlers.ListLedgerInput) (*handlers.ListLedgerOutput, error) {
	return nil, nil
}

// --- Admin handlers stub ---

type stubAdminHandlers struct{}

func (s *stubAdminHandlers) SupplyTask(_ context.Context, _ *handlers.SupplyTaskInput) (*handlers.TaskOutput, error) {
	return nil, nil
}

func (s *stubAdminHandlers) ResetAccount(_ context.Context, _ *handlers.ResetAccountInput) (*handlers.ResetAccountOutput, error) {
	return nil, nil
}

func (s *stubAdminHandlers) IngestObservations(_ context.Context, _ *handlers.IngestObservationsInput) (*handlers.IngestObservationsOutput, error) {
	return nil, nil
}
