package routes

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/flipdeck-api/internal/http/mw"
)

// Register registers all API routes with the given Huma API instance.
// Pass real handler implementations for the main server, or stub implementations
// for OpenAPI generation.
//
// Webhooks are raw HTTP handlers (signature checks need the exact body) and
// are mounted on the router directly.
func Register(api huma.API, h *Handlers) {
	// =========================================================================
	// Public Routes (no auth required)
	// =========================================================================

	mw.PublicGet(api, "/api/v1/health", h.HealthCheck,
		mw.WithTags("Health"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("healthCheck"))

	mw.PublicGet(api, "/api/v1/plans", h.ListPlans,
		mw.WithTags("Plans"),
		mw.WithSummary("List subscription plans"),
		mw.WithDescription("Returns every plan with its monthly credits, limits and capabilities, in display order."),
		mw.WithOperationID("listPlans"))

	// Kubernetes probes (hidden from docs - internal use only)
	mw.HiddenGet(api, "/healthz", h.Livez)
	mw.HiddenGet(api, "/readyz", h.Readyz)

	// =========================================================================
	// Protected Routes (require bearer auth)
	// =========================================================================

	// --- Community ---
	mw.ProtectedGet(api, "/api/v1/community/tasks", h.Community.ListTasks,
		mw.WithTags("Community"),
		mw.WithSummary("List available tasks"),
		mw.WithOperationID("listCommunityTasks"))
	mw.ProtectedPost(api, "/api/v1/community/tasks/quick-claim", h.Community.QuickClaim,
		mw.WithTags("Community"),
		mw.WithSummary("Claim the best available task"),
		mw.WithDescription("Claims the highest priority task, breaking ties by reward. Subject to the daily claim limit and cooldown."),
		mw.WithOperationID("quickClaimTask"))
	mw.ProtectedPost(api, "/api/v1/community/tasks/{id}/claim", h.Community.ClaimTask,
		mw.WithTags("Community"),
		mw.WithSummary("Claim a task"),
		mw.WithDescription("Returns 409 when another user already holds the task, and 429 when the daily limit or cooldown applies."),
		mw.WithOperationID("claimTask"))
	mw.ProtectedGet(api, "/api/v1/community/my-tasks", h.Community.MyTasks,
		mw.WithTags("Community"),
		mw.WithSummary("List my tasks and quota"),
		mw.WithOperationID("listMyTasks"))
	mw.ProtectedPost(api, "/api/v1/community/jobs/{id}/cancel", h.Community.CancelJob,
		mw.WithTags("Community"),
		mw.WithSummary("Cancel a claimed job"),
		mw.WithOperationID("cancelJob"))

	// --- Collector (upload token) ---
	mw.CollectorPost(api, "/api/v1/collector/jobs/{id}/progress", h.Collector.ReportProgress,
		mw.WithTags("Collector"),
		mw.WithSummary("Report job progress"),
		mw.WithOperationID("reportJobProgress"))
	mw.CollectorPost(api, "/api/v1/collector/jobs/{id}/complete", h.Collector.CompleteJob,
		mw.WithTags("Collector"),
		mw.WithSummary("Complete a job"),
		mw.WithOperationID("completeJob"))
	mw.CollectorPost(api, "/api/v1/collector/jobs/{id}/fail", h.Collector.FailJob,
		mw.WithTags("Collector"),
		mw.WithSummary("Fail a job"),
		mw.WithOperationID("failJob"))

	// --- Estimations ---
	mw.ProtectedPost(api, "/api/v1/estimations", h.Estimation.RunEstimation,
		mw.WithTags("Estimations"),
		mw.WithSummary("Run an estimation"),
		mw.WithDescription("Debits the plan's estimation cost. Returns 402 when the balance cannot cover it and 403 when the plan does not allow the requested mode."),
		mw.WithOperationID("runEstimation"))
	mw.ProtectedGet(api, "/api/v1/estimations", h.Estimation.ListEstimations,
		mw.WithTags("Estimations"),
		mw.WithSummary("List past estimations"),
		mw.WithOperationID("listEstimations"))
	mw.ProtectedPost(api, "/api/v1/estimations/{id}/export", h.Estimation.ExportEstimation,
		mw.WithTags("Estimations"),
		mw.WithSummary("Export an estimation as CSV"),
		mw.WithOperationID("exportEstimation"))

	// --- Account ---
	mw.ProtectedGet(api, "/api/v1/account", h.Account.GetAccount,
		mw.WithTags("Account"),
		mw.WithSummary("Get account summary"),
		mw.WithOperationID("getAccount"))
	mw.ProtectedGet(api, "/api/v1/account/ledger", h.Account.ListLedger,
		mw.WithTags("Account"),
		mw.WithSummary("List ledger entries"),
		mw.WithOperationID("listLedger"))

	// --- Admin Routes (require superadmin, hidden from OpenAPI) ---
	mw.ProtectedPost(api, "/api/v1/admin/tasks", h.Admin.SupplyTask,
		mw.WithTags("Admin"),
		mw.WithSummary("Supply a community task"),
		mw.WithOperationID("adminSupplyTask"),
		mw.WithStatus(http.StatusCreated),
		mw.WithSuperadmin(),
		mw.WithHidden())
	mw.ProtectedPost(api, "/api/v1/admin/accounts/{userId}/reset", h.Admin.ResetAccount,
		mw.WithTags("Admin"),
		mw.WithSummary("Force a monthly credit reset"),
		mw.WithOperationID("adminResetAccount"),
		mw.WithSuperadmin(),
		mw.WithHidden())
	mw.ProtectedPost(api, "/api/v1/admin/market/observations", h.Admin.IngestObservations,
		mw.WithTags("Admin"),
		mw.WithSummary("Ingest market observations"),
		mw.WithOperationID("adminIngestObservations"),
		mw.WithSuperadmin(),
		mw.WithHidden())
}
