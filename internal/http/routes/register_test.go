package routes

import (
	"testing"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/flipdeck-api/internal/http/mw"
)

func TestRegister_OpenAPI(t *testing.T) {
	api := humachi.New(chi.NewRouter(), NewHumaConfig("https://api.example.test"))
	Register(api, StubHandlers())
	spec := api.OpenAPI()

	public := []string{
		"/api/v1/health",
		"/api/v1/plans",
		"/api/v1/community/tasks",
		"/api/v1/community/tasks/quick-claim",
		"/api/v1/community/tasks/{id}/claim",
		"/api/v1/community/my-tasks",
		"/api/v1/community/jobs/{id}/cancel",
		"/api/v1/collector/jobs/{id}/progress",
		"/api/v1/collector/jobs/{id}/complete",
		"/api/v1/collector/jobs/{id}/fail",
		"/api/v1/estimations",
		"/api/v1/estimations/{id}/export",
		"/api/v1/account",
		"/api/v1/account/ledger",
	}
	for _, path := range public {
		if spec.Paths[path] == nil {
			t.Errorf("path %s missing from OpenAPI", path)
		}
	}

	for _, hidden := range []string{"/healthz", "/readyz", "/api/v1/admin/tasks"} {
		if spec.Paths[hidden] != nil {
			t.Errorf("hidden path %s leaked into OpenAPI", hidden)
		}
	}

	progress := spec.Paths["/api/v1/collector/jobs/{id}/progress"].Post
	if len(progress.Security) != 1 || progress.Security[0][mw.UploadTokenScheme] == nil {
		t.Errorf("collector security = %v, want %s", progress.Security, mw.UploadTokenScheme)
	}
	claim := spec.Paths["/api/v1/community/tasks/{id}/claim"].Post
	if len(claim.Security) != 1 || claim.Security[0][mw.SecurityScheme] == nil {
		t.Errorf("claim security = %v, want %s", claim.Security, mw.SecurityScheme)
	}
	if spec.Paths["/api/v1/plans"].Get.Security != nil {
		t.Error("plans should be public")
	}
}
