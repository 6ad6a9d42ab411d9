package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
)

func TestHTTPMiddlewareUsesRouteTemplate(t *testing.T) {
	app := fiber.New()
	app.Use(HTTPMiddleware())
	RegisterMetricsEndpoint(app)
	app.Get("/v1/customers/:id", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	for _, id := range []string{"a", "b", "c"} {
		resp, err := app.Test(httptest.NewRequest("GET", "/v1/customers/"+id, nil), fiber.TestConfig{Timeout: 2 * time.Second})
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil), fiber.TestConfig{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	want := `tenancy_http_request_total{method="GET",path="/v1/customers/:id",status="204"} 3`
	if !strings.Contains(string(body), want) {
		t.Fatalf("expected %q in metrics output", want)
	}
	if strings.Contains(string(body), `path="/metrics"`) {
		t.Fatalf("metrics endpoint should not be counted")
	}
}

func TestTenancyMetricsExposed(t *testing.T) {
	GuardRejections.WithLabelValues("no_context").Inc()
	PermissionCache.WithLabelValues("l1", HitLabel(true)).Inc()
	ReconcileRuns.WithLabelValues(ResultSkipped).Inc()
	EventsPublished.WithLabelValues("company.created", ResultOK).Inc()

	app := fiber.New()
	RegisterMetricsEndpoint(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil), fiber.TestConfig{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{
		"tenancy_guard_rejections_total",
		"tenancy_rbac_permission_cache_total",
		`tenancy_reconcile_runs_total{result="skipped"}`,
		`tenancy_events_published_total{result="ok",type="company.created"}`,
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}
