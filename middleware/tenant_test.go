package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/rbac"
	"github.com/aisgo/ais-tenancy/tenant"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
)

type fakeChecker map[string]bool // tenant|user -> allowed

func (f fakeChecker) ValidateCompanyAccess(_ context.Context, tenantID, userID string) (bool, error) {
	if tenantID == "broken" {
		return false, fmt.Errorf("db down")
	}
	return f[tenantID+"|"+userID], nil
}

type fakeResolver struct {
	perms map[string][]string // user -> keys
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, tenantID, userID string) (*rbac.Grant, error) {
	f.calls++
	keys, ok := f.perms[userID]
	if !ok {
		return nil, errors.ErrPermissionDenied
	}
	return &rbac.Grant{TenantID: tenantID, UserID: userID, Permissions: keys}, nil
}

// asUser 测试用认证：X-User 头即用户
func asUser() fiber.Handler {
	return func(c fiber.Ctx) error {
		if u := c.Get("X-User"); u != "" {
			SetPrincipal(c, &Principal{UserID: u, Source: SourceJWT})
		}
		return c.Next()
	}
}

func tenantApp(res *fakeResolver) *fiber.App {
	checker := fakeChecker{"acme|alice": true, "acme|bob": true}
	app := fiber.New()
	app.Use(RequestID(), asUser(), Tenant(checker, logger.NewNop()))
	app.Get("/ctx", func(c fiber.Ctx) error {
		tc, err := tenant.Require(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"tenant": tc.TenantID, "actor": tc.ActorID, "request_id": logger.RequestIDFromContext(c.Context())})
	})
	app.Delete("/company",
		RequirePermission(res, nil, "org:delete"),
		RequirePermission(res, nil, "org:view"),
		func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) },
	)
	return app
}

func TestTenantMiddlewareBindsContext(t *testing.T) {
	app := tenantApp(&fakeResolver{})
	req := httptest.NewRequest("GET", "/ctx", nil)
	req.Header.Set("X-User", "alice")
	req.Header.Set(HeaderTenantID, "acme")
	req.Header.Set(HeaderRequestID, "req-42")
	resp := doRequest(t, app, req)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["tenant"] != "acme" || body["actor"] != "alice" || body["request_id"] != "req-42" {
		t.Fatalf("unexpected context: %v", body)
	}
	if resp.Header.Get(HeaderRequestID) != "req-42" {
		t.Fatalf("request id not echoed")
	}
}

func TestTenantMiddlewareRejects(t *testing.T) {
	app := tenantApp(&fakeResolver{})
	cases := []struct {
		name, user, tenant string
		status             int
	}{
		{"unauthenticated", "", "acme", fiber.StatusUnauthorized},
		{"missing tenant", "alice", "", fiber.StatusUnauthorized},
		{"not a member", "mallory", "acme", fiber.StatusForbidden},
		{"other tenant", "alice", "globex", fiber.StatusForbidden},
		{"checker error", "alice", "broken", fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/ctx", nil)
		if tc.user != "" {
			req.Header.Set("X-User", tc.user)
		}
		if tc.tenant != "" {
			req.Header.Set(HeaderTenantID, tc.tenant)
		}
		if resp := doRequest(t, app, req); resp.StatusCode != tc.status {
			t.Fatalf("%s: got %d want %d", tc.name, resp.StatusCode, tc.status)
		}
	}
}

func TestRequirePermission(t *testing.T) {
	res := &fakeResolver{perms: map[string][]string{
		"alice": {"org:delete", "org:view"},
		"bob":   {"org:view"},
	}}
	app := tenantApp(res)

	req := httptest.NewRequest("DELETE", "/company", nil)
	req.Header.Set("X-User", "alice")
	req.Header.Set(HeaderTenantID, "acme")
	if resp := doRequest(t, app, req); resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("owner should pass, got %d", resp.StatusCode)
	}
	if res.calls != 1 {
		t.Fatalf("grant should be resolved once per request, got %d", res.calls)
	}

	req = httptest.NewRequest("DELETE", "/company", nil)
	req.Header.Set("X-User", "bob")
	req.Header.Set(HeaderTenantID, "acme")
	if resp := doRequest(t, app, req); resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("viewer should be forbidden, got %d", resp.StatusCode)
	}
}

func TestRateLimitPerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	lim, err := NewLimiter(RateLimitConfig{Limit: 2, Period: time.Minute, Prefix: "test"}, rdb)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	app := fiber.New()
	app.Use(asUser(), RateLimit(lim, nil))
	app.Post("/companies", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })

	post := func(user string) int {
		req := httptest.NewRequest("POST", "/companies", nil)
		req.Header.Set("X-User", user)
		return doRequest(t, app, req).StatusCode
	}
	for i := 0; i < 2; i++ {
		if s := post("alice"); s != fiber.StatusCreated {
			t.Fatalf("request %d: unexpected status %d", i, s)
		}
	}
	if s := post("alice"); s != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", s)
	}
	if s := post("bob"); s != fiber.StatusCreated {
		t.Fatalf("other user should not share the bucket, got %d", s)
	}

	if _, err := NewLimiter(RateLimitConfig{}, nil); err == nil {
		t.Fatalf("expected invalid config error")
	}
}
