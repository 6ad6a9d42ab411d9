package handler

import (
	"github.com/aisgo/ais-tenancy/company"
	"github.com/aisgo/ais-tenancy/customer"
	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/middleware"
	"github.com/aisgo/ais-tenancy/rbac"

	"github.com/gofiber/fiber/v3"
	"github.com/ulule/limiter/v3"
)

/* ========================================================================
 * HTTP Handlers - /v1 API
 * ========================================================================
 * 职责: 把 company / customer 服务暴露为 HTTP 接口
 * 链路: RequestID → Authenticate → [Tenant → RequirePermission] → handler
 * ======================================================================== */

// Handler 路由处理器
type Handler struct {
	companies *company.Service
	customers *customer.Service
	resolver  rbac.PermissionResolver
	auth      []middleware.Authenticator
	limiter   *limiter.Limiter
	log       *logger.Logger
}

// Options 构造参数
type Options struct {
	Companies *company.Service
	Customers *customer.Service
	Resolver  rbac.PermissionResolver
	Auth      []middleware.Authenticator
	Limiter   *limiter.Limiter // nil 表示不限流
	Logger    *logger.Logger
}

// New 创建处理器
func New(o Options) *Handler {
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	return &Handler{
		companies: o.Companies,
		customers: o.Customers,
		resolver:  o.Resolver,
		auth:      o.Auth,
		limiter:   o.Limiter,
		log:       o.Logger,
	}
}

// Register 挂载全部路由
func (h *Handler) Register(r fiber.Router) {
	authn := middleware.Authenticate(h.log, h.auth...)
	perm := func(keys ...string) fiber.Handler {
		return middleware.RequirePermission(h.resolver, h.log, keys...)
	}

	v1 := r.Group("/v1", middleware.RequestID(), authn)
	v1.Post("/identity/sync", h.syncIdentity)
	v1.Post("/companies", middleware.RateLimit(h.limiter, h.log), h.createCompany)
	v1.Get("/companies/:tenantId/access", h.checkAccess)

	t := v1.Group("", middleware.Tenant(h.companies, h.log))
	t.Get("/me/permissions", h.myPermissions)
	t.Delete("/company", perm("org:delete"), h.deleteCompany)
	t.Get("/audit/summary", perm("events:view"), h.auditSummary)

	t.Get("/members", perm("members:view"), h.listMembers)
	t.Post("/members", perm("members:invite"), h.addMember)
	t.Patch("/members/:userId", perm("members:update"), h.updateMemberRole)
	t.Delete("/members/:userId", perm("members:remove"), h.removeMember)

	t.Get("/customers", perm("customers:view"), h.listCustomers)
	t.Post("/customers", perm("customers:create"), h.createCustomer)
	t.Get("/customers/:id", perm("customers:view"), h.getCustomer)
	t.Patch("/customers/:id", perm("customers:update"), h.updateCustomer)
	t.Delete("/customers/:id", perm("customers:delete"), h.deleteCustomer)
}

func principal(c fiber.Ctx) (*middleware.Principal, error) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return nil, errors.ErrUnauthenticated
	}
	return p, nil
}

func bind(c fiber.Ctx, dst any) error {
	if err := c.Bind().Body(dst); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidArgument, "invalid request body", err)
	}
	return nil
}
