package middleware

import (
	"context"
	"strings"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/response"
	"github.com/aisgo/ais-tenancy/tenant"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

/* ========================================================================
 * Tenant Middleware - 请求租户绑定
 * ========================================================================
 * 职责: 读取 X-Tenant-ID，校验调用方是该租户成员，
 *       然后把 tenant.Context 绑定到请求 context，后续仓储调用自动隔离
 * ======================================================================== */

// HeaderTenantID 租户选择头
const HeaderTenantID = "X-Tenant-ID"

// AccessChecker 成员关系校验（company.Service 实现）
type AccessChecker interface {
	ValidateCompanyAccess(ctx context.Context, tenantID, userID string) (bool, error)
}

// Tenant 必须挂在 Authenticate 之后
func Tenant(checker AccessChecker, log *logger.Logger) fiber.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return func(c fiber.Ctx) error {
		p, ok := PrincipalFrom(c)
		if !ok {
			return response.Error(c, errors.ErrUnauthenticated)
		}
		tenantID := strings.TrimSpace(c.Get(HeaderTenantID))
		if tenantID == "" {
			return response.Error(c, errors.ErrTenantRequired)
		}

		allowed, err := checker.ValidateCompanyAccess(c.Context(), tenantID, p.UserID)
		if err != nil {
			log.WithContext(c.Context()).Error("Company access check failed",
				zap.String("tenant_id", tenantID),
				zap.String("user_id", p.UserID),
				zap.Error(err),
			)
			return response.Error(c, err)
		}
		if !allowed {
			log.WithContext(c.Context()).Warn("Company access denied",
				zap.String("tenant_id", tenantID),
				zap.String("user_id", p.UserID),
			)
			return response.Error(c, errors.ErrPermissionDenied)
		}

		c.SetContext(tenant.With(c.Context(), tenant.Context{TenantID: tenantID, ActorID: p.UserID}))
		return c.Next()
	}
}
