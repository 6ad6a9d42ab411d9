package middleware

import (
	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/rbac"
	"github.com/aisgo/ais-tenancy/response"
	"github.com/aisgo/ais-tenancy/tenant"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

const grantLocalKey = "tenancy_grant"

// GrantFrom 读取本请求已解析的权限
func GrantFrom(c fiber.Ctx) (*rbac.Grant, bool) {
	g, ok := c.Locals(grantLocalKey).(*rbac.Grant)
	return g, ok && g != nil
}

// ResolveGrant 解析并缓存到 Locals，同一请求内多次检查只解析一次
func ResolveGrant(c fiber.Ctx, resolver rbac.PermissionResolver) (*rbac.Grant, error) {
	if g, ok := GrantFrom(c); ok {
		return g, nil
	}
	tc, err := tenant.Require(c.Context())
	if err != nil {
		return nil, err
	}
	g, err := resolver.Resolve(c.Context(), tc.TenantID, tc.ActorID)
	if err != nil {
		return nil, err
	}
	c.Locals(grantLocalKey, g)
	return g, nil
}

// RequirePermission 要求调用方在当前租户拥有全部 keys，必须挂在 Tenant 之后
func RequirePermission(resolver rbac.PermissionResolver, log *logger.Logger, keys ...string) fiber.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return func(c fiber.Ctx) error {
		g, err := ResolveGrant(c, resolver)
		if err != nil {
			return response.Error(c, err)
		}
		if !g.HasAll(keys...) {
			log.WithContext(c.Context()).Warn("Permission denied",
				zap.Strings("required", keys),
				zap.String("role", string(g.Role)),
				zap.String("path", c.Path()),
			)
			return response.Error(c, errors.ErrPermissionDenied)
		}
		return c.Next()
	}
}
