package rbac

import (
	"github.com/aisgo/ais-tenancy/cache/redis"
	"github.com/aisgo/ais-tenancy/logger"

	"go.uber.org/fx"
)

type cachedResolverParams struct {
	fx.In
	Resolver *Resolver
	Redis    *redis.Client `optional:"true"`
	Config   CacheConfig
	Logger   *logger.Logger
}

func newCachedResolver(p cachedResolverParams) *CachedResolver {
	return NewCachedResolver(p.Resolver, p.Redis, p.Config, p.Logger)
}

// Module RBAC 模块
// 提供: *Provisioner, *Resolver, *CachedResolver, PermissionResolver（需要 *gorm.DB 与 CacheConfig）
var Module = fx.Module("rbac",
	fx.Provide(
		NewProvisioner,
		NewResolver,
		newCachedResolver,
		func(c *CachedResolver) PermissionResolver { return c },
	),
)
