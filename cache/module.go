package cache

import (
	"github.com/aisgo/ais-tenancy/cache/redis"

	"go.uber.org/fx"
)

// Module 缓存模块
// 提供: *redis.Client（需要外部提供 redis.Config）
var Module = fx.Module("cache",
	fx.Provide(redis.NewClient),
)
