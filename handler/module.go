package handler

import (
	"github.com/aisgo/ais-tenancy/cache/redis"
	"github.com/aisgo/ais-tenancy/company"
	"github.com/aisgo/ais-tenancy/customer"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/middleware"
	"github.com/aisgo/ais-tenancy/rbac"

	"github.com/gofiber/fiber/v3"
	"github.com/ulule/limiter/v3"
	"go.uber.org/fx"
)

type registerParams struct {
	fx.In
	App       *fiber.App
	Companies *company.Service
	Customers *customer.Service
	Resolver  rbac.PermissionResolver
	Auth      middleware.AuthConfig
	RateLimit middleware.RateLimitConfig
	Redis     *redis.Client `optional:"true"`
	Logger    *logger.Logger
}

func register(p registerParams) error {
	var lim *limiter.Limiter
	if p.RateLimit.Enabled {
		var err error
		if p.Redis != nil {
			lim, err = middleware.NewLimiter(p.RateLimit, p.Redis.Raw())
		} else {
			lim, err = middleware.NewLimiter(p.RateLimit, nil)
		}
		if err != nil {
			return err
		}
	}
	New(Options{
		Companies: p.Companies,
		Customers: p.Customers,
		Resolver:  p.Resolver,
		Auth:      p.Auth.Authenticators(),
		Limiter:   lim,
		Logger:    p.Logger,
	}).Register(p.App)
	return nil
}

// Module 在 *fiber.App 上注册 /v1 路由
var Module = fx.Module("handler",
	fx.Invoke(register),
)
