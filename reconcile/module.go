package reconcile

import (
	"context"

	"github.com/aisgo/ais-tenancy/cache/redis"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/rbac"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

type jobParams struct {
	fx.In
	DB          *gorm.DB
	Provisioner *rbac.Provisioner
	Cache       *rbac.CachedResolver `optional:"true"`
	Redis       *redis.Client        `optional:"true"`
	Config      Config
	Logger      *logger.Logger
}

func newJob(p jobParams) *Job {
	var inv TenantInvalidator
	if p.Cache != nil {
		inv = p.Cache
	}
	return NewJob(p.DB, p.Provisioner, inv, p.Redis, p.Config, p.Logger)
}

type schedulerParams struct {
	fx.In
	Lc     fx.Lifecycle
	Job    *Job
	Config Config
	Logger *logger.Logger
}

func startScheduler(p schedulerParams) error {
	if !p.Config.Enabled {
		p.Logger.Info("Reconcile scheduler disabled")
		return nil
	}
	s, err := NewScheduler(p.Config.Schedule, 0, p.Job, p.Logger)
	if err != nil {
		return err
	}
	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Stop,
	})
	return nil
}

// Module 角色对账模块
// 提供: *Job；Config.Enabled 时按 Schedule 周期执行（需要 *gorm.DB、*rbac.Provisioner 与 Config）
var Module = fx.Module("reconcile",
	fx.Provide(newJob),
	fx.Invoke(startScheduler),
)
