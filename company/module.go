package company

import (
	"github.com/aisgo/ais-tenancy/events"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/rbac"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

type serviceParams struct {
	fx.In
	DB          *gorm.DB
	Provisioner *rbac.Provisioner
	Cache       *rbac.CachedResolver `optional:"true"`
	Publisher   events.Publisher     `optional:"true"`
	Logger      *logger.Logger
}

func newService(p serviceParams) (*Service, error) {
	var inv Invalidator
	if p.Cache != nil {
		inv = p.Cache
	}
	return NewService(p.DB, p.Provisioner, inv, p.Publisher, p.Logger)
}

// Module 提供 *Service
var Module = fx.Module("company",
	fx.Provide(newService),
)
