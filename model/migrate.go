package model

import (
	"context"

	"github.com/aisgo/ais-tenancy/tenant"

	"gorm.io/gorm"
)

// All 所有持久化实体，顺序即迁移顺序
func All() []any {
	return []any{
		&Company{},
		&User{},
		&Membership{},
		&Role{},
		&Permission{},
		&RolePermission{},
		&Customer{},
		&Feedback{},
		&EventLog{},
	}
}

// Migrate 在系统上下文中执行 AutoMigrate（迁移器会对租户表做无 schema 的探测查询）
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(tenant.System(ctx)).AutoMigrate(All()...)
}
