package rbac

import (
	"context"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/tenant"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedPermissions 按 key upsert 权限目录，返回目录条目数。
// 已存在的记录只更新展示字段，ID 保持不变，已有的角色关联不受影响。
func SeedPermissions(ctx context.Context, db *gorm.DB) (int, error) {
	if db == nil {
		return 0, errors.New(errors.ErrCodeMisconfigured, "seeding requires a database handle")
	}

	rows := make([]model.Permission, 0, len(catalog))
	for _, d := range catalog {
		rows = append(rows, model.Permission{
			Key:         d.Key,
			Name:        d.Name,
			Description: d.Description,
			Category:    d.Category,
			IsSystem:    d.IsSystem,
		})
	}

	err := db.WithContext(tenant.System(ctx)).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "category", "is_system", "updated_at"}),
		}).
		CreateInBatches(&rows, 100).Error
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInternal, "seed permissions", err)
	}
	return len(rows), nil
}
