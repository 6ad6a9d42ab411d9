package guard

import (
	"reflect"
	"sync"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/tenant"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const (
	columnTenantID  = "tenant_id"
	columnDeletedAt = "deleted_at"
	columnCreatedBy = "created_by"
	columnUpdatedBy = "updated_by"
)

type traits struct {
	entity Entity
	err    error
}

// registry 按模型类型缓存租户特征，并记录表名以识别无 schema 的语句
type registry struct {
	mu      sync.RWMutex
	byType  map[reflect.Type]traits
	byTable map[string]Entity
}

func newRegistry() *registry {
	return &registry{
		byType:  make(map[reflect.Type]traits),
		byTable: make(map[string]Entity),
	}
}

func (r *registry) forSchema(s *schema.Schema) (Entity, error) {
	r.mu.RLock()
	t, ok := r.byType[s.ModelType]
	r.mu.RUnlock()
	if ok {
		return t.entity, t.err
	}

	t = inspect(s)
	r.mu.Lock()
	r.byType[s.ModelType] = t
	if t.err == nil && t.entity.Scoped {
		r.byTable[s.Table] = t.entity
	}
	r.mu.Unlock()
	return t.entity, t.err
}

func (r *registry) forTable(table string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byTable[table]
	return e, ok
}

// resolve 返回语句目标实体的特征；ok=false 表示守卫无需关心
func (r *registry) resolve(stmt *gorm.Statement) (Entity, bool, error) {
	if stmt.Schema != nil {
		e, err := r.forSchema(stmt.Schema)
		if err != nil {
			return e, true, err
		}
		// Table("other") 覆盖时以实际表为准
		if stmt.Table != "" && stmt.Table != stmt.Schema.Table {
			if te, ok := r.forTable(stmt.Table); ok {
				return te, true, nil
			}
		}
		return e, e.Scoped, nil
	}
	if stmt.Table != "" {
		if e, ok := r.forTable(stmt.Table); ok {
			return e, true, nil
		}
	}
	return Entity{}, false, nil
}

func inspect(s *schema.Schema) traits {
	e := Entity{Name: s.Table}
	sample := reflect.New(s.ModelType).Interface()

	if sc, ok := sample.(tenant.Scoped); ok && sc.TenantScoped() {
		e.Scoped = true
		if s.LookUpField(columnTenantID) == nil {
			return traits{entity: e, err: errors.Wrapf(errors.ErrCodeMisconfigured, nil,
				"model %s is tenant scoped but has no %s column", s.Name, columnTenantID)}
		}
	}

	deletedAt := s.LookUpField(columnDeletedAt)
	if sd, ok := sample.(tenant.SoftDeletable); ok {
		e.SoftDelete = sd.SoftDeletes()
		if e.SoftDelete && deletedAt == nil {
			return traits{entity: e, err: errors.Wrapf(errors.ErrCodeMisconfigured, nil,
				"model %s declares soft deletes but has no %s column", s.Name, columnDeletedAt)}
		}
	} else {
		e.SoftDelete = deletedAt != nil
	}
	return traits{entity: e}
}
