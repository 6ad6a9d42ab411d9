package repository

import (
	"context"
	"math"
	"sync"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/guard"
	"github.com/aisgo/ais-tenancy/tenant"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

/* ========================================================================
 * Scoped Repository - 租户实体仓储
 * ========================================================================
 * 职责: 为租户实体提供 CRUD / 分页 / 聚合
 * 约束: 每个方法都要求租户上下文（即使守卫处于 lenient 模式）；
 *       租户过滤与审计字段由 guard 插件在 GORM 回调中完成
 *
 * 使用示例:
 *   repo, err := repository.NewScoped[model.Customer](db)
 *   ctx = tenant.With(ctx, tenant.Context{TenantID: "t1", ActorID: "u1"})
 *   err = repo.Create(ctx, &model.Customer{Name: "Acme"})
 *   c, err := repo.FindByID(ctx, id)          // 其他租户的 id 返回 ErrNotFound
 *   err = repo.SoftDelete(ctx, id)            // deleted_at = now
 * ======================================================================== */

const (
	// DefaultBatchSize 默认批量操作大小
	DefaultBatchSize = 100
)

// protectedColumns UpdateByID 永远不会写入的列
var protectedColumns = map[string]struct{}{
	"tenant_id":  {},
	"created_at": {},
	"created_by": {},
	"deleted_at": {},
}

// Scoped 租户实体仓储实现
type Scoped[T any] struct {
	db     *gorm.DB
	entity guard.Entity

	schemaOnce sync.Once
	schema     *schema.Schema
	schemaErr  error
}

// NewScoped 创建租户仓储。T 必须实现 tenant.Scoped，且 db 已安装租户守卫插件。
func NewScoped[T any](db *gorm.DB) (*Scoped[T], error) {
	if db == nil {
		return nil, errors.New(errors.ErrCodeMisconfigured, "repository requires a database handle")
	}
	if _, ok := db.Config.Plugins[guard.PluginName]; !ok {
		return nil, errors.New(errors.ErrCodeMisconfigured, "tenant guard plugin is not installed")
	}

	sample := any(new(T))
	sc, ok := sample.(tenant.Scoped)
	if !ok || !sc.TenantScoped() {
		return nil, errors.Wrapf(errors.ErrCodeMisconfigured, nil, "%T is not a tenant scoped model", sample)
	}

	r := &Scoped[T]{db: db}
	s, err := r.getSchema()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMisconfigured, "parse model schema", err)
	}
	if s.LookUpField("tenant_id") == nil {
		return nil, errors.Wrapf(errors.ErrCodeMisconfigured, nil, "model %s has no tenant_id column", s.Name)
	}

	r.entity = guard.Entity{Name: s.Table, Scoped: true}
	if sd, ok := sample.(tenant.SoftDeletable); ok {
		r.entity.SoftDelete = sd.SoftDeletes()
	}
	return r, nil
}

// Entity 实体特征
func (r *Scoped[T]) Entity() guard.Entity {
	return r.entity
}

func (r *Scoped[T]) getSchema() (*schema.Schema, error) {
	r.schemaOnce.Do(func() {
		stmt := &gorm.Statement{DB: r.db}
		r.schemaErr = stmt.Parse(new(T))
		if r.schemaErr == nil {
			r.schema = stmt.Schema
		}
	})
	return r.schema, r.schemaErr
}

// conn 校验租户上下文并返回绑定 ctx（及事务）的 DB
func (r *Scoped[T]) conn(ctx context.Context) (*gorm.DB, error) {
	if _, err := tenant.Require(ctx); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeTenantRequired, err, "%s repository", r.entity.Name)
	}
	return Conn(ctx, r.db), nil
}

func (r *Scoped[T]) query(ctx context.Context, opt *QueryOption) (*gorm.DB, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	if opt == nil {
		return db, nil
	}
	if err := ValidateSelect(opt.Select); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidArgument, "invalid select", err)
	}
	if err := ValidateOrderBy(opt.OrderBy); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidArgument, "invalid order", err)
	}
	if opt.Unscoped {
		db = db.Unscoped()
	}
	if len(opt.Select) > 0 {
		db = db.Select(opt.Select)
	}
	if opt.OrderBy != "" {
		db = db.Order(opt.OrderBy)
	}
	for _, scope := range opt.Scopes {
		db = scope(db)
	}
	return db, nil
}

/* ========================================================================
 * Create
 * ======================================================================== */

// Create 创建记录；tenant_id / created_by 由守卫注入
func (r *Scoped[T]) Create(ctx context.Context, m *T) error {
	if m == nil {
		return errors.ErrInvalidArgument
	}
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(db.Create(m).Error, "create "+r.entity.Name)
}

// CreateBatch 批量创建
func (r *Scoped[T]) CreateBatch(ctx context.Context, ms []*T, batchSize int) error {
	valid := make([]*T, 0, len(ms))
	for _, m := range ms {
		if m != nil {
			valid = append(valid, m)
		}
	}
	if len(valid) == 0 {
		return errors.ErrInvalidArgument
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(db.CreateInBatches(valid, batchSize).Error, "create "+r.entity.Name)
}

/* ========================================================================
 * Query
 * ======================================================================== */

// FindByID 按主键查询；不存在或属于其他租户时返回 ErrNotFound
func (r *Scoped[T]) FindByID(ctx context.Context, id string, opts ...Option) (*T, error) {
	if id == "" {
		return nil, errors.ErrInvalidArgument
	}
	db, err := r.query(ctx, ApplyOptions(opts))
	if err != nil {
		return nil, err
	}
	m := new(T)
	if err := db.Where("id = ?", id).First(m).Error; err != nil {
		return nil, translate(err, "find "+r.entity.Name)
	}
	return m, nil
}

// FindOne 按条件查询一条
func (r *Scoped[T]) FindOne(ctx context.Context, query string, args ...any) (*T, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	m := new(T)
	if err := db.Where(query, args...).First(m).Error; err != nil {
		return nil, translate(err, "find "+r.entity.Name)
	}
	return m, nil
}

// Find 按条件查询多条；query 为空时查询租户内全部
func (r *Scoped[T]) Find(ctx context.Context, query string, opts []Option, args ...any) ([]*T, error) {
	db, err := r.query(ctx, ApplyOptions(opts))
	if err != nil {
		return nil, err
	}
	if query != "" {
		db = db.Where(query, args...)
	}
	var list []*T
	if err := db.Find(&list).Error; err != nil {
		return nil, translate(err, "list "+r.entity.Name)
	}
	return list, nil
}

// FindPage 分页查询，默认按 id 倒序（ULID 即创建时间）
func (r *Scoped[T]) FindPage(ctx context.Context, page PageRequest, query string, opts []Option, args ...any) (*PageResult[T], error) {
	page = page.Normalize()
	opt := ApplyOptions(opts)
	order := opt.OrderBy
	opt.OrderBy = ""

	base := func() (*gorm.DB, error) {
		db, err := r.query(ctx, opt)
		if err != nil {
			return nil, err
		}
		if query != "" {
			db = db.Where(query, args...)
		}
		return db, nil
	}

	db, err := base()
	if err != nil {
		return nil, err
	}
	var total int64
	if err := db.Model(new(T)).Count(&total).Error; err != nil {
		return nil, translate(err, "count "+r.entity.Name)
	}

	if err := ValidateOrderBy(order); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidArgument, "invalid order", err)
	}
	if order == "" {
		order = "id DESC"
	}
	db, err = base()
	if err != nil {
		return nil, err
	}
	var list []T
	if err := db.Order(order).Offset((page.Page - 1) * page.PageSize).Limit(page.PageSize).Find(&list).Error; err != nil {
		return nil, translate(err, "list "+r.entity.Name)
	}

	return &PageResult[T]{
		List:     list,
		Total:    total,
		Page:     page.Page,
		PageSize: page.PageSize,
		Pages:    int64(math.Ceil(float64(total) / float64(page.PageSize))),
	}, nil
}

// Count 统计租户内记录数
func (r *Scoped[T]) Count(ctx context.Context, query string, args ...any) (int64, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}
	db = db.Model(new(T))
	if query != "" {
		db = db.Where(query, args...)
	}
	var n int64
	if err := db.Count(&n).Error; err != nil {
		return 0, translate(err, "count "+r.entity.Name)
	}
	return n, nil
}

// Exists 是否存在
func (r *Scoped[T]) Exists(ctx context.Context, query string, args ...any) (bool, error) {
	n, err := r.Count(ctx, query, args...)
	return n > 0, err
}

/* ========================================================================
 * Update
 * ======================================================================== */

// UpdateByID 按主键更新指定字段；未命中（含其他租户的记录）返回 ErrNotFound
func (r *Scoped[T]) UpdateByID(ctx context.Context, id string, updates map[string]any, allowedFields ...string) error {
	if id == "" || len(updates) == 0 {
		return errors.ErrInvalidArgument
	}
	filtered, err := r.filterUpdates(updates, allowedFields)
	if err != nil {
		return err
	}
	if len(filtered) == 0 {
		return errors.New(errors.ErrCodeInvalidArgument, "no updatable fields")
	}

	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	res := db.Model(new(T)).Where("id = ?", id).Updates(filtered)
	if res.Error != nil {
		return translate(res.Error, "update "+r.entity.Name)
	}
	if res.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// filterUpdates 只保留模型中存在、可更新且不受保护的列，防止批量赋值
func (r *Scoped[T]) filterUpdates(updates map[string]any, allowedFields []string) (map[string]any, error) {
	s, err := r.getSchema()
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{}, len(allowedFields))
	for _, f := range allowedFields {
		allowed[f] = struct{}{}
	}

	filtered := make(map[string]any, len(updates))
	for k, v := range updates {
		field := s.LookUpField(k)
		if field == nil || field.DBName == "" || field.PrimaryKey || !field.Updatable {
			continue
		}
		if _, blocked := protectedColumns[field.DBName]; blocked {
			continue
		}
		if len(allowed) > 0 {
			_, byDB := allowed[field.DBName]
			_, byName := allowed[field.Name]
			if !byDB && !byName {
				continue
			}
		}
		filtered[field.DBName] = v
	}
	return filtered, nil
}

/* ========================================================================
 * Delete
 * ======================================================================== */

// SoftDelete 软删除
func (r *Scoped[T]) SoftDelete(ctx context.Context, id string) error {
	if id == "" {
		return errors.ErrInvalidArgument
	}
	n, err := r.softDelete(ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// SoftDeleteWhere 按条件批量软删除
func (r *Scoped[T]) SoftDeleteWhere(ctx context.Context, query string, args ...any) (int64, error) {
	if query == "" {
		return 0, errors.New(errors.ErrCodeUnsafeOperation, "soft delete requires a condition")
	}
	return r.softDelete(ctx, query, args...)
}

func (r *Scoped[T]) softDelete(ctx context.Context, query string, args ...any) (int64, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}
	plan := guard.Decide(r.entity, guard.KindDeleteMany, guard.BindingFrom(ctx), guard.ModeStrict)
	if !plan.SoftDelete {
		return 0, errors.Wrapf(errors.ErrCodeMisconfigured, nil, "%s does not support soft delete", r.entity.Name)
	}
	res := db.Where(query, args...).Delete(new(T))
	if res.Error != nil {
		return 0, translate(res.Error, "delete "+r.entity.Name)
	}
	return res.RowsAffected, nil
}

// HardDelete 物理删除
func (r *Scoped[T]) HardDelete(ctx context.Context, id string) error {
	if id == "" {
		return errors.ErrInvalidArgument
	}
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	res := db.Unscoped().Where("id = ?", id).Delete(new(T))
	if res.Error != nil {
		return translate(res.Error, "delete "+r.entity.Name)
	}
	if res.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}
