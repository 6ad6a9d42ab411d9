package guard

import (
	"context"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/metrics"
	"github.com/aisgo/ais-tenancy/model"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

/* ========================================================================
 * Tenant Guard Plugin - GORM 拦截
 * ========================================================================
 * 职责: 在 create/query/row/update/delete 回调前执行决策表，
 *       注入 tenant_id 与审计字段，追加租户过滤，软删除转更新
 * 边界: Raw/Exec 原生 SQL 不经过改写，由调用方负责
 * ======================================================================== */

// PluginName GORM 插件名
const PluginName = "tenancy:guard"

const scopedKey = "tenancy:scoped"

// Config 守卫配置
type Config struct {
	Mode Mode `mapstructure:"mode"`
}

// Plugin 租户守卫插件
type Plugin struct {
	cfg Config
	log *logger.Logger
	reg *registry
}

// NewPlugin 创建守卫插件
func NewPlugin(cfg Config, log *logger.Logger) *Plugin {
	if log == nil {
		log = logger.NewNop()
	}
	return &Plugin{cfg: cfg, log: log, reg: newRegistry()}
}

// Name 实现 gorm.Plugin
func (p *Plugin) Name() string {
	return PluginName
}

// Mode 当前模式
func (p *Plugin) Mode() Mode {
	return p.cfg.Mode
}

// Initialize 实现 gorm.Plugin，注册回调
func (p *Plugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	steps := []struct {
		name string
		reg  func() error
	}{
		{"create", func() error { return cb.Create().Before("gorm:create").Register("tenancy:create", p.beforeCreate) }},
		{"query", func() error { return cb.Query().Before("gorm:query").Register("tenancy:query", p.beforeQuery) }},
		{"row", func() error { return cb.Row().Before("gorm:row").Register("tenancy:row", p.beforeQuery) }},
		{"update", func() error { return cb.Update().Before("gorm:update").Register("tenancy:update", p.beforeUpdate) }},
		{"update_audit", func() error {
			return cb.Update().After("gorm:update").Register("tenancy:update_audit", p.afterMutation(KindUpdate))
		}},
		{"delete", func() error { return cb.Delete().Before("gorm:delete").Register("tenancy:delete", p.beforeDelete) }},
		{"delete_audit", func() error {
			return cb.Delete().After("gorm:delete").Register("tenancy:delete_audit", p.afterMutation(KindDelete))
		}},
	}
	for _, s := range steps {
		if err := s.reg(); err != nil {
			return errors.Wrapf(errors.ErrCodeMisconfigured, err, "register tenancy %s callback", s.name)
		}
	}
	return nil
}

// Register 预先登记模型，使 db.Table("x") 这类无 schema 语句也能识别租户表
func (p *Plugin) Register(db *gorm.DB, models ...any) error {
	for _, m := range models {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return err
		}
		if _, err := p.reg.forSchema(stmt.Schema); err != nil {
			return err
		}
	}
	return nil
}

// Describe 返回模型的租户特征
func (p *Plugin) Describe(db *gorm.DB, model any) (Entity, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return Entity{}, err
	}
	return p.reg.forSchema(stmt.Schema)
}

// plan 计算当前语句的计划；返回 ok=false 时调用方直接返回
func (p *Plugin) plan(db *gorm.DB, kind Kind) (Entity, Plan, bool) {
	stmt := db.Statement
	entity, relevant, err := p.reg.resolve(stmt)
	if err != nil {
		p.reject(db, "misconfigured", err)
		return entity, Plan{}, false
	}
	if !relevant {
		return entity, Plan{}, false
	}

	plan := Decide(entity, kind, BindingFrom(stmt.Context), p.cfg.Mode)
	switch plan.Action {
	case ActionReject:
		p.reject(db, plan.Reason, errors.Wrapf(errors.ErrCodeTenantRequired, nil,
			"%s on %s requires a tenant context", kind, entity.Name))
		return entity, plan, false
	case ActionPassThrough:
		return entity, plan, false
	}

	metrics.GuardRewrites.WithLabelValues(kind.String(), entity.Name).Inc()
	return entity, plan, true
}

func (p *Plugin) reject(db *gorm.DB, reason string, err error) {
	metrics.GuardRejections.WithLabelValues(reason).Inc()
	p.log.WithContext(ctxOf(db)).Warn("tenant guard rejected operation",
		zap.String("reason", reason),
		zap.String("table", db.Statement.Table),
		zap.Error(err),
	)
	_ = db.AddError(err)
}

// afterMutation 记录租户上下文下影响 0 行的写操作。
// 响应仍为 not found，不暴露记录是否属于其他租户。
func (p *Plugin) afterMutation(kind Kind) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Error != nil || db.RowsAffected != 0 {
			return
		}
		v, ok := db.InstanceGet(scopedKey)
		if !ok {
			return
		}
		table, _ := v.(string)
		metrics.GuardZeroRowMutations.WithLabelValues(table, kind.String()).Inc()
		p.log.WithContext(ctxOf(db)).Debug("tenant scoped mutation matched no rows",
			zap.String("table", table),
			zap.String("kind", kind.String()),
		)
	}
}

func ctxOf(db *gorm.DB) context.Context {
	if db.Statement != nil && db.Statement.Context != nil {
		return db.Statement.Context
	}
	return context.Background()
}

// registerModels 数据库就绪后登记全部实体
func registerModels(p *Plugin, db *gorm.DB) error {
	return p.Register(db, model.All()...)
}

// Module fx 模块：提供 *Plugin，并以 gorm_plugins 组注入数据库构造函数
var Module = fx.Module("tenancy-guard",
	fx.Provide(
		NewPlugin,
		fx.Annotate(
			func(p *Plugin) gorm.Plugin { return p },
			fx.ResultTags(`group:"gorm_plugins"`),
		),
	),
	fx.Invoke(registerModels),
)
