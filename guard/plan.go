package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/aisgo/ais-tenancy/tenant"
)

/* ========================================================================
 * Tenant Guard - 决策表
 * ========================================================================
 * 职责: 根据实体特征、操作类型、租户上下文与模式给出改写计划
 * 约束: 纯函数，无副作用；GORM 插件与描述符改写共用同一张表
 * ======================================================================== */

// Kind 数据库操作类型
type Kind int

const (
	KindCreate Kind = iota + 1
	KindCreateMany
	KindRead
	KindUpdate
	KindUpdateMany
	KindUpsert
	KindDelete
	KindDeleteMany
	KindAggregate
	KindCount
	KindGroupBy
)

var kindNames = map[Kind]string{
	KindCreate:     "create",
	KindCreateMany: "create_many",
	KindRead:       "read",
	KindUpdate:     "update",
	KindUpdateMany: "update_many",
	KindUpsert:     "upsert",
	KindDelete:     "delete",
	KindDeleteMany: "delete_many",
	KindAggregate:  "aggregate",
	KindCount:      "count",
	KindGroupBy:    "group_by",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Mode 缺少租户上下文时的处理模式
type Mode int

const (
	// ModeStrict 无上下文访问租户实体直接报错（系统上下文除外）
	ModeStrict Mode = iota
	// ModeLenient 无上下文时放行，兼容旧行为
	ModeLenient
)

func (m Mode) String() string {
	if m == ModeLenient {
		return "lenient"
	}
	return "strict"
}

// UnmarshalText 支持配置文件中的 "strict" / "lenient"
func (m *Mode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "strict":
		*m = ModeStrict
	case "lenient", "legacy":
		*m = ModeLenient
	default:
		return fmt.Errorf("unknown tenancy mode %q", string(text))
	}
	return nil
}

// Entity 实体的租户特征
type Entity struct {
	Name       string // 表名
	Scoped     bool   // 是否有 tenant_id 并按租户隔离
	SoftDelete bool   // 是否使用 deleted_at
}

// Binding 当前执行环境的租户绑定
type Binding struct {
	Tenant *tenant.Context
	System bool
}

// BindingFrom 从 context 读取绑定
func BindingFrom(ctx context.Context) Binding {
	if tenant.IsSystem(ctx) {
		return Binding{System: true}
	}
	if tc, ok := tenant.From(ctx); ok {
		return Binding{Tenant: &tc}
	}
	return Binding{}
}

// Action 计划动作
type Action int

const (
	ActionPassThrough Action = iota
	ActionApply
	ActionReject
)

// Plan 改写计划
type Plan struct {
	Action Action
	Reason string // ActionReject 时的原因

	TenantID string
	ActorID  string

	InjectTenant     bool
	InjectCreatedBy  bool
	InjectUpdatedBy  bool
	FilterTenant     bool
	FilterNotDeleted bool
	SoftDelete       bool // 删除转换为更新 deleted_at
}

// RejectNoContext 拒绝原因：缺少租户上下文
const RejectNoContext = "no_context"

// Decide 决策表
func Decide(e Entity, k Kind, b Binding, mode Mode) Plan {
	if !e.Scoped || b.System {
		return Plan{Action: ActionPassThrough}
	}
	if b.Tenant == nil || !b.Tenant.Valid() {
		if mode == ModeLenient {
			return Plan{Action: ActionPassThrough}
		}
		return Plan{Action: ActionReject, Reason: RejectNoContext}
	}

	p := Plan{
		Action:   ActionApply,
		TenantID: b.Tenant.TenantID,
		ActorID:  b.Tenant.ActorID,
	}
	hasActor := p.ActorID != ""

	switch k {
	case KindCreate, KindCreateMany:
		p.InjectTenant = true
		p.InjectCreatedBy = hasActor
	case KindUpsert:
		p.InjectTenant = true
		p.InjectCreatedBy = hasActor
		p.InjectUpdatedBy = hasActor
		p.FilterTenant = true
		p.FilterNotDeleted = e.SoftDelete
	case KindUpdate, KindUpdateMany:
		p.FilterTenant = true
		p.FilterNotDeleted = e.SoftDelete
		p.InjectUpdatedBy = hasActor
	case KindDelete, KindDeleteMany:
		p.FilterTenant = true
		if e.SoftDelete {
			p.SoftDelete = true
			p.FilterNotDeleted = true
			p.InjectUpdatedBy = hasActor
		}
	default: // read, aggregate, count, group by
		p.FilterTenant = true
		p.FilterNotDeleted = e.SoftDelete
	}
	return p
}
