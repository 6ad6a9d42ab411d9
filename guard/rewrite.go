package guard

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/aisgo/ais-tenancy/errors"
)

// Args 操作参数描述符：Where 为嵌套过滤条件，Data 为写入载荷
type Args struct {
	Where map[string]any
	Data  map[string]any
	Many  []map[string]any // create_many 的多条载荷
}

// Operation 与 ORM 无关的操作描述符
type Operation struct {
	Entity Entity
	Kind   Kind
	Args   Args
}

// Rewriter 描述符改写器
type Rewriter struct {
	Mode Mode
	Now  func() time.Time
}

// Rewrite 使用严格模式改写
func Rewrite(ctx context.Context, op Operation) (Operation, error) {
	return Rewriter{}.Rewrite(ctx, op)
}

// Rewrite 按决策表改写操作。调用方的过滤条件整体作为 AND 的一个分支，
// 其中的 OR 或显式 tenant_id 无法越过租户过滤。
func (r Rewriter) Rewrite(ctx context.Context, op Operation) (Operation, error) {
	plan := Decide(op.Entity, op.Kind, BindingFrom(ctx), r.Mode)
	switch plan.Action {
	case ActionPassThrough:
		return op, nil
	case ActionReject:
		return op, errors.Wrapf(errors.ErrCodeTenantRequired, nil,
			"%s on %s requires a tenant context", op.Kind, op.Entity.Name)
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	out := Operation{Entity: op.Entity, Kind: op.Kind}

	if plan.InjectTenant {
		out.Args.Data = stampCreate(op.Args.Data, plan)
		if len(op.Args.Many) > 0 {
			out.Args.Many = make([]map[string]any, len(op.Args.Many))
			for i, row := range op.Args.Many {
				out.Args.Many[i] = stampCreate(row, plan)
			}
		}
	} else {
		out.Args.Data = cloneMap(op.Args.Data)
	}

	if plan.FilterTenant {
		out.Args.Where = scopeArgsWhere(op.Args.Where, plan)
	}

	if plan.SoftDelete {
		if op.Kind == KindDeleteMany {
			out.Kind = KindUpdateMany
		} else {
			out.Kind = KindUpdate
		}
		out.Args.Data = map[string]any{"deleted_at": now()}
	}

	if plan.InjectUpdatedBy {
		if out.Args.Data == nil {
			out.Args.Data = map[string]any{}
		}
		out.Args.Data["updated_by"] = plan.ActorID
	}

	if (plan.FilterTenant && !plan.InjectTenant) && out.Args.Data != nil {
		// 更新载荷中的 tenant_id 一律改回当前租户，禁止把数据迁移到其他租户
		if _, ok := out.Args.Data["tenant_id"]; ok {
			out.Args.Data["tenant_id"] = plan.TenantID
		}
	}
	return out, nil
}

func stampCreate(data map[string]any, plan Plan) map[string]any {
	out := cloneMap(data)
	if out == nil {
		out = map[string]any{}
	}
	out["tenant_id"] = plan.TenantID
	if plan.InjectCreatedBy {
		out["created_by"] = plan.ActorID
	}
	return out
}

func scopeArgsWhere(where map[string]any, plan Plan) map[string]any {
	and := make([]any, 0, 3)
	if len(where) > 0 {
		and = append(and, cloneMap(where))
	}
	and = append(and, map[string]any{"tenant_id": plan.TenantID})
	if plan.FilterNotDeleted {
		and = append(and, map[string]any{"deleted_at": nil})
	}
	return map[string]any{"AND": and}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// String 便于日志输出
func (op Operation) String() string {
	return fmt.Sprintf("%s %s", op.Kind, op.Entity.Name)
}
