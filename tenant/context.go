package tenant

import (
	"context"

	"github.com/aisgo/ais-tenancy/errors"
)

/* ========================================================================
 * Tenant Context - 请求级租户上下文
 * ========================================================================
 * 职责: 通过 context.Context 传递当前租户与操作者，支持嵌套作用域与系统上下文
 * 约束: 父 context 永不被修改，嵌套调用结束后外层值天然保持不变
 * ======================================================================== */

// Context 当前租户上下文
type Context struct {
	TenantID string
	ActorID  string // 可选，写入 created_by / updated_by
}

// Valid 是否携带有效租户
func (c Context) Valid() bool {
	return c.TenantID != ""
}

type ctxKey struct{}

// binding 三种状态: 租户上下文 / 系统上下文 / 显式清空
type binding struct {
	tc     Context
	system bool
}

// With 返回携带租户上下文的子 context
func With(parent context.Context, tc Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, ctxKey{}, binding{tc: tc})
}

// Clear 返回不携带任何租户上下文的子 context（对应 setContext(null)）
func Clear(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, ctxKey{}, binding{})
}

// System 返回系统上下文：明确声明不带租户，跨租户操作需显式使用
func System(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, ctxKey{}, binding{system: true})
}

// From 读取当前租户上下文
func From(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	b, ok := ctx.Value(ctxKey{}).(binding)
	if !ok || b.system || !b.tc.Valid() {
		return Context{}, false
	}
	return b.tc, true
}

// IsSystem 是否处于系统上下文
func IsSystem(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	b, ok := ctx.Value(ctxKey{}).(binding)
	return ok && b.system
}

// Require 读取租户上下文，缺失时返回 ErrTenantRequired
func Require(ctx context.Context) (Context, error) {
	tc, ok := From(ctx)
	if !ok {
		return Context{}, errors.ErrTenantRequired
	}
	return tc, nil
}

// ActorFrom 返回操作者 ID（系统上下文下可能为空）
func ActorFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if b, ok := ctx.Value(ctxKey{}).(binding); ok {
		return b.tc.ActorID
	}
	return ""
}

// Run 在租户作用域内执行 fn
func Run(parent context.Context, tc Context, fn func(ctx context.Context) error) error {
	return fn(With(parent, tc))
}

// Call 在租户作用域内执行 fn 并返回结果
func Call[T any](parent context.Context, tc Context, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(With(parent, tc))
}

// RunSystem 在系统上下文内执行 fn
func RunSystem(parent context.Context, fn func(ctx context.Context) error) error {
	return fn(System(parent))
}

// CallSystem 在系统上下文内执行 fn 并返回结果
func CallSystem[T any](parent context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(System(parent))
}
