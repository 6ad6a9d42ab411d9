package rbac

import (
	"context"
	"sort"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/tenant"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

/* ========================================================================
 * Permission Resolver - 运行时权限解析
 * ========================================================================
 * 职责: 计算用户在租户内的有效权限集合
 * 规则: membership.role_id 指向的有效角色优先；否则按旧版角色名回退到模板
 * ======================================================================== */

// 权限来源
const (
	SourceRole   = "role"
	SourceLegacy = "legacy"
)

// Grant 用户在租户内的有效权限
type Grant struct {
	TenantID    string           `json:"tenant_id"`
	UserID      string           `json:"user_id"`
	Role        model.MemberRole `json:"role"`
	RoleID      string           `json:"role_id,omitempty"`
	Source      string           `json:"source"`
	Permissions []string         `json:"permissions"` // 已排序
}

// Has 是否拥有权限
func (g *Grant) Has(key string) bool {
	if g == nil {
		return false
	}
	i := sort.SearchStrings(g.Permissions, key)
	return i < len(g.Permissions) && g.Permissions[i] == key
}

// HasAll 是否拥有全部权限
func (g *Grant) HasAll(keys ...string) bool {
	for _, k := range keys {
		if !g.Has(k) {
			return false
		}
	}
	return true
}

// HasAny 是否拥有任一权限
func (g *Grant) HasAny(keys ...string) bool {
	for _, k := range keys {
		if g.Has(k) {
			return true
		}
	}
	return false
}

// PermissionResolver 权限解析接口，中间件依赖此接口
type PermissionResolver interface {
	Resolve(ctx context.Context, tenantID, userID string) (*Grant, error)
}

// Resolver 直接查询数据库的解析器
type Resolver struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewResolver 创建解析器
func NewResolver(db *gorm.DB, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{db: db, log: log}
}

// Resolve 解析权限；用户不是租户成员时返回 ErrPermissionDenied
func (r *Resolver) Resolve(ctx context.Context, tenantID, userID string) (grant *Grant, err error) {
	if tenantID == "" || userID == "" {
		return nil, errors.ErrInvalidArgument
	}

	ctx, span := tracer.Start(ctx, "rbac.Resolve", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("user.id", userID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve failed")
		} else {
			span.SetAttributes(attribute.String("source", grant.Source), attribute.Int("permissions", len(grant.Permissions)))
		}
		span.End()
	}()

	// 成员与角色都经过租户守卫过滤
	db := r.db.WithContext(tenant.With(ctx, tenant.Context{TenantID: tenantID, ActorID: userID}))

	var m model.Membership
	res := db.Where("user_id = ?", userID).Limit(1).Find(&m)
	if res.Error != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "load membership", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errors.ErrPermissionDenied
	}

	grant = &Grant{TenantID: tenantID, UserID: userID, Role: m.Role}

	if m.RoleID != nil && *m.RoleID != "" {
		var role model.Role
		res := db.Where("id = ?", *m.RoleID).Limit(1).Find(&role)
		if res.Error != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, "load role", res.Error)
		}
		if res.RowsAffected > 0 {
			var keys []string
			err := db.Table("permissions").
				Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
				Where("role_permissions.role_id = ?", role.ID).
				Pluck("permissions.key", &keys).Error
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeInternal, "load role permissions", err)
			}
			grant.RoleID = role.ID
			grant.Source = SourceRole
			grant.Permissions = normalize(keys)
			return grant, nil
		}
		r.log.WithContext(ctx).Warn("membership references a missing role, falling back to legacy role")
	}

	grant.Source = SourceLegacy
	if tpl, ok := TemplateFor(m.Role); ok {
		grant.Permissions = normalize(tpl.Permissions)
	} else {
		grant.Permissions = []string{}
	}
	return grant, nil
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
