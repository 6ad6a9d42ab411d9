package rbac

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/metrics"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/repository"
	"github.com/aisgo/ais-tenancy/tenant"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

/* ========================================================================
 * Role Provisioner - 系统角色供给
 * ========================================================================
 * 职责: 为租户物化四个系统角色，并使每个角色的权限集合与模板完全相等
 * 约束: 幂等、自愈（集合替换而非追加）；缺失权限定义时在写入任何角色前失败
 * 技术: GORM 事务 + OpenTelemetry span + Prometheus 指标
 * ======================================================================== */

var tracer = otel.Tracer("ais-tenancy/rbac")

// ProvisionedRole 单个角色的供给结果
type ProvisionedRole struct {
	Key     model.MemberRole `json:"key"`
	Slug    string           `json:"slug"`
	RoleID  string           `json:"role_id"`
	Created bool             `json:"created"`
	Revived bool             `json:"revived"`
	Added   int              `json:"added"`
	Removed int              `json:"removed"`
}

// ProvisionResult 租户供给结果
type ProvisionResult struct {
	TenantID string            `json:"tenant_id"`
	Roles    []ProvisionedRole `json:"roles"`
}

// RoleID 按角色名取角色 ID
func (r *ProvisionResult) RoleID(key model.MemberRole) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, role := range r.Roles {
		if role.Key == key {
			return role.RoleID, role.RoleID != ""
		}
	}
	return "", false
}

// Changed 本次供给是否修改了任何数据
func (r *ProvisionResult) Changed() bool {
	if r == nil {
		return false
	}
	for _, role := range r.Roles {
		if role.Created || role.Revived || role.Added > 0 || role.Removed > 0 {
			return true
		}
	}
	return false
}

// Provisioner 系统角色供给器
type Provisioner struct {
	log       *logger.Logger
	templates []RoleTemplate
}

// NewProvisioner 使用内置模板创建供给器
func NewProvisioner(log *logger.Logger) *Provisioner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Provisioner{log: log, templates: Templates()}
}

// WithTemplates 返回使用指定模板的副本
func (p *Provisioner) WithTemplates(ts []RoleTemplate) *Provisioner {
	cp := *p
	cp.templates = make([]RoleTemplate, len(ts))
	for i, t := range ts {
		cp.templates[i] = t.clone()
	}
	return &cp
}

// ProvisionSystemRolesForCompany 为租户供给系统角色。
// tx 已处于事务中时直接使用（与公司创建同事务），否则自行开启事务。
func (p *Provisioner) ProvisionSystemRolesForCompany(ctx context.Context, tenantID string, tx *gorm.DB) (result *ProvisionResult, err error) {
	if tenantID == "" {
		return nil, errors.New(errors.ErrCodeMisconfigured, "provisioning requires a tenant id")
	}
	if tx == nil {
		return nil, errors.New(errors.ErrCodeMisconfigured, "provisioning requires a database handle")
	}

	ctx, span := tracer.Start(ctx, "rbac.ProvisionSystemRolesForCompany",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "provisioning failed")
			return
		}
		span.SetAttributes(attribute.Bool("changed", result.Changed()))
		span.SetStatus(codes.Ok, "provisioned")
	}()

	sysCtx := tenant.System(ctx)
	if repository.InTransaction(tx) {
		return p.provision(tx.WithContext(sysCtx), tenantID)
	}
	err = tx.WithContext(sysCtx).Transaction(func(inner *gorm.DB) error {
		var perr error
		result, perr = p.provision(inner, tenantID)
		return perr
	})
	if err != nil {
		if _, ok := errors.AsBizError(err); !ok {
			err = errors.Wrap(errors.ErrCodeInternal, "provision roles", err)
		}
		return nil, err
	}
	return result, nil
}

func (p *Provisioner) provision(db *gorm.DB, tenantID string) (*ProvisionResult, error) {
	permIDs, err := p.resolvePermissions(db)
	if err != nil {
		return nil, err
	}

	result := &ProvisionResult{TenantID: tenantID, Roles: make([]ProvisionedRole, 0, len(p.templates))}
	for _, tpl := range p.templates {
		pr, err := p.upsertRole(db, tenantID, tpl)
		if err != nil {
			return nil, err
		}

		want := make([]string, 0, len(tpl.Permissions))
		for _, key := range tpl.Permissions {
			want = append(want, permIDs[key])
		}
		pr.Added, pr.Removed, err = replaceRolePermissions(db, pr.RoleID, want)
		if err != nil {
			return nil, err
		}

		if !pr.Created && (pr.Added > 0 || pr.Removed > 0) {
			metrics.ProvisionDrift.WithLabelValues(pr.Slug).Add(float64(pr.Added + pr.Removed))
			p.log.Warn("Role permissions drifted from template",
				zap.String("tenant_id", tenantID),
				zap.String("role", pr.Slug),
				zap.Int("added", pr.Added),
				zap.Int("removed", pr.Removed),
			)
		}
		result.Roles = append(result.Roles, pr)
	}

	p.log.Debug("System roles provisioned", zap.String("tenant_id", tenantID), zap.Bool("changed", result.Changed()))
	return result, nil
}

// resolvePermissions 把模板引用的全部 key 解析为权限 ID；任一缺失即失败
func (p *Provisioner) resolvePermissions(db *gorm.DB) (map[string]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	for _, tpl := range p.templates {
		for _, key := range tpl.Permissions {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	ids := make(map[string]string, len(keys))
	if len(keys) > 0 {
		var perms []model.Permission
		if err := db.Where(map[string]any{"key": keys}).Find(&perms).Error; err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, "load permissions", err)
		}
		for _, perm := range perms {
			ids[perm.Key] = perm.ID
		}
	}

	var missing []string
	for _, key := range keys {
		if _, ok := ids[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errors.New(errors.ErrCodeMisconfigured,
			"Missing permission definitions for keys: "+strings.Join(missing, ", "))
	}
	return ids, nil
}

// upsertRole 以 (tenant_id, name) 为键创建或更新角色，并恢复被软删除的系统角色
func (p *Provisioner) upsertRole(db *gorm.DB, tenantID string, tpl RoleTemplate) (ProvisionedRole, error) {
	pr := ProvisionedRole{Key: tpl.Key, Slug: tpl.Slug}

	var role model.Role
	res := db.Unscoped().
		Where(map[string]any{"tenant_id": tenantID, "name": string(tpl.Key)}).
		Limit(1).
		Find(&role)
	if res.Error != nil {
		return pr, errors.Wrap(errors.ErrCodeInternal, "load role", res.Error)
	}

	if res.RowsAffected == 0 {
		role = model.Role{
			TenantID:    tenantID,
			Name:        string(tpl.Key),
			Slug:        tpl.Slug,
			Description: tpl.Description,
			IsSystem:    true,
		}
		if err := db.Create(&role).Error; err != nil {
			return pr, errors.Wrap(errors.ErrCodeInternal, "create role "+tpl.Slug, err)
		}
		pr.RoleID = role.ID
		pr.Created = true
		return pr, nil
	}

	pr.RoleID = role.ID
	pr.Revived = role.DeletedAt.Valid
	if role.Slug == tpl.Slug && role.Description == tpl.Description && role.IsSystem && !pr.Revived {
		return pr, nil
	}
	err := db.Unscoped().Model(&model.Role{}).
		Where("id = ?", role.ID).
		Updates(map[string]any{
			"slug":        tpl.Slug,
			"description": tpl.Description,
			"is_system":   true,
			"deleted_at":  nil,
		}).Error
	if err != nil {
		return pr, errors.Wrap(errors.ErrCodeInternal, "update role "+tpl.Slug, err)
	}
	return pr, nil
}

// replaceRolePermissions 让角色的权限集合等于 want，返回新增与移除的条目数
func replaceRolePermissions(db *gorm.DB, roleID string, want []string) (added, removed int, err error) {
	var current []string
	if err := db.Model(&model.RolePermission{}).Where("role_id = ?", roleID).Pluck("permission_id", &current).Error; err != nil {
		return 0, 0, errors.Wrap(errors.ErrCodeInternal, "load role permissions", err)
	}

	wantSet := make(map[string]struct{}, len(want))
	for _, id := range want {
		wantSet[id] = struct{}{}
	}
	currentSet := make(map[string]struct{}, len(current))
	var extra []string
	for _, id := range current {
		currentSet[id] = struct{}{}
		if _, ok := wantSet[id]; !ok {
			extra = append(extra, id)
		}
	}
	var rows []model.RolePermission
	for id := range wantSet {
		if _, ok := currentSet[id]; !ok {
			rows = append(rows, model.RolePermission{RoleID: roleID, PermissionID: id})
		}
	}

	if len(extra) > 0 {
		if err := db.Where("role_id = ? AND permission_id IN ?", roleID, extra).Delete(&model.RolePermission{}).Error; err != nil {
			return 0, 0, errors.Wrap(errors.ErrCodeInternal, "remove role permissions", err)
		}
	}
	if len(rows) > 0 {
		if err := db.Create(&rows).Error; err != nil {
			return 0, 0, errors.Wrap(errors.ErrCodeInternal, "add role permissions", err)
		}
	}
	return len(rows), len(extra), nil
}
