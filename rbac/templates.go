package rbac

import (
	"strings"

	"github.com/aisgo/ais-tenancy/model"
)

// RoleTemplate 系统角色模板，供给时复制到每个租户
type RoleTemplate struct {
	Key         model.MemberRole
	Slug        string
	Description string
	Permissions []string
}

// adminExcluded Admin 不具备的权限（另外排除全部 system:*）
var adminExcluded = map[string]struct{}{
	"org:delete":     {},
	"billing:cancel": {},
	"roles:delete":   {},
}

var memberKeys = []string{
	"org:view",
	"billing:view",
	"customers:view",
	"customers:create",
	"customers:update",
	"customers:delete",
	"feedback:create",
	"feedback:view",
	"members:view",
}

func buildTemplates() []RoleTemplate {
	var owner, admin, viewer []string
	for _, d := range catalog {
		owner = append(owner, d.Key)
		if _, skip := adminExcluded[d.Key]; !skip && d.Category != CategorySystem {
			admin = append(admin, d.Key)
		}
		if a := d.Action(); (a == "view" || a == "list") && !d.IsSystem {
			viewer = append(viewer, d.Key)
		}
	}
	return []RoleTemplate{
		{Key: model.RoleOwner, Slug: "owner", Description: "Full access to the organization", Permissions: owner},
		{Key: model.RoleAdmin, Slug: "admin", Description: "Manage the organization except destructive operations", Permissions: admin},
		{Key: model.RoleMember, Slug: "member", Description: "Day-to-day work on customers and feedback", Permissions: append([]string(nil), memberKeys...)},
		{Key: model.RoleViewer, Slug: "viewer", Description: "Read-only access", Permissions: viewer},
	}
}

var templates = buildTemplates()

// Templates 四个系统角色模板，按权限从多到少排列
func Templates() []RoleTemplate {
	out := make([]RoleTemplate, len(templates))
	for i, t := range templates {
		out[i] = t.clone()
	}
	return out
}

// TemplateFor 按角色名查找模板，大小写不敏感
func TemplateFor(role model.MemberRole) (RoleTemplate, bool) {
	for _, t := range templates {
		if strings.EqualFold(string(t.Key), string(role)) {
			return t.clone(), true
		}
	}
	return RoleTemplate{}, false
}

func (t RoleTemplate) clone() RoleTemplate {
	t.Permissions = append([]string(nil), t.Permissions...)
	return t
}
