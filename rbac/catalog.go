package rbac

import (
	"sort"
	"strings"
)

/* ========================================================================
 * Permission Catalog - 权限目录
 * ========================================================================
 * 职责: 定义固定的权限 key 集合（resource:action 或 resource:sub:action）
 * 约束: 只读共享数据；新增 key 后需要重新执行 SeedPermissions
 * ======================================================================== */

// 权限分类
const (
	CategoryOrganization = "organization"
	CategoryMembers      = "members"
	CategoryRoles        = "roles"
	CategoryBilling      = "billing"
	CategoryCustomers    = "customers"
	CategoryFeedback     = "feedback"
	CategoryEvents       = "events"
	CategorySystem       = "system"
)

// PermissionDef 权限定义
type PermissionDef struct {
	Key         string
	Name        string
	Description string
	Category    string
	// IsSystem 特权运维权限，不应出现在自定义角色中
	IsSystem bool
}

// Resource key 的资源部分
func (d PermissionDef) Resource() string {
	resource, _, _ := strings.Cut(d.Key, ":")
	return resource
}

// Action key 的最后一段
func (d PermissionDef) Action() string {
	if i := strings.LastIndexByte(d.Key, ':'); i >= 0 {
		return d.Key[i+1:]
	}
	return d.Key
}

var catalog = []PermissionDef{
	{Key: "org:view", Name: "View organization", Description: "View organization profile and settings", Category: CategoryOrganization},
	{Key: "org:update", Name: "Update organization", Description: "Edit organization profile and settings", Category: CategoryOrganization},
	{Key: "org:delete", Name: "Delete organization", Description: "Delete the organization and its data", Category: CategoryOrganization},

	{Key: "members:view", Name: "View members", Description: "List organization members", Category: CategoryMembers},
	{Key: "members:invite", Name: "Invite members", Description: "Invite and add members", Category: CategoryMembers},
	{Key: "members:update", Name: "Change member roles", Description: "Change the role of a member", Category: CategoryMembers},
	{Key: "members:remove", Name: "Remove members", Description: "Remove members from the organization", Category: CategoryMembers},

	{Key: "roles:view", Name: "View roles", Description: "List roles and their permissions", Category: CategoryRoles},
	{Key: "roles:create", Name: "Create roles", Description: "Create custom roles", Category: CategoryRoles},
	{Key: "roles:update", Name: "Update roles", Description: "Edit custom roles", Category: CategoryRoles},
	{Key: "roles:delete", Name: "Delete roles", Description: "Delete custom roles", Category: CategoryRoles},

	{Key: "billing:view", Name: "View billing", Description: "View plan, invoices and usage", Category: CategoryBilling},
	{Key: "billing:manage", Name: "Manage billing", Description: "Change plan and payment method", Category: CategoryBilling},
	{Key: "billing:cancel", Name: "Cancel subscription", Description: "Cancel the organization subscription", Category: CategoryBilling},

	{Key: "customers:view", Name: "View customers", Description: "View customer records", Category: CategoryCustomers},
	{Key: "customers:create", Name: "Create customers", Description: "Create customer records", Category: CategoryCustomers},
	{Key: "customers:update", Name: "Update customers", Description: "Edit customer records", Category: CategoryCustomers},
	{Key: "customers:delete", Name: "Delete customers", Description: "Delete customer records", Category: CategoryCustomers},

	{Key: "feedback:view", Name: "View feedback", Description: "View submitted feedback", Category: CategoryFeedback},
	{Key: "feedback:create", Name: "Submit feedback", Description: "Submit feedback", Category: CategoryFeedback},
	{Key: "feedback:respond", Name: "Respond to feedback", Description: "Reply to and close feedback", Category: CategoryFeedback},
	{Key: "feedback:delete", Name: "Delete feedback", Description: "Delete feedback", Category: CategoryFeedback},

	{Key: "events:view", Name: "View events", Description: "View the audit event log", Category: CategoryEvents},
	{Key: "events:list", Name: "List events", Description: "List and filter audit events", Category: CategoryEvents},
	{Key: "events:export", Name: "Export events", Description: "Export the audit event log", Category: CategoryEvents},

	{Key: "system:settings:manage", Name: "Manage system settings", Description: "Operational access to system settings", Category: CategorySystem, IsSystem: true},
	{Key: "system:audit:read", Name: "Read system audit", Description: "Operational access to cross-tenant audit data", Category: CategorySystem, IsSystem: true},
	{Key: "system:impersonate", Name: "Impersonate users", Description: "Act on behalf of another user", Category: CategorySystem, IsSystem: true},
}

var catalogIndex = func() map[string]PermissionDef {
	m := make(map[string]PermissionDef, len(catalog))
	for _, d := range catalog {
		m[d.Key] = d
	}
	return m
}()

// Catalog 返回全部权限定义（副本）
func Catalog() []PermissionDef {
	out := make([]PermissionDef, len(catalog))
	copy(out, catalog)
	return out
}

// Keys 全部权限 key，按目录顺序
func Keys() []string {
	keys := make([]string, len(catalog))
	for i, d := range catalog {
		keys[i] = d.Key
	}
	return keys
}

// Lookup 按 key 查找
func Lookup(key string) (PermissionDef, bool) {
	d, ok := catalogIndex[key]
	return d, ok
}

// Categories 出现过的分类，按字母排序
func Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range catalog {
		if _, ok := seen[d.Category]; ok {
			continue
		}
		seen[d.Category] = struct{}{}
		out = append(out, d.Category)
	}
	sort.Strings(out)
	return out
}

// ByCategory 按分类分组
func ByCategory() map[string][]PermissionDef {
	out := make(map[string][]PermissionDef)
	for _, d := range catalog {
		out[d.Category] = append(out[d.Category], d)
	}
	return out
}
