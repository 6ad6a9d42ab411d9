package model

import (
	"time"

	"github.com/aisgo/ais-tenancy/utils/id-generator/ulid"

	"gorm.io/gorm"
)

/* ========================================================================
 * Base Model - 基础模型
 * ========================================================================
 * 职责: 定义实体公共字段与租户特征
 * 字段: ULID 主键、审计字段、tenant_id、可空 deleted_at
 * ======================================================================== */

// Audit 审计字段；created_by / updated_by 由租户守卫根据操作者注入
type Audit struct {
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
	CreatedBy string    `json:"created_by,omitempty" gorm:"column:created_by;type:varchar(64)"`
	UpdatedBy string    `json:"updated_by,omitempty" gorm:"column:updated_by;type:varchar(64)"`
}

// TenantModel 租户隔离 + 软删除实体的基类
type TenantModel struct {
	ID       string `json:"id" gorm:"column:id;type:char(26);primaryKey"`
	TenantID string `json:"tenant_id" gorm:"column:tenant_id;type:char(26);not null;index"`
	Audit
	DeletedAt gorm.DeletedAt `json:"-" gorm:"column:deleted_at;index"`
}

func (TenantModel) TenantScoped() bool { return true }
func (TenantModel) SoftDeletes() bool  { return true }

// BeforeCreate 生成 ULID 主键
func (m *TenantModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = ulid.GenerateString()
	}
	return nil
}

// MemberRole 成员的旧版角色枚举，与系统角色名称一一对应
type MemberRole string

const (
	RoleOwner  MemberRole = "Owner"
	RoleAdmin  MemberRole = "Admin"
	RoleMember MemberRole = "Member"
	RoleViewer MemberRole = "Viewer"
)

// Valid 是否为已知角色
func (r MemberRole) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// SystemRoles 系统角色，按权限从多到少排列
func SystemRoles() []MemberRole {
	return []MemberRole{RoleOwner, RoleAdmin, RoleMember, RoleViewer}
}
