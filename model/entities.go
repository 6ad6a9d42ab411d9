package model

import (
	"time"

	"github.com/aisgo/ais-tenancy/database"
	"github.com/aisgo/ais-tenancy/utils/id-generator/ulid"

	"gorm.io/gorm"
)

// Company 租户。自身不做租户隔离，软删除会级联到其下的业务数据。
type Company struct {
	ID   string `json:"id" gorm:"column:id;type:char(26);primaryKey"`
	Name string `json:"name" gorm:"column:name;type:varchar(255);not null"`
	Slug string `json:"slug" gorm:"column:slug;type:varchar(128);not null;uniqueIndex"`
	Audit
	DeletedAt gorm.DeletedAt `json:"-" gorm:"column:deleted_at;index"`
}

func (c *Company) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = ulid.GenerateString()
	}
	return nil
}

// User 全局用户，由身份提供方回填，不做租户过滤
type User struct {
	ID        string    `json:"id" gorm:"column:id;type:varchar(64);primaryKey"`
	Email     string    `json:"email" gorm:"column:email;type:varchar(255)"`
	Name      string    `json:"name" gorm:"column:name;type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership 用户与公司的关系，(user_id, tenant_id) 唯一。硬删除。
type Membership struct {
	ID       string     `json:"id" gorm:"column:id;type:char(26);primaryKey"`
	UserID   string     `json:"user_id" gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:idx_membership_user_tenant"`
	TenantID string     `json:"tenant_id" gorm:"column:tenant_id;type:char(26);not null;uniqueIndex:idx_membership_user_tenant;index"`
	Role     MemberRole `json:"role" gorm:"column:role;type:varchar(16);not null"`
	RoleID   *string    `json:"role_id,omitempty" gorm:"column:role_id;type:char(26)"`
	Audit
}

func (Membership) TableName() string  { return "memberships" }
func (Membership) TenantScoped() bool { return true }
func (Membership) SoftDeletes() bool  { return false }
func (m *Membership) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = ulid.GenerateString()
	}
	return nil
}

// Role 租户内角色，名称在租户内唯一
type Role struct {
	ID          string `json:"id" gorm:"column:id;type:char(26);primaryKey"`
	TenantID    string `json:"tenant_id" gorm:"column:tenant_id;type:char(26);not null;uniqueIndex:idx_role_tenant_name"`
	Name        string `json:"name" gorm:"column:name;type:varchar(64);not null;uniqueIndex:idx_role_tenant_name"`
	Slug        string `json:"slug" gorm:"column:slug;type:varchar(64);not null"`
	Description string `json:"description" gorm:"column:description;type:varchar(255)"`
	IsSystem    bool   `json:"is_system" gorm:"column:is_system;not null;default:false"`
	Audit
	DeletedAt gorm.DeletedAt `json:"-" gorm:"column:deleted_at;index"`
}

func (Role) TenantScoped() bool { return true }
func (Role) SoftDeletes() bool  { return true }
func (r *Role) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = ulid.GenerateString()
	}
	return nil
}

// Permission 全局权限定义，由权限目录播种
type Permission struct {
	ID          string    `json:"id" gorm:"column:id;type:char(26);primaryKey"`
	Key         string    `json:"key" gorm:"column:key;type:varchar(128);not null;uniqueIndex"`
	Name        string    `json:"name" gorm:"column:name;type:varchar(128);not null"`
	Description string    `json:"description" gorm:"column:description;type:varchar(255)"`
	Category    string    `json:"category" gorm:"column:category;type:varchar(64);index"`
	IsSystem    bool      `json:"is_system" gorm:"column:is_system;not null;default:false"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p *Permission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = ulid.GenerateString()
	}
	return nil
}

// RolePermission 角色-权限关联
type RolePermission struct {
	RoleID       string    `json:"role_id" gorm:"column:role_id;type:char(26);primaryKey"`
	PermissionID string    `json:"permission_id" gorm:"column:permission_id;type:char(26);primaryKey;index"`
	CreatedAt    time.Time `json:"created_at"`
}

func (RolePermission) TableName() string { return "role_permissions" }

// Customer 租户客户
type Customer struct {
	TenantModel
	Name  string `json:"name" gorm:"column:name;type:varchar(255);not null"`
	Email string `json:"email" gorm:"column:email;type:varchar(255)"`
	Phone string `json:"phone" gorm:"column:phone;type:varchar(32)"`
	Notes string `json:"notes" gorm:"column:notes;type:text"`
}

// Feedback 租户内反馈
type Feedback struct {
	TenantModel
	Subject string `json:"subject" gorm:"column:subject;type:varchar(255);not null"`
	Body    string `json:"body" gorm:"column:body;type:text"`
	Status  string `json:"status" gorm:"column:status;type:varchar(32);not null;default:open"`
}

func (Feedback) TableName() string { return "feedback" }

// EventLog 租户内审计事件
type EventLog struct {
	TenantModel
	Type    string         `json:"type" gorm:"column:type;type:varchar(64);not null;index"`
	Payload database.JSONB `json:"payload" gorm:"column:payload"`
}
