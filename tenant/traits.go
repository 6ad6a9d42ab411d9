package tenant

// Scoped 租户隔离实体。返回 true 的模型必须包含 tenant_id 列。
type Scoped interface {
	TenantScoped() bool
}

// SoftDeletable 声明实体是否使用 deleted_at 软删除
type SoftDeletable interface {
	SoftDeletes() bool
}
