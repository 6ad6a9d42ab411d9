package repository

import (
	"context"

	"gorm.io/gorm"
)

/* ========================================================================
 * Repository Interfaces - 租户仓储接口定义
 * ========================================================================
 * 职责: 定义租户实体的类型安全数据访问接口
 * 设计: 每个方法都要求租户上下文；软删除与硬删除分开暴露
 * ======================================================================== */

// QueryOption 查询选项
type QueryOption struct {
	// OrderBy 排序（如 "created_at DESC"），会做注入校验
	OrderBy string
	// Select 选择字段
	Select []string
	// Scopes 额外查询作用域
	Scopes []func(*gorm.DB) *gorm.DB
	// Unscoped 包含已软删除的记录
	Unscoped bool
}

// Option 应用查询选项
type Option func(*QueryOption)

// WithOrderBy 设置排序
func WithOrderBy(orderBy string) Option {
	return func(o *QueryOption) {
		o.OrderBy = orderBy
	}
}

// WithSelect 设置选择字段
func WithSelect(selects ...string) Option {
	return func(o *QueryOption) {
		o.Select = selects
	}
}

// WithScopes 设置查询作用域
func WithScopes(scopes ...func(*gorm.DB) *gorm.DB) Option {
	return func(o *QueryOption) {
		o.Scopes = append(o.Scopes, scopes...)
	}
}

// WithDeleted 查询包含已软删除的记录（仍限定在当前租户内）
func WithDeleted() Option {
	return func(o *QueryOption) {
		o.Unscoped = true
	}
}

// ApplyOptions 应用查询选项
func ApplyOptions(opts []Option) *QueryOption {
	o := &QueryOption{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// PageRequest 分页参数
type PageRequest struct {
	Page     int `json:"page" query:"page"`
	PageSize int `json:"page_size" query:"page_size"`
}

// Normalize 修正页码与页大小
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 200 {
		p.PageSize = 200
	}
	return p
}

// PageResult 分页结果
type PageResult[T any] struct {
	List     []T   `json:"list"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Pages    int64 `json:"pages"`
}

// ScopedRepository 租户实体仓储
type ScopedRepository[T any] interface {
	Create(ctx context.Context, m *T) error
	CreateBatch(ctx context.Context, ms []*T, batchSize int) error

	FindByID(ctx context.Context, id string, opts ...Option) (*T, error)
	FindOne(ctx context.Context, query string, args ...any) (*T, error)
	Find(ctx context.Context, query string, opts []Option, args ...any) ([]*T, error)
	FindPage(ctx context.Context, page PageRequest, query string, opts []Option, args ...any) (*PageResult[T], error)
	Count(ctx context.Context, query string, args ...any) (int64, error)
	Exists(ctx context.Context, query string, args ...any) (bool, error)

	UpdateByID(ctx context.Context, id string, updates map[string]any, allowedFields ...string) error

	// SoftDelete 设置 deleted_at；实体不支持软删除时返回 ErrMisconfigured
	SoftDelete(ctx context.Context, id string) error
	// SoftDeleteWhere 按条件批量软删除，返回影响行数
	SoftDeleteWhere(ctx context.Context, query string, args ...any) (int64, error)
	// HardDelete 物理删除，仍限定在当前租户
	HardDelete(ctx context.Context, id string) error

	CountByGroup(ctx context.Context, groupColumn string, query string, args ...any) (map[string]int64, error)
}
