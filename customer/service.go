package customer

import (
	"context"
	"strings"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/repository"
	"github.com/aisgo/ais-tenancy/validator"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateInput 新建客户
type CreateInput struct {
	Name  string `json:"name" validate:"required,max=255" error_msg:"required:name is required"`
	Email string `json:"email" validate:"omitempty,email,max=255" error_msg:"email:email is invalid"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
	Notes string `json:"notes" validate:"omitempty,max=4000"`
}

// UpdateInput 部分更新，nil 字段不修改
type UpdateInput struct {
	Name  *string `json:"name" validate:"omitempty,min=1,max=255"`
	Email *string `json:"email" validate:"omitempty,email,max=255"`
	Phone *string `json:"phone" validate:"omitempty,max=32"`
	Notes *string `json:"notes" validate:"omitempty,max=4000"`
}

// ListInput 分页与搜索
type ListInput struct {
	repository.PageRequest
	Search string `json:"search" query:"search"`
}

// updatable UpdateByID 白名单
var updatable = []string{"name", "email", "phone", "notes"}

// Service 客户服务；所有方法要求租户上下文
type Service struct {
	repo *repository.Scoped[model.Customer]
	log  *logger.Logger
}

// NewService 创建客户服务
func NewService(db *gorm.DB, log *logger.Logger) (*Service, error) {
	repo, err := repository.NewScoped[model.Customer](db)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{repo: repo, log: log}, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Customer, error) {
	if err := validator.Check(&in); err != nil {
		return nil, err
	}
	c := &model.Customer{
		Name:  strings.TrimSpace(in.Name),
		Email: strings.ToLower(strings.TrimSpace(in.Email)),
		Phone: in.Phone,
		Notes: in.Notes,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.WithContext(ctx).Debug("Customer created", zap.String("customer_id", c.ID), zap.String("tenant_id", c.TenantID))
	return c, nil
}

// Get 其他租户的 id 返回 ErrNotFound
func (s *Service) Get(ctx context.Context, id string) (*model.Customer, error) {
	return s.repo.FindByID(ctx, id)
}

// likeEscaper 转义 LIKE 通配符，以 '!' 作转义符
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// List 按名称或邮箱模糊搜索，搜索词按字面匹配
func (s *Service) List(ctx context.Context, in ListInput) (*repository.PageResult[model.Customer], error) {
	if q := strings.TrimSpace(in.Search); q != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(q)) + "%"
		return s.repo.FindPage(ctx, in.PageRequest, "LOWER(name) LIKE ? ESCAPE '!' OR email LIKE ? ESCAPE '!'", nil, like, like)
	}
	return s.repo.FindPage(ctx, in.PageRequest, "", nil)
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*model.Customer, error) {
	if err := validator.Check(&in); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.Name != nil {
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		updates["email"] = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Phone != nil {
		updates["phone"] = *in.Phone
	}
	if in.Notes != nil {
		updates["notes"] = *in.Notes
	}
	if len(updates) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidArgument, "nothing to update")
	}
	if err := s.repo.UpdateByID(ctx, id, updates, updatable...); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// Delete 软删除
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.SoftDelete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx, "")
}

// Module 提供 *Service
var Module = fx.Module("customer",
	fx.Provide(NewService),
)
