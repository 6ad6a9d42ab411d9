package company

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/aisgo/ais-tenancy/database"
	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/events"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/rbac"
	"github.com/aisgo/ais-tenancy/repository"
	"github.com/aisgo/ais-tenancy/tenant"
	"github.com/aisgo/ais-tenancy/validator"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* ========================================================================
 * Company Service - 公司生命周期与成员管理
 * ========================================================================
 * 职责: 创建公司（公司 + 角色 + Owner 成员关系同一事务）、身份回填、
 *       访问校验、成员增删改、公司软删除级联、审计汇总
 * 约束: 跨租户操作显式使用系统上下文；成员管理要求租户上下文
 * 技术: GORM 事务 + 租户仓储 + 领域事件（提交后发布）
 * ======================================================================== */

var tracer = otel.Tracer("ais-tenancy/company")

// Invalidator 权限缓存失效
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID, userID string) error
	InvalidateTenant(ctx context.Context, tenantID string) error
}

// CreateCompanyInput 创建公司
type CreateCompanyInput struct {
	Name string `json:"name" validate:"required,max=255" error_msg:"required:name is required|max:name is too long"`
	Slug string `json:"slug" validate:"required,max=128,slug" error_msg:"required:slug is required|slug:slug must be lowercase words joined by hyphens"`
}

// CreateCompanyResult 创建结果
type CreateCompanyResult struct {
	Company    *model.Company        `json:"company"`
	Membership *model.Membership     `json:"membership"`
	Roles      *rbac.ProvisionResult `json:"roles"`
}

// UserProfile 身份提供方回填的用户资料；空字段不覆盖已有值
type UserProfile struct {
	ID    string `json:"user_id" validate:"required,max=64" error_msg:"required:user_id is required"`
	Email string `json:"email" validate:"omitempty,email,max=255"`
	Name  string `json:"name" validate:"omitempty,max=255"`
}

// AddMemberInput 添加成员；Role 为空时为 Member
type AddMemberInput struct {
	UserID string `json:"user_id" validate:"required,max=64" error_msg:"required:user_id is required"`
	Role   string `json:"role" validate:"omitempty,member_role" error_msg:"member_role:role must be one of Owner, Admin, Member, Viewer"`
}

// Member 成员视图
type Member struct {
	UserID   string           `json:"user_id"`
	Email    string           `json:"email,omitempty"`
	Name     string           `json:"name,omitempty"`
	Role     model.MemberRole `json:"role"`
	RoleID   *string          `json:"role_id,omitempty"`
	JoinedAt time.Time        `json:"joined_at"`
}

// Service 公司服务
type Service struct {
	db          *gorm.DB
	provisioner *rbac.Provisioner
	cache       Invalidator
	publisher   events.Publisher
	log         *logger.Logger

	members   *repository.Scoped[model.Membership]
	roles     *repository.Scoped[model.Role]
	customers *repository.Scoped[model.Customer]
	feedback  *repository.Scoped[model.Feedback]
	eventLogs *repository.Scoped[model.EventLog]
}

// NewService 创建服务；db 必须已安装租户守卫
func NewService(db *gorm.DB, provisioner *rbac.Provisioner, cache Invalidator, publisher events.Publisher, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if cache == nil {
		cache = nopInvalidator{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	s := &Service{db: db, provisioner: provisioner, cache: cache, publisher: publisher, log: log}

	var err error
	if s.members, err = repository.NewScoped[model.Membership](db); err != nil {
		return nil, err
	}
	if s.roles, err = repository.NewScoped[model.Role](db); err != nil {
		return nil, err
	}
	if s.customers, err = repository.NewScoped[model.Customer](db); err != nil {
		return nil, err
	}
	if s.feedback, err = repository.NewScoped[model.Feedback](db); err != nil {
		return nil, err
	}
	if s.eventLogs, err = repository.NewScoped[model.EventLog](db); err != nil {
		return nil, err
	}
	return s, nil
}

/* ========================================================================
 * Lifecycle
 * ======================================================================== */

// CreateCompanyWithOwner 在一个事务内创建公司、供给系统角色并添加 Owner。
// 任一步失败整体回滚；事件在提交后发布。
func (s *Service) CreateCompanyWithOwner(ctx context.Context, in CreateCompanyInput, actorUserID string) (result *CreateCompanyResult, err error) {
	if actorUserID == "" {
		return nil, errors.New(errors.ErrCodeInvalidArgument, "actor user id is required")
	}
	if err := validator.Check(&in); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "company.CreateCompanyWithOwner")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	audit := model.Audit{CreatedBy: actorUserID, UpdatedBy: actorUserID}
	result = &CreateCompanyResult{}

	err = repository.Transaction(tenant.System(ctx), s.db, func(txCtx context.Context) error {
		tx := repository.Conn(txCtx, s.db)

		company := &model.Company{Name: strings.TrimSpace(in.Name), Slug: in.Slug, Audit: audit}
		if err := tx.Create(company).Error; err != nil {
			if stderrors.Is(err, gorm.ErrDuplicatedKey) {
				return errors.Wrapf(errors.ErrCodeAlreadyExists, err, "company slug %q is taken", in.Slug)
			}
			return errors.Wrap(errors.ErrCodeInternal, "failed to create company", err)
		}
		result.Company = company

		roles, err := s.provisioner.ProvisionSystemRolesForCompany(txCtx, company.ID, tx)
		if err != nil {
			return err
		}
		result.Roles = roles

		ownerRoleID, ok := roles.RoleID(model.RoleOwner)
		if !ok {
			return errors.New(errors.ErrCodeMisconfigured, "owner role was not provisioned")
		}

		membership := &model.Membership{
			UserID:   actorUserID,
			TenantID: company.ID,
			Role:     model.RoleOwner,
			RoleID:   &ownerRoleID,
			Audit:    audit,
		}
		if err := tx.Create(membership).Error; err != nil {
			return errors.Wrap(errors.ErrCodeInternal, "failed to create owner membership", err)
		}
		result.Membership = membership

		entry := &model.EventLog{
			TenantModel: model.TenantModel{TenantID: company.ID, Audit: audit},
			Type:        string(events.CompanyCreated),
			Payload:     database.JSONB{"name": company.Name, "slug": company.Slug, "owner_id": actorUserID},
		}
		if err := tx.Create(entry).Error; err != nil {
			return errors.Wrap(errors.ErrCodeInternal, "failed to write audit log", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("tenant.id", result.Company.ID))
	s.log.WithContext(ctx).Info("Company created",
		zap.String("tenant_id", result.Company.ID),
		zap.String("slug", result.Company.Slug),
		zap.String("owner_id", actorUserID),
	)

	pubCtx := tenant.With(ctx, tenant.Context{TenantID: result.Company.ID, ActorID: actorUserID})
	s.publish(pubCtx, events.CompanyCreated, result.Company.ID, events.CompanyData{
		Name: result.Company.Name, Slug: result.Company.Slug, OwnerID: actorUserID,
	})
	s.publish(pubCtx, events.RolesProvisioned, result.Company.ID, provisionData(result.Roles))
	return result, nil
}

// EnsureUserExists 按 id 幂等写入用户；空的 email / name 不覆盖已有值
func (s *Service) EnsureUserExists(ctx context.Context, p UserProfile) (*model.User, error) {
	if err := validator.Check(&p); err != nil {
		return nil, err
	}
	db := repository.Conn(tenant.System(ctx), s.db)

	user := &model.User{ID: p.ID, Email: p.Email, Name: p.Name}
	columns := []string{"updated_at"}
	if p.Email != "" {
		columns = append(columns, "email")
	}
	if p.Name != "" {
		columns = append(columns, "name")
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(user).Error
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to upsert user", err)
	}

	stored := &model.User{}
	if err := db.Where("id = ?", p.ID).First(stored).Error; err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to load user", err)
	}
	return stored, nil
}

// ValidateCompanyAccess 用户在未删除的公司中是否有成员关系
func (s *Service) ValidateCompanyAccess(ctx context.Context, tenantID, userID string) (bool, error) {
	if tenantID == "" || userID == "" {
		return false, nil
	}
	var n int64
	err := repository.Conn(tenant.System(ctx), s.db).
		Model(&model.Membership{}).
		Joins("JOIN companies ON companies.id = memberships.tenant_id").
		Where("memberships.tenant_id = ? AND memberships.user_id = ? AND companies.deleted_at IS NULL", tenantID, userID).
		Count(&n).Error
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeInternal, "failed to check company access", err)
	}
	return n > 0, nil
}

// DeleteCompany 软删除当前租户的公司，并级联软删除客户、反馈与角色。
// 成员关系与审计日志保留。
func (s *Service) DeleteCompany(ctx context.Context) error {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	var cascaded map[string]int64
	err = repository.Transaction(ctx, s.db, func(txCtx context.Context) error {
		res := repository.Conn(txCtx, s.db).
			Model(&model.Company{}).
			Where("id = ?", tc.TenantID).
			Updates(map[string]any{"deleted_at": time.Now(), "updated_by": tc.ActorID})
		if res.Error != nil {
			return errors.Wrap(errors.ErrCodeInternal, "failed to delete company", res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.ErrNotFound
		}

		cascaded = make(map[string]int64, 3)
		for name, del := range map[string]func(context.Context, string, ...any) (int64, error){
			"customers": s.customers.SoftDeleteWhere,
			"feedback":  s.feedback.SoftDeleteWhere,
			"roles":     s.roles.SoftDeleteWhere,
		} {
			n, err := del(txCtx, "tenant_id = ?", tc.TenantID)
			if err != nil {
				return err
			}
			cascaded[name] = n
		}
		return s.audit(txCtx, events.CompanyDeleted, database.JSONB{"cascaded": cascaded})
	})
	if err != nil {
		return err
	}

	s.log.WithContext(ctx).Info("Company deleted", zap.String("tenant_id", tc.TenantID), zap.Any("cascaded", cascaded))
	s.invalidateTenant(ctx, tc.TenantID)
	s.publish(ctx, events.CompanyDeleted, tc.TenantID, events.CompanyData{})
	return nil
}

/* ========================================================================
 * Members
 * ======================================================================== */

// ListMembers 当前租户的成员，按加入时间排序
func (s *Service) ListMembers(ctx context.Context) ([]Member, error) {
	list, err := s.members.Find(ctx, "", []repository.Option{repository.WithOrderBy("created_at ASC")})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []Member{}, nil
	}

	ids := make([]string, 0, len(list))
	for _, m := range list {
		ids = append(ids, m.UserID)
	}
	var users []model.User
	if err := repository.Conn(ctx, s.db).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to load users", err)
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	out := make([]Member, 0, len(list))
	for _, m := range list {
		u := byID[m.UserID]
		out = append(out, Member{
			UserID:   m.UserID,
			Email:    u.Email,
			Name:     u.Name,
			Role:     m.Role,
			RoleID:   m.RoleID,
			JoinedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// AddMember 把用户加入当前租户（接受邀请）
func (s *Service) AddMember(ctx context.Context, in AddMemberInput) (*model.Membership, error) {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := validator.Check(&in); err != nil {
		return nil, err
	}
	role := canonicalRole(in.Role)
	if role == "" {
		role = model.RoleMember
	}

	var membership *model.Membership
	err = repository.Transaction(ctx, s.db, func(txCtx context.Context) error {
		roleID, err := s.roleID(txCtx, role)
		if err != nil {
			return err
		}
		membership = &model.Membership{UserID: in.UserID, Role: role, RoleID: roleID}
		if err := s.members.Create(txCtx, membership); err != nil {
			if errors.Code(err) == errors.ErrCodeAlreadyExists {
				return errors.Wrapf(errors.ErrCodeAlreadyExists, err, "user %s is already a member", in.UserID)
			}
			return err
		}
		return s.audit(txCtx, events.MemberAdded, database.JSONB{"user_id": in.UserID, "role": string(role)})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, tc.TenantID, in.UserID)
	s.publish(ctx, events.MemberAdded, tc.TenantID, events.MemberData{UserID: in.UserID, Role: string(role)})
	return membership, nil
}

// RemoveMember 硬删除成员关系；不能移除最后一个 Owner
func (s *Service) RemoveMember(ctx context.Context, userID string) error {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	if userID == "" {
		return errors.ErrInvalidArgument
	}

	var removed *model.Membership
	err = repository.Transaction(ctx, s.db, func(txCtx context.Context) error {
		m, err := s.members.FindOne(txCtx, "user_id = ?", userID)
		if err != nil {
			return err
		}
		if m.Role == model.RoleOwner {
			if err := s.guardLastOwner(txCtx); err != nil {
				return err
			}
		}
		if err := s.members.HardDelete(txCtx, m.ID); err != nil {
			return err
		}
		removed = m
		return s.audit(txCtx, events.MemberRemoved, database.JSONB{"user_id": userID, "role": string(m.Role)})
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, tc.TenantID, userID)
	s.publish(ctx, events.MemberRemoved, tc.TenantID, events.MemberData{UserID: userID, Role: string(removed.Role)})
	return nil
}

// UpdateMemberRole 修改成员角色，同时更新角色引用与旧版角色名
func (s *Service) UpdateMemberRole(ctx context.Context, userID, role string) (*model.Membership, error) {
	tc, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	next := canonicalRole(role)
	if userID == "" || next == "" {
		return nil, errors.Wrapf(errors.ErrCodeInvalidArgument, nil, "invalid role %q", role)
	}

	var (
		m        *model.Membership
		previous model.MemberRole
	)
	err = repository.Transaction(ctx, s.db, func(txCtx context.Context) error {
		var err error
		if m, err = s.members.FindOne(txCtx, "user_id = ?", userID); err != nil {
			return err
		}
		previous = m.Role
		if previous == next {
			return nil
		}
		if previous == model.RoleOwner {
			if err := s.guardLastOwner(txCtx); err != nil {
				return err
			}
		}
		roleID, err := s.roleID(txCtx, next)
		if err != nil {
			return err
		}
		if err := s.members.UpdateByID(txCtx, m.ID, map[string]any{"role": next, "role_id": roleID}); err != nil {
			return err
		}
		m.Role, m.RoleID = next, roleID
		return s.audit(txCtx, events.MemberRoleChanged, database.JSONB{
			"user_id": userID, "role": string(next), "previous_role": string(previous),
		})
	})
	if err != nil {
		return nil, err
	}
	if previous == next {
		return m, nil
	}

	s.invalidate(ctx, tc.TenantID, userID)
	s.publish(ctx, events.MemberRoleChanged, tc.TenantID, events.MemberData{
		UserID: userID, Role: string(next), Previous: string(previous),
	})
	return m, nil
}

// AuditSummary 当前租户审计日志按类型计数
func (s *Service) AuditSummary(ctx context.Context) (map[string]int64, error) {
	return s.eventLogs.CountByGroup(ctx, "type", "")
}

/* ========================================================================
 * helpers
 * ======================================================================== */

// guardLastOwner 锁定当前租户的 Owner 行，只剩一个时拒绝
func (s *Service) guardLastOwner(ctx context.Context) error {
	var ids []string
	err := repository.Conn(ctx, s.db).
		Model(&model.Membership{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("role = ?", model.RoleOwner).
		Pluck("id", &ids).Error
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to count owners", err)
	}
	if len(ids) <= 1 {
		return errors.ErrLastOwner
	}
	return nil
}

// roleID 当前租户中同名角色的 ID；未供给时返回 nil，权限解析回退到旧版角色名
func (s *Service) roleID(ctx context.Context, role model.MemberRole) (*string, error) {
	r, err := s.roles.FindOne(ctx, "name = ?", string(role))
	if errors.IsNotFound(err) {
		s.log.WithContext(ctx).Warn("Tenant role not provisioned, using legacy role", zap.String("role", string(role)))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r.ID, nil
}

func (s *Service) audit(ctx context.Context, typ events.Type, payload database.JSONB) error {
	return s.eventLogs.Create(ctx, &model.EventLog{Type: string(typ), Payload: payload})
}

func (s *Service) publish(ctx context.Context, typ events.Type, tenantID string, data any) {
	if err := s.publisher.Publish(ctx, typ, tenantID, data); err != nil {
		s.log.WithContext(ctx).Warn("Failed to publish domain event",
			zap.String("type", string(typ)),
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
}

func (s *Service) invalidate(ctx context.Context, tenantID, userID string) {
	if err := s.cache.Invalidate(ctx, tenantID, userID); err != nil {
		s.log.WithContext(ctx).Warn("Permission cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) invalidateTenant(ctx context.Context, tenantID string) {
	if err := s.cache.InvalidateTenant(ctx, tenantID); err != nil {
		s.log.WithContext(ctx).Warn("Permission cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// canonicalRole 忽略大小写匹配系统角色名，不匹配时返回空
func canonicalRole(s string) model.MemberRole {
	for _, r := range model.SystemRoles() {
		if strings.EqualFold(string(r), s) {
			return r
		}
	}
	return ""
}

func provisionData(r *rbac.ProvisionResult) events.ProvisionData {
	d := events.ProvisionData{Changed: r.Changed()}
	for _, role := range r.Roles {
		d.Roles = append(d.Roles, string(role.Key))
	}
	return d
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(context.Context, string, string) error { return nil }
func (nopInvalidator) InvalidateTenant(context.Context, string) error   { return nil }
