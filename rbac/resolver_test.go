package rbac

import (
	"context"
	"testing"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/tenant"

	"gorm.io/gorm"
)

func addMember(t *testing.T, db *gorm.DB, tenantID, userID string, role model.MemberRole, roleID *string) {
	t.Helper()
	ctx := tenant.With(context.Background(), tenant.Context{TenantID: tenantID})
	if err := db.WithContext(ctx).Create(&model.Membership{UserID: userID, Role: role, RoleID: roleID}).Error; err != nil {
		t.Fatalf("add member: %v", err)
	}
}

func TestResolverUsesAssignedRole(t *testing.T) {
	db := seededDB(t)
	res, err := NewProvisioner(logger.NewNop()).ProvisionSystemRolesForCompany(context.Background(), "T1", db)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	memberID, _ := res.RoleID(model.RoleMember)
	// 旧版角色名与 role_id 不一致时以 role_id 为准
	addMember(t, db, "T1", "u1", model.RoleViewer, &memberID)

	g, err := NewResolver(db, logger.NewNop()).Resolve(context.Background(), "T1", "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if g.Source != SourceRole || g.RoleID != memberID {
		t.Fatalf("expected role based grant, got %+v", g)
	}
	if !g.HasAll("customers:create", "feedback:create") || g.Has("org:update") {
		t.Fatalf("unexpected permissions: %v", g.Permissions)
	}
	if len(g.Permissions) != len(templateKeys(model.RoleMember)) {
		t.Fatalf("expected member template size, got %d", len(g.Permissions))
	}
}

func TestResolverFallsBackToLegacyRole(t *testing.T) {
	db := seededDB(t)
	addMember(t, db, "T1", "u2", model.RoleViewer, nil)

	g, err := NewResolver(db, logger.NewNop()).Resolve(context.Background(), "T1", "u2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if g.Source != SourceLegacy || g.RoleID != "" {
		t.Fatalf("expected legacy grant, got %+v", g)
	}
	if !g.Has("org:view") || g.HasAny("org:update", "members:remove") {
		t.Fatalf("unexpected viewer permissions: %v", g.Permissions)
	}
}

func TestResolverIgnoresRoleFromAnotherTenant(t *testing.T) {
	db := seededDB(t)
	res, err := NewProvisioner(logger.NewNop()).ProvisionSystemRolesForCompany(context.Background(), "T1", db)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	ownerID, _ := res.RoleID(model.RoleOwner)
	addMember(t, db, "T2", "u3", model.RoleViewer, &ownerID)

	g, err := NewResolver(db, logger.NewNop()).Resolve(context.Background(), "T2", "u3")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if g.Source != SourceLegacy || g.Has("org:delete") {
		t.Fatalf("foreign role must not grant permissions: %+v", g)
	}
}

func TestResolverDeniesNonMembers(t *testing.T) {
	db := seededDB(t)
	addMember(t, db, "T1", "u1", model.RoleOwner, nil)
	r := NewResolver(db, logger.NewNop())

	if _, err := r.Resolve(context.Background(), "T2", "u1"); !errors.Is(err, errors.ErrPermissionDenied) {
		t.Fatalf("expected permission denied in another tenant, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "T1", "nobody"); !errors.Is(err, errors.ErrPermissionDenied) {
		t.Fatalf("expected permission denied for unknown user, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "", "u1"); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestGrantNilSafe(t *testing.T) {
	var g *Grant
	if g.Has("org:view") || g.HasAny("org:view") {
		t.Fatalf("nil grant must hold nothing")
	}
}
