package company

import (
	"context"
	"sync"
	"testing"

	"github.com/aisgo/ais-tenancy/database/dbtest"
	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/events"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/rbac"
	"github.com/aisgo/ais-tenancy/tenant"

	"gorm.io/gorm"
)

type recordedEvent struct {
	typ      events.Type
	tenantID string
	actorID  string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, typ events.Type, tenantID string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{typ: typ, tenantID: tenantID, actorID: tenant.ActorFrom(ctx)})
	return nil
}

func (r *recordingPublisher) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.typ)
	}
	return out
}

type recordingInvalidator struct {
	users   []string
	tenants []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, _, userID string) error {
	r.users = append(r.users, userID)
	return nil
}

func (r *recordingInvalidator) InvalidateTenant(_ context.Context, tenantID string) error {
	r.tenants = append(r.tenants, tenantID)
	return nil
}

type fixture struct {
	db  *gorm.DB
	svc *Service
	pub *recordingPublisher
	inv *recordingInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	if _, err := rbac.SeedPermissions(context.Background(), db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f := &fixture{db: db, pub: &recordingPublisher{}, inv: &recordingInvalidator{}}
	svc, err := NewService(db, rbac.NewProvisioner(logger.NewNop()), f.inv, f.pub, logger.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) create(t *testing.T, name, slug, owner string) *CreateCompanyResult {
	t.Helper()
	res, err := f.svc.CreateCompanyWithOwner(context.Background(), CreateCompanyInput{Name: name, Slug: slug}, owner)
	if err != nil {
		t.Fatalf("create %s: %v", slug, err)
	}
	return res
}

func in(tenantID, actor string) context.Context {
	return tenant.With(context.Background(), tenant.Context{TenantID: tenantID, ActorID: actor})
}

func count(t *testing.T, db *gorm.DB, m any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.WithContext(tenant.System(context.Background())).Unscoped().Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestCreateCompanyWithOwner(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, "Acme", "acme", "alice")

	if res.Membership.Role != model.RoleOwner || res.Membership.RoleID == nil {
		t.Fatalf("owner membership not linked to owner role: %+v", res.Membership)
	}
	ownerID, _ := res.Roles.RoleID(model.RoleOwner)
	if *res.Membership.RoleID != ownerID {
		t.Fatalf("membership role id %s != owner role %s", *res.Membership.RoleID, ownerID)
	}
	if res.Company.CreatedBy != "alice" {
		t.Fatalf("created_by not set: %+v", res.Company)
	}
	if n := count(t, f.db, &model.Role{}, "tenant_id = ?", res.Company.ID); n != 4 {
		t.Fatalf("expected 4 roles, got %d", n)
	}
	if n := count(t, f.db, &model.EventLog{}, "tenant_id = ? AND type = ?", res.Company.ID, string(events.CompanyCreated)); n != 1 {
		t.Fatalf("expected audit entry, got %d", n)
	}

	got := f.pub.types()
	if len(got) != 2 || got[0] != events.CompanyCreated || got[1] != events.RolesProvisioned {
		t.Fatalf("unexpected events: %v", got)
	}
	if f.pub.events[0].actorID != "alice" || f.pub.events[0].tenantID != res.Company.ID {
		t.Fatalf("event not attributed: %+v", f.pub.events[0])
	}

	ok, err := f.svc.ValidateCompanyAccess(context.Background(), res.Company.ID, "alice")
	if err != nil || !ok {
		t.Fatalf("owner should have access: %v %v", ok, err)
	}
	ok, _ = f.svc.ValidateCompanyAccess(context.Background(), res.Company.ID, "mallory")
	if ok {
		t.Fatalf("stranger should not have access")
	}
}

func TestCreateCompanyValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateCompanyWithOwner(ctx, CreateCompanyInput{Name: "Acme", Slug: "acme"}, ""); errors.Code(err) != errors.ErrCodeInvalidArgument {
		t.Fatalf("expected missing actor error, got %v", err)
	}
	if _, err := f.svc.CreateCompanyWithOwner(ctx, CreateCompanyInput{Name: "Acme", Slug: "Not A Slug"}, "alice"); errors.Code(err) != errors.ErrCodeInvalidArgument {
		t.Fatalf("expected slug validation error, got %v", err)
	}

	f.create(t, "Acme", "acme", "alice")
	if _, err := f.svc.CreateCompanyWithOwner(ctx, CreateCompanyInput{Name: "Acme 2", Slug: "acme"}, "bob"); errors.Code(err) != errors.ErrCodeAlreadyExists {
		t.Fatalf("expected duplicate slug error, got %v", err)
	}
	if n := count(t, f.db, &model.Company{}, ""); n != 1 {
		t.Fatalf("duplicate company should roll back, got %d companies", n)
	}
}

func TestCreateCompanyRollsBackOnProvisioningFailure(t *testing.T) {
	f := newFixture(t)
	sysDB := f.db.WithContext(tenant.System(context.Background()))
	if err := sysDB.Where(map[string]any{"key": "customers:view"}).Delete(&model.Permission{}).Error; err != nil {
		t.Fatalf("delete permission: %v", err)
	}

	_, err := f.svc.CreateCompanyWithOwner(context.Background(), CreateCompanyInput{Name: "Acme", Slug: "acme"}, "alice")
	if !errors.IsMisconfigured(err) {
		t.Fatalf("expected misconfigured error, got %v", err)
	}
	for name, m := range map[string]any{
		"companies":   &model.Company{},
		"roles":       &model.Role{},
		"memberships": &model.Membership{},
		"event_logs":  &model.EventLog{},
	} {
		if n := count(t, f.db, m, ""); n != 0 {
			t.Fatalf("%s should be rolled back, found %d", name, n)
		}
	}
	if len(f.pub.types()) != 0 {
		t.Fatalf("no events should be published on failure")
	}
}

func TestEnsureUserExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.EnsureUserExists(ctx, UserProfile{ID: "alice", Email: "alice@acme.test", Name: "Alice"})
	if err != nil || u.Email != "alice@acme.test" {
		t.Fatalf("create user: %+v %v", u, err)
	}
	u, err = f.svc.EnsureUserExists(ctx, UserProfile{ID: "alice", Name: "Alice L."})
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if u.Email != "alice@acme.test" || u.Name != "Alice L." {
		t.Fatalf("empty email must not overwrite: %+v", u)
	}
	if _, err := f.svc.EnsureUserExists(ctx, UserProfile{Email: "x@y.z"}); errors.Code(err) != errors.ErrCodeInvalidArgument {
		t.Fatalf("expected missing id error, got %v", err)
	}
	if n := count(t, f.db, &model.User{}, ""); n != 1 {
		t.Fatalf("expected a single user row, got %d", n)
	}
}

func TestMemberManagement(t *testing.T) {
	f := newFixture(t)
	acme := f.create(t, "Acme", "acme", "alice").Company.ID
	globex := f.create(t, "Globex", "globex", "gina").Company.ID
	if _, err := f.svc.EnsureUserExists(context.Background(), UserProfile{ID: "bob", Email: "bob@acme.test"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	ctx := in(acme, "alice")

	m, err := f.svc.AddMember(ctx, AddMemberInput{UserID: "bob"})
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if m.Role != model.RoleMember || m.RoleID == nil || m.TenantID != acme || m.CreatedBy != "alice" {
		t.Fatalf("unexpected membership: %+v", m)
	}
	if _, err := f.svc.AddMember(ctx, AddMemberInput{UserID: "bob"}); errors.Code(err) != errors.ErrCodeAlreadyExists {
		t.Fatalf("expected duplicate member error, got %v", err)
	}
	if _, err := f.svc.AddMember(ctx, AddMemberInput{UserID: "carol", Role: "root"}); errors.Code(err) != errors.ErrCodeInvalidArgument {
		t.Fatalf("expected invalid role error, got %v", err)
	}

	members, err := f.svc.ListMembers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(members) != 2 || members[0].UserID != "alice" || members[1].Email != "bob@acme.test" {
		t.Fatalf("unexpected members: %+v", members)
	}

	updated, err := f.svc.UpdateMemberRole(ctx, "bob", "admin")
	if err != nil {
		t.Fatalf("update role: %v", err)
	}
	if updated.Role != model.RoleAdmin {
		t.Fatalf("unexpected role: %s", updated.Role)
	}

	// 其他租户的成员不可见
	if err := f.svc.RemoveMember(ctx, "gina"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found for foreign member, got %v", err)
	}
	if _, err := f.svc.UpdateMemberRole(ctx, "gina", "Viewer"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found for foreign member, got %v", err)
	}
	if ok, _ := f.svc.ValidateCompanyAccess(context.Background(), globex, "gina"); !ok {
		t.Fatalf("foreign owner must be untouched")
	}

	if err := f.svc.RemoveMember(ctx, "bob"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := f.svc.ValidateCompanyAccess(context.Background(), acme, "bob"); ok {
		t.Fatalf("removed member should lose access")
	}
	if len(f.inv.users) != 3 {
		t.Fatalf("expected invalidation per membership change, got %v", f.inv.users)
	}

	summary, err := f.svc.AuditSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	want := map[string]int64{
		string(events.CompanyCreated):    1,
		string(events.MemberAdded):       1,
		string(events.MemberRoleChanged): 1,
		string(events.MemberRemoved):     1,
	}
	for k, v := range want {
		if summary[k] != v {
			t.Fatalf("summary[%s] = %d, want %d (%v)", k, summary[k], v, summary)
		}
	}
}

func TestLastOwnerGuard(t *testing.T) {
	f := newFixture(t)
	acme := f.create(t, "Acme", "acme", "alice").Company.ID
	ctx := in(acme, "alice")

	if err := f.svc.RemoveMember(ctx, "alice"); !errors.Is(err, errors.ErrLastOwner) {
		t.Fatalf("expected last owner error, got %v", err)
	}
	if _, err := f.svc.UpdateMemberRole(ctx, "alice", "Member"); !errors.Is(err, errors.ErrLastOwner) {
		t.Fatalf("expected last owner error on demotion, got %v", err)
	}

	if _, err := f.svc.AddMember(ctx, AddMemberInput{UserID: "bob", Role: "Owner"}); err != nil {
		t.Fatalf("add second owner: %v", err)
	}
	if _, err := f.svc.UpdateMemberRole(ctx, "alice", "Admin"); err != nil {
		t.Fatalf("demote with another owner present: %v", err)
	}
	if err := f.svc.RemoveMember(ctx, "bob"); !errors.Is(err, errors.ErrLastOwner) {
		t.Fatalf("bob is now the last owner, got %v", err)
	}
}

func TestMemberOperationsRequireTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.ListMembers(ctx); !errors.IsTenantRequired(err) {
		t.Fatalf("expected tenant required, got %v", err)
	}
	if _, err := f.svc.AddMember(ctx, AddMemberInput{UserID: "bob"}); !errors.IsTenantRequired(err) {
		t.Fatalf("expected tenant required, got %v", err)
	}
	if err := f.svc.DeleteCompany(tenant.System(ctx)); !errors.IsTenantRequired(err) {
		t.Fatalf("system context must not delete a company, got %v", err)
	}
}

func TestDeleteCompanyCascades(t *testing.T) {
	f := newFixture(t)
	acme := f.create(t, "Acme", "acme", "alice").Company.ID
	globex := f.create(t, "Globex", "globex", "gina").Company.ID

	for _, tid := range []string{acme, globex} {
		c := in(tid, "seed")
		db := f.db.WithContext(c)
		if err := db.Create(&model.Customer{Name: "Wile"}).Error; err != nil {
			t.Fatalf("seed customer: %v", err)
		}
		if err := db.Create(&model.Feedback{Subject: "Anvil"}).Error; err != nil {
			t.Fatalf("seed feedback: %v", err)
		}
	}

	if err := f.svc.DeleteCompany(in(acme, "alice")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := f.svc.ValidateCompanyAccess(context.Background(), acme, "alice"); ok {
		t.Fatalf("deleted company must deny access")
	}

	live := func(m any, tid string) int64 {
		return count(t, f.db, m, "tenant_id = ? AND deleted_at IS NULL", tid)
	}
	for name, m := range map[string]any{"customers": &model.Customer{}, "feedback": &model.Feedback{}, "roles": &model.Role{}} {
		if n := live(m, acme); n != 0 {
			t.Fatalf("%s should be soft deleted, %d live", name, n)
		}
		if n := count(t, f.db, m, "tenant_id = ?", acme); n == 0 {
			t.Fatalf("%s rows must remain in storage", name)
		}
		if n := live(m, globex); n == 0 {
			t.Fatalf("%s of another tenant must be untouched", name)
		}
	}
	if n := count(t, f.db, &model.Membership{}, "tenant_id = ?", acme); n != 1 {
		t.Fatalf("memberships stay for audit, got %d", n)
	}
	if len(f.inv.tenants) != 1 || f.inv.tenants[0] != acme {
		t.Fatalf("tenant cache should be invalidated: %v", f.inv.tenants)
	}

	if err := f.svc.DeleteCompany(in(acme, "alice")); !errors.IsNotFound(err) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}
