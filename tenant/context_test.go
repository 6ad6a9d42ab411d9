package tenant

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/aisgo/ais-tenancy/errors"
)

func TestFromEmpty(t *testing.T) {
	if _, ok := From(context.Background()); ok {
		t.Fatalf("expected no tenant context")
	}
	if IsSystem(context.Background()) {
		t.Fatalf("background must not be system")
	}
	if _, err := Require(context.Background()); !errors.Is(err, errors.ErrTenantRequired) {
		t.Fatalf("expected ErrTenantRequired, got %v", err)
	}
}

func TestWithAndClear(t *testing.T) {
	ctx := With(context.Background(), Context{TenantID: "t1", ActorID: "u1"})
	tc, ok := From(ctx)
	if !ok || tc.TenantID != "t1" || tc.ActorID != "u1" {
		t.Fatalf("unexpected context: %+v %v", tc, ok)
	}
	if ActorFrom(ctx) != "u1" {
		t.Fatalf("unexpected actor")
	}

	cleared := Clear(ctx)
	if _, ok := From(cleared); ok {
		t.Fatalf("expected cleared context")
	}
	if IsSystem(cleared) {
		t.Fatalf("cleared context is not system")
	}

	if _, ok := From(With(context.Background(), Context{ActorID: "u1"})); ok {
		t.Fatalf("empty tenant id must not count as context")
	}
}

func TestNestedRunRestoresOuter(t *testing.T) {
	outer := With(context.Background(), Context{TenantID: "outer"})
	boom := stderrors.New("boom")

	err := Run(outer, Context{TenantID: "inner"}, func(ctx context.Context) error {
		tc, _ := From(ctx)
		if tc.TenantID != "inner" {
			t.Fatalf("expected inner tenant, got %q", tc.TenantID)
		}
		return boom
	})
	if !stderrors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
	tc, _ := From(outer)
	if tc.TenantID != "outer" {
		t.Fatalf("outer context changed: %q", tc.TenantID)
	}
}

func TestSystemContext(t *testing.T) {
	outer := With(context.Background(), Context{TenantID: "t1"})
	got, err := CallSystem(outer, func(ctx context.Context) (bool, error) {
		_, has := From(ctx)
		return IsSystem(ctx) && !has, nil
	})
	if err != nil || !got {
		t.Fatalf("expected system context without tenant")
	}
	if IsSystem(outer) {
		t.Fatalf("outer context must not become system")
	}

	n, err := Call(outer, Context{TenantID: "t2"}, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || n != 7 {
		t.Fatalf("unexpected call result %d %v", n, err)
	}
}

func TestHolderRestoresAfterErrorAndPanic(t *testing.T) {
	var h Holder
	h.Set(&Context{TenantID: "a"})

	_ = h.Within(Context{TenantID: "b"}, func() error {
		if tc, _ := h.Get(); tc.TenantID != "b" {
			t.Fatalf("expected b, got %q", tc.TenantID)
		}
		return stderrors.New("fail")
	})
	if tc, _ := h.Get(); tc.TenantID != "a" {
		t.Fatalf("expected a after error, got %q", tc.TenantID)
	}

	func() {
		defer func() { _ = recover() }()
		_ = h.Within(Context{TenantID: "c"}, func() error {
			panic("boom")
		})
	}()
	if tc, _ := h.Get(); tc.TenantID != "a" {
		t.Fatalf("expected a after panic, got %q", tc.TenantID)
	}

	h.Set(nil)
	if _, ok := h.Get(); ok {
		t.Fatalf("expected empty holder")
	}
	if _, ok := From(h.Bind(context.Background())); ok {
		t.Fatalf("unset holder must bind to a cleared context")
	}
}
