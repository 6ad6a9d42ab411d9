package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aisgo/ais-tenancy/cache/redis"
	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

type countingResolver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingResolver) Resolve(_ context.Context, tenantID, userID string) (*Grant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &Grant{TenantID: tenantID, UserID: userID, Source: SourceLegacy, Permissions: []string{"org:view"}}, nil
}

func (c *countingResolver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.Wrap(rdb, logger.NewNop(), "test"), mr
}

func TestCachedResolverTiers(t *testing.T) {
	rc, _ := newRedis(t)
	ctx := context.Background()
	src := &countingResolver{}
	cfg := CacheConfig{TTL: time.Minute, L1Size: 16}

	a := NewCachedResolver(src, rc, cfg, logger.NewNop())
	for i := 0; i < 3; i++ {
		g, err := a.Resolve(ctx, "T1", "u1")
		if err != nil || !g.Has("org:view") {
			t.Fatalf("resolve: %+v %v", g, err)
		}
	}
	if src.count() != 1 {
		t.Fatalf("expected one source lookup, got %d", src.count())
	}

	// 另一个实例只共享 Redis
	b := NewCachedResolver(src, rc, cfg, logger.NewNop())
	if _, err := b.Resolve(ctx, "T1", "u1"); err != nil {
		t.Fatalf("resolve b: %v", err)
	}
	if src.count() != 1 {
		t.Fatalf("expected L2 hit on second instance, got %d lookups", src.count())
	}

	if err := a.InvalidateTenant(ctx, "T1"); err != nil {
		t.Fatalf("invalidate tenant: %v", err)
	}
	if _, err := b.Resolve(ctx, "T1", "u1"); err != nil {
		t.Fatalf("resolve after bump: %v", err)
	}
	if src.count() != 2 {
		t.Fatalf("tenant generation bump should reach other instances, got %d lookups", src.count())
	}
}

func TestCachedResolverInvalidateMember(t *testing.T) {
	rc, _ := newRedis(t)
	ctx := context.Background()
	src := &countingResolver{}
	c := NewCachedResolver(src, rc, CacheConfig{}, logger.NewNop())

	_, _ = c.Resolve(ctx, "T1", "u1")
	_, _ = c.Resolve(ctx, "T1", "u2")
	if err := c.Invalidate(ctx, "T1", "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = c.Resolve(ctx, "T1", "u1")
	_, _ = c.Resolve(ctx, "T1", "u2")
	if src.count() != 3 {
		t.Fatalf("expected only u1 to be reloaded, got %d lookups", src.count())
	}
}

func TestCachedResolverWithoutRedis(t *testing.T) {
	ctx := context.Background()
	src := &countingResolver{}
	c := NewCachedResolver(src, nil, CacheConfig{}, nil)

	_, _ = c.Resolve(ctx, "T1", "u1")
	_, _ = c.Resolve(ctx, "T1", "u1")
	_, _ = c.Resolve(ctx, "T2", "u1")
	if src.count() != 2 {
		t.Fatalf("expected L1 only caching per tenant, got %d", src.count())
	}
	if err := c.InvalidateTenant(ctx, "T1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = c.Resolve(ctx, "T1", "u1")
	_, _ = c.Resolve(ctx, "T2", "u1")
	if src.count() != 3 {
		t.Fatalf("only T1 should be reloaded, got %d", src.count())
	}
}

func TestCachedResolverDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	src := &countingResolver{err: errors.ErrPermissionDenied}
	c := NewCachedResolver(src, nil, CacheConfig{}, nil)

	for i := 0; i < 2; i++ {
		if _, err := c.Resolve(ctx, "T1", "ghost"); !errors.Is(err, errors.ErrPermissionDenied) {
			t.Fatalf("expected denial, got %v", err)
		}
	}
	if src.count() != 2 {
		t.Fatalf("denials must not be cached, got %d", src.count())
	}
}

func TestCachedResolverSurvivesRedisOutage(t *testing.T) {
	rc, mr := newRedis(t)
	src := &countingResolver{}
	c := NewCachedResolver(src, rc, CacheConfig{}, nil)

	mr.Close()
	g, err := c.Resolve(context.Background(), "T1", "u1")
	if err != nil || g == nil {
		t.Fatalf("expected direct resolution while redis is down: %v", err)
	}
}

func TestCachedResolverInvalidateMemberReachesOtherInstances(t *testing.T) {
	rc, mr := newRedis(t)
	ctx := context.Background()
	src := &countingResolver{}
	cfg := CacheConfig{TTL: time.Minute, L1Size: 16}
	a := NewCachedResolver(src, rc, cfg, nil)
	b := NewCachedResolver(src, rc, cfg, nil)

	_, _ = a.Resolve(ctx, "T1", "u1")
	_, _ = b.Resolve(ctx, "T1", "u1")
	_, _ = b.Resolve(ctx, "T1", "u2")
	if src.count() != 2 {
		t.Fatalf("expected b to be warmed from L2, got %d lookups", src.count())
	}

	if err := a.Invalidate(ctx, "T1", "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = b.Resolve(ctx, "T1", "u1")
	if src.count() != 3 {
		t.Fatalf("demoted member must not be served from another instance's L1, got %d lookups", src.count())
	}
	_, _ = b.Resolve(ctx, "T1", "u2")
	if src.count() != 3 {
		t.Fatalf("other members keep their entries, got %d lookups", src.count())
	}
	if ttl := mr.TTL(rc.Key("perm", "gen", "T1", "u1")); ttl <= 0 {
		t.Fatalf("member generation key must expire, ttl=%v", ttl)
	}
}

func TestCachedResolverInvalidateMemberWithoutRedis(t *testing.T) {
	ctx := context.Background()
	src := &countingResolver{}
	c := NewCachedResolver(src, nil, CacheConfig{}, nil)

	_, _ = c.Resolve(ctx, "T1", "u1")
	if err := c.Invalidate(ctx, "T1", "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = c.Resolve(ctx, "T1", "u1")
	_, _ = c.Resolve(ctx, "T1", "u1")
	if src.count() != 2 {
		t.Fatalf("expected one reload after invalidate, got %d", src.count())
	}
}
