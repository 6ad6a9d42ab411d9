package rbac

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aisgo/ais-tenancy/cache/redis"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/metrics"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

/* ========================================================================
 * Cached Resolver - 两级权限缓存
 * ========================================================================
 * 职责: L1 进程内过期 LRU + L2 Redis，减少每个请求的权限查询
 * 失效: 缓存 key 同时包含租户代数与成员代数，两者都保存在 Redis。
 *       Invalidate 递增成员代数，InvalidateTenant 递增租户代数，
 *       所有实例的旧 L1 / L2 条目随之失效
 * 技术: hashicorp/golang-lru/v2/expirable + go-redis
 * ======================================================================== */

// CacheConfig 权限缓存配置
type CacheConfig struct {
	TTL    time.Duration `mapstructure:"permission_cache_ttl"`
	L1Size int           `mapstructure:"l1_size"`
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.TTL <= 0 {
		c.TTL = time.Minute
	}
	if c.L1Size <= 0 {
		c.L1Size = 10000
	}
	return c
}

// CachedResolver 带缓存的解析器。redis 为 nil 时只使用 L1，代数保存在进程内。
type CachedResolver struct {
	next  PermissionResolver
	redis *redis.Client
	log   *logger.Logger
	ttl   time.Duration
	l1    *lru.LRU[string, *Grant]

	mu   sync.Mutex
	gens map[string]int64
}

// NewCachedResolver 包装 next
func NewCachedResolver(next PermissionResolver, rc *redis.Client, cfg CacheConfig, log *logger.Logger) *CachedResolver {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &CachedResolver{
		next:  next,
		redis: rc,
		log:   log,
		ttl:   cfg.TTL,
		l1:    lru.NewLRU[string, *Grant](cfg.L1Size, nil, cfg.TTL),
		gens:  make(map[string]int64),
	}
}

// Resolve 先查 L1，再查 L2，最后回源
func (c *CachedResolver) Resolve(ctx context.Context, tenantID, userID string) (*Grant, error) {
	if tenantID == "" || userID == "" {
		return c.next.Resolve(ctx, tenantID, userID)
	}

	gen, err := c.generation(ctx, tenantID, userID)
	if err != nil {
		c.log.WithContext(ctx).Warn("permission cache unavailable, resolving directly", zap.Error(err))
		return c.next.Resolve(ctx, tenantID, userID)
	}
	key := gen.entryKey(tenantID, userID)

	if g, ok := c.l1.Get(key); ok {
		metrics.PermissionCache.WithLabelValues("l1", metrics.HitLabel(true)).Inc()
		return g, nil
	}
	metrics.PermissionCache.WithLabelValues("l1", metrics.HitLabel(false)).Inc()

	if c.redis != nil {
		var g Grant
		err := c.redis.GetJSON(ctx, c.redis.Key("perm", key), &g)
		switch {
		case err == nil:
			metrics.PermissionCache.WithLabelValues("l2", metrics.HitLabel(true)).Inc()
			c.l1.Add(key, &g)
			return &g, nil
		case stderrors.Is(err, redis.ErrMiss):
			metrics.PermissionCache.WithLabelValues("l2", metrics.HitLabel(false)).Inc()
		default:
			c.log.WithContext(ctx).Warn("permission cache read failed", zap.Error(err))
		}
	}

	g, err := c.next.Resolve(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	c.l1.Add(key, g)
	if c.redis != nil {
		if err := c.redis.SetJSON(ctx, c.redis.Key("perm", key), g, c.ttl); err != nil {
			c.log.WithContext(ctx).Warn("permission cache write failed", zap.Error(err))
		}
	}
	return g, nil
}

// Invalidate 使单个成员的缓存失效（角色变更、移除成员后调用）
func (c *CachedResolver) Invalidate(ctx context.Context, tenantID, userID string) error {
	old, err := c.generation(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if c.redis != nil {
		if _, err := c.redis.IncrExpire(ctx, c.memberGenKey(tenantID, userID), memberGenTTL); err != nil {
			return err
		}
	} else {
		c.mu.Lock()
		c.gens[memberGenID(tenantID, userID)]++
		c.mu.Unlock()
	}
	c.l1.Remove(old.entryKey(tenantID, userID))
	return nil
}

// InvalidateTenant 使租户下所有缓存失效（角色权限重新供给后调用）
func (c *CachedResolver) InvalidateTenant(ctx context.Context, tenantID string) error {
	if c.redis != nil {
		if _, err := c.redis.Incr(ctx, c.genKey(tenantID)); err != nil {
			return err
		}
	} else {
		c.mu.Lock()
		c.gens[tenantID]++
		c.mu.Unlock()
	}

	prefix := tenantID + ":"
	for _, k := range c.l1.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.l1.Remove(k)
		}
	}
	return nil
}

// memberGenTTL 远大于缓存 TTL，代数键过期归零时旧条目早已失效
const memberGenTTL = 24 * time.Hour

type cacheGen struct {
	tenant, member int64
}

// entryKey 以 "租户:" 开头，InvalidateTenant 按前缀清理 L1
func (g cacheGen) entryKey(tenantID, userID string) string {
	return tenantID + ":" + strconv.FormatInt(g.tenant, 10) + ":" + userID + ":" + strconv.FormatInt(g.member, 10)
}

func (c *CachedResolver) generation(ctx context.Context, tenantID, userID string) (cacheGen, error) {
	if c.redis == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return cacheGen{tenant: c.gens[tenantID], member: c.gens[memberGenID(tenantID, userID)]}, nil
	}
	vals, err := c.redis.Counters(ctx, c.genKey(tenantID), c.memberGenKey(tenantID, userID))
	if err != nil {
		return cacheGen{}, err
	}
	return cacheGen{tenant: vals[0], member: vals[1]}, nil
}

func (c *CachedResolver) genKey(tenantID string) string {
	return c.redis.Key("perm", "gen", tenantID)
}

func (c *CachedResolver) memberGenKey(tenantID, userID string) string {
	return c.redis.Key("perm", "gen", tenantID, userID)
}

func memberGenID(tenantID, userID string) string {
	return tenantID + "/" + userID
}
