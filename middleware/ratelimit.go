package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/metrics"
	"github.com/aisgo/ais-tenancy/response"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

/* ========================================================================
 * Rate Limit - 入驻接口限流
 * ========================================================================
 * 职责: 按调用方限制创建公司等高成本操作
 * 技术: ulule/limiter，有 redis 时多实例共享计数，否则进程内存
 * ======================================================================== */

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int64         `mapstructure:"limit"`
	Period  time.Duration `mapstructure:"period"`
	Prefix  string        `mapstructure:"prefix"`
}

// DefaultRateLimitConfig 每用户每分钟 10 次
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Enabled: true, Limit: 10, Period: time.Minute, Prefix: "tenancy:ratelimit"}
}

// NewLimiter rdb 为 nil 时使用内存存储
func NewLimiter(cfg RateLimitConfig, rdb *redis.Client) (*limiter.Limiter, error) {
	if cfg.Limit <= 0 || cfg.Period <= 0 {
		return nil, fmt.Errorf("rate limit and period must be positive")
	}
	rate := limiter.Rate{Period: cfg.Period, Limit: cfg.Limit}
	if rdb == nil {
		return limiter.New(memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: cfg.Prefix}), rate), nil
	}
	store, err := redisstore.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: cfg.Prefix})
	if err != nil {
		return nil, fmt.Errorf("create rate limit store: %w", err)
	}
	return limiter.New(store, rate), nil
}

// RateLimitKey 已认证时按用户，否则按 IP
func RateLimitKey(c fiber.Ctx) string {
	if p, ok := PrincipalFrom(c); ok {
		return "user:" + p.UserID
	}
	return "ip:" + c.IP()
}

// RateLimit lim 为 nil 时不限流。存储故障时放行并记录日志。
func RateLimit(lim *limiter.Limiter, log *logger.Logger) fiber.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return func(c fiber.Ctx) error {
		if lim == nil {
			return c.Next()
		}
		res, err := lim.Get(c.Context(), RateLimitKey(c))
		if err != nil {
			log.WithContext(c.Context()).Warn("Rate limit check failed", zap.Error(err))
			return c.Next()
		}
		c.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if res.Reached {
			metrics.RateLimited.WithLabelValues(c.Route().Path).Inc()
			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(max(res.Reset-time.Now().Unix(), 1), 10))
			return response.TooManyRequests(c, "too many requests")
		}
		return c.Next()
	}
}
