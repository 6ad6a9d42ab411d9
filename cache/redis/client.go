package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aisgo/ais-tenancy/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

/* ========================================================================
 * Redis Client - 权限缓存 L2 + 分布式锁 + 限流存储
 * ========================================================================
 * 职责: 提供带前缀的 KV / JSON 缓存、租户代数计数器与分布式锁
 * 技术: go-redis/v9
 * ======================================================================== */

// ErrMiss 缓存未命中
var ErrMiss = errors.New("cache miss")

// Config Redis 配置
type Config struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	KeyPrefix    string `mapstructure:"key_prefix"` // 默认 tenancy
}

// Addr host:port
func (c Config) Addr() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Client Redis 客户端封装，所有 key 自动加前缀
type Client struct {
	rdb    *redis.Client
	log    *logger.Logger
	prefix string
}

type ClientParams struct {
	fx.In
	Lc     fx.Lifecycle
	Config Config
	Logger *logger.Logger
}

// NewClient 创建 Redis 客户端，连接检查放在 OnStart
func NewClient(p ClientParams) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         p.Config.Addr(),
		Password:     p.Config.Password,
		DB:           p.Config.DB,
		PoolSize:     p.Config.PoolSize,
		MinIdleConns: p.Config.MinIdleConns,
	})
	client := Wrap(rdb, p.Logger, p.Config.KeyPrefix)

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				p.Logger.Error("Redis connection failed", zap.String("addr", p.Config.Addr()), zap.Error(err))
				return err
			}
			p.Logger.Info("Redis connected", zap.String("addr", p.Config.Addr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("Closing Redis connection")
			return rdb.Close()
		},
	})

	return client
}

// Wrap 使用已有的 go-redis 客户端
func Wrap(rdb *redis.Client, log *logger.Logger, prefix string) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	if prefix == "" {
		prefix = "tenancy"
	}
	return &Client{rdb: rdb, log: log, prefix: strings.TrimSuffix(prefix, ":")}
}

// Raw 返回底层客户端（限流存储使用）
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// Key 拼接带前缀的 key
func (c *Client) Key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}

// Get 读取字符串；不存在时返回 ErrMiss
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

// Set 写入
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// GetJSON 读取并反序列化；不存在时返回 ErrMiss
func (c *Client) GetJSON(ctx context.Context, key string, dest any) error {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// SetJSON 序列化后写入
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// Del 删除
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Counter 读取计数器，不存在视为 0
func (c *Client) Counter(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Counters 一次读取多个计数器，缺失或非数字的视为 0
func (c *Client) Counters(ctx context.Context, keys ...string) ([]int64, error) {
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(keys))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i], _ = strconv.ParseInt(str, 10, 64)
		}
	}
	return out, nil
}

// Incr 计数器加一
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

// IncrExpire 计数器加一并刷新过期时间
func (c *Client) IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Ping 健康检查
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
