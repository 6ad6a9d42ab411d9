package conf

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aisgo/ais-tenancy/cache/redis"
	"github.com/aisgo/ais-tenancy/database/mysql"
	"github.com/aisgo/ais-tenancy/database/postgres"
	"github.com/aisgo/ais-tenancy/database/sqlite"
	"github.com/aisgo/ais-tenancy/guard"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/middleware"
	"github.com/aisgo/ais-tenancy/mq"
	"github.com/aisgo/ais-tenancy/rbac"
	"github.com/aisgo/ais-tenancy/reconcile"
	"github.com/aisgo/ais-tenancy/shutdown"
	grpcserver "github.com/aisgo/ais-tenancy/transport/grpc"
	httpserver "github.com/aisgo/ais-tenancy/transport/http"

	"go.uber.org/fx"
)

// 数据库驱动
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig 数据库配置，Driver 决定使用哪一项
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	// AutoMigrate 启动时执行迁移并写入权限目录
	AutoMigrate bool            `mapstructure:"auto_migrate"`
	Postgres    postgres.Config `mapstructure:"postgres"`
	MySQL       mysql.Config    `mapstructure:"mysql"`
	SQLite      sqlite.Config   `mapstructure:"sqlite"`
}

// TenancyConfig 租户守卫模式与权限缓存
type TenancyConfig struct {
	Guard guard.Config     `mapstructure:",squash"`
	Cache rbac.CacheConfig `mapstructure:",squash"`
}

// AppConfig tenantd / tenantctl 的完整配置
type AppConfig struct {
	Logger    logger.Config              `mapstructure:"logger"`
	Database  DatabaseConfig             `mapstructure:"database"`
	Redis     RedisConfig                `mapstructure:"redis"`
	HTTP      httpserver.Config          `mapstructure:"http"`
	GRPC      grpcserver.Config          `mapstructure:"grpc"`
	MQ        mq.Config                  `mapstructure:"mq"`
	Auth      middleware.AuthConfig      `mapstructure:"auth"`
	Tenancy   TenancyConfig              `mapstructure:"tenancy"`
	Reconcile reconcile.Config           `mapstructure:"reconcile"`
	RateLimit middleware.RateLimitConfig `mapstructure:"rate_limit"`
	Shutdown  shutdown.Config            `mapstructure:"shutdown"`
}

// RedisConfig 关闭时权限缓存只用 L1，限流使用内存存储，对账不加锁
type RedisConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	redis.Config `mapstructure:",squash"`
}

// Default 默认配置：本地 SQLite、无 Redis、无 MQ
func Default() AppConfig {
	return AppConfig{
		Logger: logger.Config{Level: "info", Format: "json", Output: "stdout"},
		Database: DatabaseConfig{
			Driver:   DriverSQLite,
			Postgres: postgres.Config{Host: "127.0.0.1", Port: 5432, SSLMode: "disable", Schema: "public"},
			MySQL:    mysql.Config{Host: "127.0.0.1", Port: 3306, Charset: "utf8mb4", Loc: "Local"},
			SQLite:   sqlite.Config{Path: "tenancy.db"},
		},
		Redis: RedisConfig{Config: redis.Config{Host: "127.0.0.1", Port: 6379, KeyPrefix: "tenancy"}},
		HTTP: httpserver.Config{
			Port:               8080,
			AppName:            "tenantd",
			HealthCheckTimeout: 2 * time.Second,
		},
		GRPC: grpcserver.Config{Port: 9090},
		MQ:   mq.DefaultConfig(),
		Auth: middleware.AuthConfig{
			JWT: middleware.JWTConfig{Leeway: 30 * time.Second, TTL: time.Hour},
		},
		Tenancy: TenancyConfig{
			Guard: guard.Config{Mode: guard.ModeStrict},
			Cache: rbac.CacheConfig{TTL: time.Minute, L1Size: 10000},
		},
		Reconcile: reconcile.DefaultConfig(),
		RateLimit: middleware.DefaultRateLimitConfig(),
		Shutdown:  shutdown.DefaultConfig(),
	}
}

// Validate 启动前校验
func (c AppConfig) Validate() error {
	if err := logger.ValidateConfig(c.Logger); err != nil {
		return err
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if err := c.MQ.Validate(); err != nil {
		return err
	}
	if !c.Auth.Header.Enabled && !c.Auth.JWT.Enabled && !c.Auth.APIKey.Enabled {
		return fmt.Errorf("at least one authenticator must be enabled")
	}
	if c.Auth.JWT.Enabled && c.Auth.JWT.Secret == "" {
		return fmt.Errorf("auth.jwt.secret is required when jwt is enabled")
	}
	// gRPC 的操作者只能来自已校验的令牌
	if c.GRPC.Enabled && !c.Auth.JWT.Enabled {
		return fmt.Errorf("grpc requires auth.jwt to be enabled")
	}
	return nil
}

// Load 读取配置文件（可不存在），叠加 APP_ 环境变量后校验
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	dir, file := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	ext := strings.TrimPrefix(filepath.Ext(file), ".")
	if ext == "" {
		ext = "yaml"
	}
	name := strings.TrimSuffix(file, filepath.Ext(file))

	if err := NewLoader(dir, name, ext, WithDefaults(cfg)).Load(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Module 把各子配置提供给 fx
func Module(cfg *AppConfig) fx.Option {
	return fx.Module("conf",
		fx.Supply(
			cfg.Logger,
			cfg.Database.Postgres,
			cfg.Database.MySQL,
			cfg.Database.SQLite,
			cfg.Redis.Config,
			cfg.HTTP,
			cfg.GRPC,
			cfg.MQ,
			cfg.Auth,
			cfg.Tenancy.Guard,
			cfg.Tenancy.Cache,
			cfg.Reconcile,
			cfg.RateLimit,
			cfg.Shutdown,
		),
	)
}
