package postgres

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aisgo/ais-tenancy/database"
	"github.com/aisgo/ais-tenancy/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

/* ========================================================================
 * PostgreSQL - 关系型数据库连接
 * ========================================================================
 * 职责: 提供 PostgreSQL 连接池、GORM 集成、租户守卫插件安装
 * 技术: gorm.io/driver/postgres
 * ======================================================================== */

// Config PostgreSQL 配置
type Config struct {
	DSN             string        `mapstructure:"dsn"` // 优先于分项配置
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	Schema          string        `mapstructure:"schema"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// BuildDSN 构造 DSN
func (c Config) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
	if c.Schema != "" {
		dsn = fmt.Sprintf("%s search_path=%s", dsn, c.Schema)
	}
	return dsn
}

// Params NewDB 依赖
type Params struct {
	fx.In

	Lc      fx.Lifecycle
	Config  Config
	Logger  *logger.Logger
	Plugins []gorm.Plugin `group:"gorm_plugins"`
}

// NewDB 初始化 Postgres 连接
func NewDB(p Params) (*gorm.DB, error) {
	dsn := p.Config.BuildDSN()

	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn}), database.NewGormConfig(p.Logger))
	if err != nil {
		return nil, fmt.Errorf("open postgres %s: %w", sanitizeDSN(dsn), err)
	}
	if err := database.ConfigurePool(db, database.PoolConfig{
		MaxIdleConns:    p.Config.MaxIdleConns,
		MaxOpenConns:    p.Config.MaxOpenConns,
		ConnMaxLifetime: p.Config.ConnMaxLifetime,
		ConnMaxIdleTime: p.Config.ConnMaxIdleTime,
	}); err != nil {
		return nil, err
	}
	if err := database.UsePlugins(db, p.Plugins...); err != nil {
		return nil, err
	}

	p.Logger.Info("postgres connected", zap.String("dsn", sanitizeDSN(dsn)))

	if p.Lc != nil {
		p.Lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return database.Close(db)
			},
		})
	}
	return db, nil
}

var kvPasswordPattern = regexp.MustCompile(`password=\S+`)

// sanitizeDSN 隐藏 DSN 中的密码；URL 形式解析失败时原样返回
func sanitizeDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		return kvPasswordPattern.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// Module PostgreSQL 模块，需要外部提供 postgres.Config
var Module = fx.Module("postgres",
	fx.Provide(NewDB),
)
