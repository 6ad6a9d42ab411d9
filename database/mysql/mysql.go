package mysql

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/aisgo/ais-tenancy/database"
	"github.com/aisgo/ais-tenancy/logger"

	mysqldriver "github.com/go-sql-driver/mysql"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

/* ========================================================================
 * MySQL - 关系型数据库连接
 * ========================================================================
 * 职责: 提供 MySQL 连接池、GORM 集成、租户守卫插件安装
 * 技术: gorm.io/driver/mysql + go-sql-driver/mysql
 * ======================================================================== */

// Config MySQL 配置
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	Charset         string        `mapstructure:"charset"` // 默认 utf8mb4
	Loc             string        `mapstructure:"loc"`     // 默认 Local
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DriverConfig 转换为 go-sql-driver 配置，parseTime 始终开启
func (c Config) DriverConfig() (*mysqldriver.Config, error) {
	charset := c.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	locName := c.Loc
	if locName == "" {
		locName = "Local"
	}
	loc, err := time.LoadLocation(locName)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql loc %q: %w", locName, err)
	}

	dc := mysqldriver.NewConfig()
	dc.User = c.User
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dc.DBName = c.DBName
	dc.ParseTime = true
	dc.Loc = loc
	dc.Params = map[string]string{"charset": charset}
	return dc, nil
}

// Params NewDB 依赖
type Params struct {
	fx.In

	Lc      fx.Lifecycle
	Config  Config
	Logger  *logger.Logger
	Plugins []gorm.Plugin `group:"gorm_plugins"`
}

// NewDB 初始化 MySQL 连接
func NewDB(p Params) (*gorm.DB, error) {
	dc, err := p.Config.DriverConfig()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(mysql.Open(dc.FormatDSN()), database.NewGormConfig(p.Logger))
	if err != nil {
		return nil, fmt.Errorf("open mysql %s@%s/%s: %w", dc.User, dc.Addr, dc.DBName, err)
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

	p.Logger.Info("mysql connected", zap.String("addr", dc.Addr), zap.String("db", dc.DBName))

	if p.Lc != nil {
		p.Lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return database.Close(db)
			},
		})
	}
	return db, nil
}

// Module MySQL 模块
var Module = fx.Module("mysql",
	fx.Provide(NewDB),
)
