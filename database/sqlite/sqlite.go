package sqlite

import (
	"context"
	"strings"

	"github.com/aisgo/ais-tenancy/database"
	"github.com/aisgo/ais-tenancy/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

/* ========================================================================
 * SQLite - 本地开发 / 测试数据库
 * ========================================================================
 * 技术: gorm.io/driver/sqlite
 * ======================================================================== */

// Config SQLite 配置
type Config struct {
	Path string `mapstructure:"path"` // 文件路径或 :memory:
}

// Params NewDB 依赖
type Params struct {
	fx.In

	Lc      fx.Lifecycle
	Config  Config
	Logger  *logger.Logger
	Plugins []gorm.Plugin `group:"gorm_plugins"`
}

// NewDB 初始化 SQLite 连接
// 内存库每个连接是独立数据库，因此限制为单连接
func NewDB(p Params) (*gorm.DB, error) {
	path := p.Config.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := gorm.Open(sqlite.Open(path), database.NewGormConfig(p.Logger))
	if err != nil {
		return nil, err
	}

	pool := database.PoolConfig{}
	if strings.Contains(path, ":memory:") {
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	}
	if err := database.ConfigurePool(db, pool); err != nil {
		return nil, err
	}
	if err := database.UsePlugins(db, p.Plugins...); err != nil {
		return nil, err
	}

	p.Logger.Info("sqlite opened", zap.String("path", path))

	if p.Lc != nil {
		p.Lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return database.Close(db)
			},
		})
	}
	return db, nil
}

// Module SQLite 模块
var Module = fx.Module("sqlite",
	fx.Provide(NewDB),
)
