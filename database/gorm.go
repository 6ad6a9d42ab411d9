package database

import (
	"fmt"
	"time"

	"github.com/aisgo/ais-tenancy/logger"
	"gorm.io/gorm"
)

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewGormConfig 各驱动共用的 GORM 配置
// TranslateError 打开后唯一键冲突会转换为 gorm.ErrDuplicatedKey
func NewGormConfig(log *logger.Logger) *gorm.Config {
	return &gorm.Config{
		Logger:         NewZapGormLogger(log.Logger),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}
}

// ConfigurePool 应用连接池配置（带默认值）
func ConfigurePool(db *gorm.DB, cfg PoolConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = 10
	}
	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = 1 * time.Hour
	}
	connMaxIdleTime := cfg.ConnMaxIdleTime
	if connMaxIdleTime <= 0 {
		connMaxIdleTime = 20 * time.Minute
	}

	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	return nil
}

// UsePlugins 安装 GORM 插件（如租户守卫）
func UsePlugins(db *gorm.DB, plugins ...gorm.Plugin) error {
	for _, p := range plugins {
		if p == nil {
			continue
		}
		if err := db.Use(p); err != nil {
			return fmt.Errorf("use gorm plugin %s: %w", p.Name(), err)
		}
	}
	return nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
