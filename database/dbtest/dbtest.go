// Package dbtest 为包测试提供已安装租户守卫并完成迁移的内存 SQLite 数据库。
package dbtest

import (
	"context"
	"testing"

	"github.com/aisgo/ais-tenancy/guard"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 打开严格模式的测试库
func Open(t testing.TB) *gorm.DB {
	return OpenWithMode(t, guard.ModeStrict)
}

// OpenWithMode 打开指定守卫模式的测试库。
// 内存库只有一个连接：事务内的所有操作必须使用事务句柄，否则会互相等待。
func OpenWithMode(t testing.TB, mode guard.Mode) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	plugin := guard.NewPlugin(guard.Config{Mode: mode}, logger.NewNop())
	if err := db.Use(plugin); err != nil {
		t.Fatalf("install tenant guard: %v", err)
	}
	if err := model.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := plugin.Register(db, model.All()...); err != nil {
		t.Fatalf("register models: %v", err)
	}
	return db
}
