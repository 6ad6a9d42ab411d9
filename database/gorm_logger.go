package database

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

/* ========================================================================
 * ZapGormLogger - GORM 日志适配
 * ========================================================================
 * 职责: 将 GORM SQL 日志输出到 zap，支持慢查询阈值
 * ======================================================================== */

// DefaultSlowThreshold 默认慢查询阈值
const DefaultSlowThreshold = 200 * time.Millisecond

// ZapGormLogger 实现 gorm/logger.Interface
type ZapGormLogger struct {
	log           *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewZapGormLogger 创建 GORM 日志适配器
func NewZapGormLogger(log *zap.Logger) *ZapGormLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapGormLogger{
		log:           log.WithOptions(zap.AddCallerSkip(3)),
		level:         gormlogger.Warn,
		slowThreshold: DefaultSlowThreshold,
	}
}

// WithSlowThreshold 设置慢查询阈值
func (l *ZapGormLogger) WithSlowThreshold(d time.Duration) *ZapGormLogger {
	cp := *l
	cp.slowThreshold = d
	return &cp
}

// LogMode 实现 logger.Interface
func (l *ZapGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *ZapGormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.log.Sugar().Infof(msg, args...)
	}
}

func (l *ZapGormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Sugar().Warnf(msg, args...)
	}
}

func (l *ZapGormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.log.Sugar().Errorf(msg, args...)
	}
}

// Trace 记录 SQL 执行；RecordNotFound 不视为错误
func (l *ZapGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.Error("gorm query failed",
			zap.Error(err),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows),
			zap.String("sql", sql),
		)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.Warn("gorm slow query",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", l.slowThreshold),
			zap.Int64("rows", rows),
			zap.String("sql", sql),
		)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.Debug("gorm query",
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows),
			zap.String("sql", sql),
		)
	}
}
