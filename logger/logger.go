package logger

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aisgo/ais-tenancy/tenant"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

/* ========================================================================
 * Logger - 统一日志组件
 * ========================================================================
 * 职责: 提供结构化日志能力，支持 JSON / Console 格式与文件滚动
 * 技术: Uber Zap + lumberjack
 * ======================================================================== */

// Config Logger 配置
type Config struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	Output     string `mapstructure:"output"`      // stdout, stderr 或文件路径
	MaxSize    int    `mapstructure:"max_size"`    // MB
	MaxBackups int    `mapstructure:"max_backups"` // 保留文件数
	MaxAge     int    `mapstructure:"max_age"`     // 天
	Compress   bool   `mapstructure:"compress"`
}

// Logger 封装 Zap Logger
type Logger struct {
	*zap.Logger
}

// ValidateConfig 校验日志配置
func ValidateConfig(cfg Config) error {
	if cfg.Level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	switch strings.ToLower(cfg.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return nil
}

// NewLogger 初始化 Logger
func NewLogger(cfg Config) *Logger {
	level := zap.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zap.InfoLevel
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "console") {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, buildWriter(cfg), level)
	return &Logger{Logger: zap.New(core, zap.AddCaller())}
}

func buildWriter(cfg Config) zapcore.WriteSyncer {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	}

	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 100
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

// NewNop 返回不输出的 Logger，测试使用
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

type requestIDKey struct{}

// WithRequestID 将请求 ID 写入 context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext 读取请求 ID
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithContext 注入 request_id / tenant_id / actor_id
func (l *Logger) WithContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return l.Logger
	}
	fields := make([]zap.Field, 0, 3)
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if tc, ok := tenant.From(ctx); ok {
		fields = append(fields, zap.String("tenant_id", tc.TenantID))
	} else if tenant.IsSystem(ctx) {
		fields = append(fields, zap.Bool("system", true))
	}
	if actor := tenant.ActorFrom(ctx); actor != "" {
		fields = append(fields, zap.String("actor_id", actor))
	}
	if len(fields) == 0 {
		return l.Logger
	}
	return l.Logger.With(fields...)
}
