package http

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aisgo/ais-tenancy/cache/redis"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/metrics"
	"github.com/aisgo/ais-tenancy/middleware"

	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

/* ========================================================================
 * HTTP Server - Fiber v3
 * ========================================================================
 * 职责: 创建 *fiber.App，挂载 recover / 指标中间件、探针与 /metrics，
 *       由 fx 生命周期管理监听与优雅关闭。业务路由由 handler.Module 注册
 * ======================================================================== */

// Config HTTP 服务器配置
type Config struct {
	Port               int           `mapstructure:"port"`
	Host               string        `mapstructure:"host"`
	AppName            string        `mapstructure:"app_name"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	BodyLimit          int           `mapstructure:"body_limit"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`

	// EnableRecover 默认 true
	EnableRecover *bool `mapstructure:"enable_recover"`

	Listen ListenOptions `mapstructure:"listen"`
}

// ListenOptions fiber.ListenConfig 中可配置的部分
type ListenOptions struct {
	DisableStartupMessage bool          `mapstructure:"disable_startup_message"`
	EnablePrintRoutes     bool          `mapstructure:"enable_print_routes"`
	ListenerNetwork       string        `mapstructure:"listener_network"` // 默认 tcp4
	CertFile              string        `mapstructure:"cert_file"`
	CertKeyFile           string        `mapstructure:"cert_key_file"`
	CertClientFile        string        `mapstructure:"cert_client_file"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown_timeout"`
	UnixSocketFileMode    uint32        `mapstructure:"unix_socket_file_mode"`
	TLSMinVersion         uint16        `mapstructure:"tls_min_version"`
}

// Addr 监听地址
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ServerParams struct {
	fx.In
	Lc     fx.Lifecycle
	Config Config
	Logger *logger.Logger
	DB     *gorm.DB         `optional:"true"`
	Redis  *redis.Client    `optional:"true"`
	Checks []ReadinessCheck `group:"readiness"`
}

// NewApp 创建 fiber 应用（不监听），测试与 NewHTTPServer 共用
func NewApp(cfg Config, log *logger.Logger, checks ...ReadinessCheck) *fiber.App {
	if log == nil {
		log = logger.NewNop()
	}
	appName := cfg.AppName
	if appName == "" {
		appName = "tenantd"
	}
	app := fiber.New(fiber.Config{
		AppName:      appName,
		ReadTimeout:  orDefault(cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: orDefault(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDefault(cfg.IdleTimeout, 120*time.Second),
		BodyLimit:    cfg.BodyLimit,
		ErrorHandler: middleware.NewErrorHandler(log),
	})

	if cfg.EnableRecover == nil || *cfg.EnableRecover {
		app.Use(recoverer.New(recoverer.Config{
			EnableStackTrace: true,
			StackTraceHandler: func(c fiber.Ctx, e any) {
				log.WithContext(c.Context()).Error("Panic recovered",
					zap.Any("error", e),
					zap.String("path", c.Path()),
					zap.String("method", c.Method()),
				)
			},
		}))
	}
	app.Use(metrics.HTTPMiddleware())

	registerHealthEndpoints(app, orDefault(cfg.HealthCheckTimeout, 2*time.Second), checks...)
	metrics.RegisterMetricsEndpoint(app)
	return app
}

// NewHTTPServer 创建应用并在 OnStart 监听
func NewHTTPServer(p ServerParams) *fiber.App {
	var checks []ReadinessCheck
	if p.DB != nil {
		checks = append(checks, DatabaseCheck(p.DB))
	}
	if p.Redis != nil {
		checks = append(checks, ReadinessCheck{Name: "redis", Check: p.Redis.Ping})
	}
	checks = append(checks, p.Checks...)
	app := NewApp(p.Config, p.Logger, checks...)

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			addr := p.Config.Addr()
			lc := buildListenConfig(p.Config.Listen)
			ln, err := createListener(addr, lc)
			if err != nil {
				p.Logger.Error("Failed to create HTTP listener", zap.String("addr", addr), zap.Error(err))
				return fmt.Errorf("failed to bind to %s: %w", addr, err)
			}
			go func() {
				p.Logger.Info("Starting HTTP Server", zap.String("addr", ln.Addr().String()))
				if err := app.Listener(ln, lc); err != nil {
					p.Logger.Error("HTTP Server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("Stopping HTTP Server")
			return app.ShutdownWithContext(ctx)
		},
	})
	return app
}

func buildListenConfig(opts ListenOptions) fiber.ListenConfig {
	cfg := fiber.ListenConfig{
		DisableStartupMessage: opts.DisableStartupMessage,
		EnablePrintRoutes:     opts.EnablePrintRoutes,
		CertFile:              opts.CertFile,
		CertKeyFile:           opts.CertKeyFile,
		CertClientFile:        opts.CertClientFile,
		ListenerNetwork:       opts.ListenerNetwork,
	}
	if cfg.ListenerNetwork == "" {
		cfg.ListenerNetwork = "tcp4"
	}
	if opts.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = opts.ShutdownTimeout
	}
	if opts.UnixSocketFileMode > 0 {
		cfg.UnixSocketFileMode = os.FileMode(opts.UnixSocketFileMode)
	}
	if opts.TLSMinVersion > 0 {
		cfg.TLSMinVersion = opts.TLSMinVersion
	}
	return cfg
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Module 提供 *fiber.App（需要 Config）
var Module = fx.Module("http",
	fx.Provide(NewHTTPServer),
)
