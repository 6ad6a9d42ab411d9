// tenantd 多租户隔离服务：HTTP / gRPC 入口、角色对账调度与身份同步
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aisgo/ais-tenancy/cache"
	"github.com/aisgo/ais-tenancy/company"
	"github.com/aisgo/ais-tenancy/conf"
	"github.com/aisgo/ais-tenancy/customer"
	"github.com/aisgo/ais-tenancy/database/mysql"
	"github.com/aisgo/ais-tenancy/database/postgres"
	"github.com/aisgo/ais-tenancy/database/sqlite"
	"github.com/aisgo/ais-tenancy/events"
	"github.com/aisgo/ais-tenancy/guard"
	"github.com/aisgo/ais-tenancy/handler"
	"github.com/aisgo/ais-tenancy/identity"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/middleware"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/mq"
	_ "github.com/aisgo/ais-tenancy/mq/kafka"
	_ "github.com/aisgo/ais-tenancy/mq/rocketmq"
	"github.com/aisgo/ais-tenancy/rbac"
	"github.com/aisgo/ais-tenancy/reconcile"
	"github.com/aisgo/ais-tenancy/shutdown"
	grpcserver "github.com/aisgo/ais-tenancy/transport/grpc"
	httpserver "github.com/aisgo/ais-tenancy/transport/http"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "configs/tenantd.yaml", "path to the config file")
	flag.Parse()

	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg, err := conf.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tenantd: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewLogger(cfg.Logger)
	defer func() { _ = log.Sync() }()

	var mgr *shutdown.Manager
	app := fx.New(
		options(cfg, log),
		fx.Populate(&mgr),
		fx.WithLogger(func() fxevent.Logger { return &fxevent.ZapLogger{Logger: log.Logger} }),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	err = app.Start(startCtx)
	cancel()
	if err != nil {
		log.Error("tenantd failed to start", zap.Error(err))
		os.Exit(1)
	}
	log.Info("tenantd started",
		zap.String("http", cfg.HTTP.Addr()),
		zap.Bool("grpc", cfg.GRPC.Enabled),
		zap.String("tenancy_mode", cfg.Tenancy.Guard.Mode.String()),
	)

	mgr.RegisterHook("fx", shutdown.PriorityIngress, app.Stop)
	mgr.Wait(context.Background())
}

// options 按配置组装模块；Redis 与 MQ 未启用时不加载对应模块
func options(cfg *conf.AppConfig, log *logger.Logger) fx.Option {
	opts := []fx.Option{
		fx.Supply(log),
		conf.Module(cfg),
		guard.Module,
		databaseModule(cfg.Database.Driver),
	}
	if cfg.Database.AutoMigrate {
		opts = append(opts, fx.Module("bootstrap", fx.Invoke(bootstrap)))
	}
	opts = append(opts,
		rbac.Module,
		events.Module,
		company.Module,
		customer.Module,
		identity.Module,
		reconcile.Module,
		shutdown.Module,
		httpserver.Module,
		grpcserver.Module,
		handler.Module,
		fx.Provide(
			func(s *company.Service) grpcserver.AccessChecker { return s },
			func(a middleware.AuthConfig) grpcserver.TokenVerifier {
				return middleware.NewJWTAuthenticator(a.JWT)
			},
		),
		fx.Invoke(func(*grpcserver.Server) {}),
	)
	if cfg.Redis.Enabled {
		opts = append(opts, cache.Module)
	}
	if cfg.MQ.Enabled {
		opts = append(opts, mq.ProducerOnlyModule)
		// RocketMQ 只有生产者
		if cfg.MQ.Type == mq.TypeKafka && cfg.MQ.Topics.Identity != "" {
			opts = append(opts, mq.ConsumerOnlyModule)
		}
	}
	return fx.Options(opts...)
}

func databaseModule(driver string) fx.Option {
	switch driver {
	case conf.DriverPostgres:
		return postgres.Module
	case conf.DriverMySQL:
		return mysql.Module
	default:
		return sqlite.Module
	}
}

// bootstrap 迁移表结构并写入权限目录，在任何入口开始监听之前完成
func bootstrap(db *gorm.DB, log *logger.Logger) error {
	ctx := context.Background()
	if err := model.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	n, err := rbac.SeedPermissions(ctx, db)
	if err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}
	log.Info("Database bootstrapped", zap.Int("permissions", n))
	return nil
}
