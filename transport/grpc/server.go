package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/aisgo/ais-tenancy/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

/* ========================================================================
 * gRPC Server - 内部服务调用入口
 * ========================================================================
 * 职责: 带租户拦截器的 gRPC 服务器，注册标准健康检查服务
 * 技术: google.golang.org/grpc
 * ======================================================================== */

const defaultMaxMsgSize = 16 * 1024 * 1024

type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	MaxMsgSize int    `mapstructure:"max_msg_size"`
}

// Server gRPC 服务器与健康状态
type Server struct {
	*grpc.Server
	Health *health.Server
}

// New 创建服务器；auth.Verifier 为 nil 时信任调用方传入的 x-actor-id
func New(cfg Config, log *logger.Logger, auth Auth) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	size := cfg.MaxMsgSize
	if size <= 0 {
		size = defaultMaxMsgSize
	}
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryInterceptor(log, auth)),
		grpc.ChainStreamInterceptor(StreamInterceptor(log, auth)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(size),
		grpc.MaxSendMsgSize(size),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return &Server{Server: s, Health: hs}
}

type ServerParams struct {
	fx.In
	Lc       fx.Lifecycle
	Config   Config
	Logger   *logger.Logger
	Checker  AccessChecker `optional:"true"`
	Verifier TokenVerifier `optional:"true"`
}

// NewServer 创建服务器并在 OnStart 监听
func NewServer(p ServerParams) *Server {
	s := New(p.Config, p.Logger, Auth{Checker: p.Checker, Verifier: p.Verifier})
	if !p.Config.Enabled {
		return s
	}
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			addr := fmt.Sprintf("%s:%d", p.Config.Host, p.Config.Port)
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to bind gRPC to %s: %w", addr, err)
			}
			go func() {
				p.Logger.Info("Starting gRPC Server", zap.String("addr", ln.Addr().String()))
				if err := s.Serve(ln); err != nil {
					p.Logger.Error("gRPC Server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("Stopping gRPC Server")
			s.Health.Shutdown()
			stopped := make(chan struct{})
			go func() {
				s.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
				return nil
			case <-ctx.Done():
				p.Logger.Warn("gRPC graceful stop timed out, forcing stop", zap.Error(ctx.Err()))
				s.Stop()
				return ctx.Err()
			}
		},
	})
	return s
}

// Module 提供 *Server（需要 Config，可选 AccessChecker 与 TokenVerifier）
var Module = fx.Module("grpc",
	fx.Provide(NewServer),
)
