package grpc

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/metrics"
	"github.com/aisgo/ais-tenancy/tenant"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

/* ========================================================================
 * Interceptors
 * ========================================================================
 * 职责: authorization / x-tenant-id 元数据 → tenant.Context；
 *       BizError → gRPC status；panic 恢复；日志与耗时指标
 * 约束: 配置了 TokenVerifier 时操作者只取自已校验的 Bearer 令牌，
 *       x-actor-id 仅用于一致性校验
 * ======================================================================== */

// 元数据键（gRPC 要求小写）
const (
	MetadataAuthorization = "authorization"
	MetadataTenantID      = "x-tenant-id"
	MetadataActorID       = "x-actor-id"
	MetadataRequestID     = "x-request-id"
)

// AccessChecker 成员关系校验（company.Service 实现）
type AccessChecker interface {
	ValidateCompanyAccess(ctx context.Context, tenantID, userID string) (bool, error)
}

// TokenVerifier 校验 Bearer 令牌并返回用户 id（middleware.JWTAuthenticator 实现）
type TokenVerifier interface {
	VerifyToken(raw string) (string, error)
}

// Auth 拦截器的认证依赖。Verifier 为 nil 时信任 x-actor-id，只用于进程内测试与受信网络。
type Auth struct {
	Checker  AccessChecker
	Verifier TokenVerifier
}

// actorFrom 优先使用令牌中的用户；x-actor-id 与令牌不一致时拒绝
func (a Auth) actorFrom(md metadata.MD) (string, error) {
	claimed := first(md, MetadataActorID)
	if a.Verifier == nil {
		return claimed, nil
	}
	scheme, raw, ok := strings.Cut(strings.TrimSpace(first(md, MetadataAuthorization)), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return "", status.Error(codes.Unauthenticated, "bearer token is required with x-tenant-id")
	}
	actor, err := a.Verifier.VerifyToken(strings.TrimSpace(raw))
	if err != nil {
		return "", status.Error(codes.Unauthenticated, "invalid bearer token")
	}
	if claimed != "" && claimed != actor {
		return "", status.Error(codes.PermissionDenied, "x-actor-id does not match token subject")
	}
	return actor, nil
}

// bindTenant 没有 x-tenant-id 时 context 保持原样，由下游 tenant.Require 拒绝
func bindTenant(ctx context.Context, auth Auth) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, nil
	}
	if id := first(md, MetadataRequestID); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}
	tenantID := first(md, MetadataTenantID)
	if tenantID == "" {
		return ctx, nil
	}
	actor, err := auth.actorFrom(md)
	if err != nil {
		return nil, err
	}
	if auth.Checker != nil {
		if actor == "" {
			return nil, status.Error(codes.Unauthenticated, "x-actor-id is required with x-tenant-id")
		}
		allowed, err := auth.Checker.ValidateCompanyAccess(ctx, tenantID, actor)
		if err != nil {
			return nil, errors.ToGRPCError(err)
		}
		if !allowed {
			return nil, errors.ToGRPCError(errors.ErrPermissionDenied)
		}
	}
	return tenant.With(ctx, tenant.Context{TenantID: tenantID, ActorID: actor}), nil
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// toStatus 业务错误转换为 status，已是 status 的错误原样返回
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return errors.ToGRPCError(err)
}

// UnaryInterceptor 组合 recover、租户绑定、错误转换、日志与指标
func UnaryInterceptor(log *logger.Logger, auth Auth) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.WithContext(ctx).Error("gRPC panic recovered",
					zap.Any("panic", r),
					zap.String("method", info.FullMethod),
					zap.String("stack", string(debug.Stack())),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
			observe(log, ctx, info.FullMethod, start, err)
		}()

		tctx, err := bindTenant(ctx, auth)
		if err != nil {
			return nil, err
		}
		resp, err = handler(tctx, req)
		return resp, toStatus(err)
	}
}

// StreamInterceptor 流式调用的租户绑定
func StreamInterceptor(log *logger.Logger, auth Auth) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		ctx, err := bindTenant(ss.Context(), auth)
		if err != nil {
			observe(log, ss.Context(), info.FullMethod, start, err)
			return err
		}
		err = toStatus(handler(srv, &tenantStream{ServerStream: ss, ctx: ctx}))
		observe(log, ctx, info.FullMethod, start, err)
		return err
	}
}

type tenantStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tenantStream) Context() context.Context { return s.ctx }

func observe(log *logger.Logger, ctx context.Context, method string, start time.Time, err error) {
	d := time.Since(start)
	metrics.GRPCRequestDuration.WithLabelValues(method, status.Code(err).String()).Observe(d.Seconds())
	switch {
	case err != nil:
		log.WithContext(ctx).Warn("gRPC request failed", zap.String("method", method), zap.Duration("duration", d), zap.Error(err))
	case d > 500*time.Millisecond:
		log.WithContext(ctx).Warn("gRPC slow request", zap.String("method", method), zap.Duration("duration", d))
	}
}
