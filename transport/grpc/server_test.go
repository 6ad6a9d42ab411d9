package grpc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/aisgo/ais-tenancy/tenant"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const whoamiMethod = "/tenancy.test.Identity/Whoami"

// whoamiDesc 手写的最小服务：返回 "tenant/actor"，或 panic
var whoamiDesc = grpc.ServiceDesc{
	ServiceName: "tenancy.test.Identity",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Whoami",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(emptypb.Empty)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := func(ctx context.Context, _ any) (any, error) {
				if md, _ := metadata.FromIncomingContext(ctx); len(md.Get("x-panic")) > 0 {
					panic("boom")
				}
				tc, err := tenant.Require(ctx)
				if err != nil {
					return nil, err
				}
				return wrapperspb.String(tc.TenantID + "/" + tc.ActorID), nil
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: whoamiMethod}, h)
		},
	}},
}

type members map[string]bool

func (m members) ValidateCompanyAccess(_ context.Context, tenantID, userID string) (bool, error) {
	if tenantID == "broken" {
		return false, fmt.Errorf("db down")
	}
	return m[tenantID+"|"+userID], nil
}

// tokens 令牌即用户 id 加前缀 "tok-"
type tokens struct{}

func (tokens) VerifyToken(raw string) (string, error) {
	if user, ok := strings.CutPrefix(raw, "tok-"); ok && user != "" {
		return user, nil
	}
	return "", fmt.Errorf("bad token")
}

func dial(t *testing.T, auth Auth) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	s := New(Config{}, nil, auth)
	s.RegisterService(&whoamiDesc, struct{}{})
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func whoami(conn *grpc.ClientConn, kv ...string) (string, error) {
	ctx := metadata.AppendToOutgoingContext(context.Background(), kv...)
	out := new(wrapperspb.StringValue)
	if err := conn.Invoke(ctx, whoamiMethod, &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func TestTenantMetadataBindsContext(t *testing.T) {
	conn := dial(t, Auth{})
	got, err := whoami(conn, MetadataTenantID, "acme", MetadataActorID, "alice")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if got != "acme/alice" {
		t.Fatalf("unexpected identity: %q", got)
	}

	_, err = whoami(conn)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without tenant, got %v", err)
	}
}

func TestAccessCheckerEnforced(t *testing.T) {
	conn := dial(t, Auth{Checker: members{"acme|alice": true}})

	if _, err := whoami(conn, MetadataTenantID, "acme", MetadataActorID, "alice"); err != nil {
		t.Fatalf("member should pass: %v", err)
	}
	cases := []struct {
		kv   []string
		code codes.Code
	}{
		{[]string{MetadataTenantID, "acme", MetadataActorID, "mallory"}, codes.PermissionDenied},
		{[]string{MetadataTenantID, "acme"}, codes.Unauthenticated},
		{[]string{MetadataTenantID, "broken", MetadataActorID, "alice"}, codes.Internal},
	}
	for _, tc := range cases {
		if _, err := whoami(conn, tc.kv...); status.Code(err) != tc.code {
			t.Fatalf("%v: got %v want %v", tc.kv, status.Code(err), tc.code)
		}
	}
}

func TestPanicIsRecovered(t *testing.T) {
	conn := dial(t, Auth{})
	_, err := whoami(conn, "x-panic", "1")
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
	// 服务器仍可用
	if _, err := whoami(conn, MetadataTenantID, "acme", MetadataActorID, "a"); err != nil {
		t.Fatalf("server unusable after panic: %v", err)
	}
}

func TestHealthService(t *testing.T) {
	conn := dial(t, Auth{})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %v", resp.GetStatus())
	}
}

func TestActorComesFromVerifiedToken(t *testing.T) {
	conn := dial(t, Auth{Checker: members{"acme|alice": true}, Verifier: tokens{}})

	got, err := whoami(conn, MetadataTenantID, "acme", MetadataAuthorization, "Bearer tok-alice")
	if err != nil || got != "acme/alice" {
		t.Fatalf("token holder should pass: %q %v", got, err)
	}

	cases := []struct {
		kv   []string
		code codes.Code
	}{
		// 未认证的 x-actor-id 不再被信任
		{[]string{MetadataTenantID, "acme", MetadataActorID, "alice"}, codes.Unauthenticated},
		{[]string{MetadataTenantID, "acme", MetadataAuthorization, "Bearer forged"}, codes.Unauthenticated},
		{[]string{MetadataTenantID, "acme", MetadataAuthorization, "Bearer tok-mallory", MetadataActorID, "alice"}, codes.PermissionDenied},
		{[]string{MetadataTenantID, "acme", MetadataAuthorization, "Bearer tok-mallory"}, codes.PermissionDenied},
	}
	for _, tc := range cases {
		if _, err := whoami(conn, tc.kv...); status.Code(err) != tc.code {
			t.Fatalf("%v: got %v want %v", tc.kv, status.Code(err), tc.code)
		}
	}
}
