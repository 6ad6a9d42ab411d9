package errors

import (
	errorspkg "errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBizErrorIsAndUnwrap(t *testing.T) {
	cause := errorspkg.New("root")
	err := Wrap(ErrCodeNotFound, "missing", cause)

	if !Is(err, ErrNotFound) {
		t.Fatalf("expected Is to match ErrNotFound")
	}
	if !errorspkg.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}
}

func TestToGRPCError(t *testing.T) {
	err := New(ErrCodeInvalidArgument, "bad")
	grpcErr := ToGRPCError(err)
	st, ok := status.FromError(grpcErr)
	if !ok {
		t.Fatalf("expected grpc status")
	}
	if st.Code() != codes.InvalidArgument {
		t.Fatalf("unexpected grpc code: %v", st.Code())
	}
}

func TestFromGRPCError(t *testing.T) {
	grpcErr := status.Error(codes.NotFound, "missing")
	bizErr := FromGRPCError(grpcErr)
	if bizErr == nil {
		t.Fatalf("expected biz error")
	}
	if bizErr.Code != ErrCodeNotFound {
		t.Fatalf("unexpected code: %v", bizErr.Code)
	}
	if bizErr.Message != "missing" {
		t.Fatalf("unexpected message: %q", bizErr.Message)
	}
}

func TestToHTTPResponse(t *testing.T) {
	statusCode, body := ToHTTPResponse(nil)
	if statusCode != 200 || body["code"].(int) != 0 {
		t.Fatalf("unexpected response for nil error: %d %v", statusCode, body)
	}

	statusCode, body = ToHTTPResponse(Wrap(ErrCodeNotFound, "customer not found", errorspkg.New("sql: no rows")))
	if statusCode != 404 || body["msg"] != "customer not found" {
		t.Fatalf("unexpected not found response: %d %v", statusCode, body)
	}

	statusCode, body = ToHTTPResponse(errorspkg.New("dial tcp 10.0.0.1:5432: refused"))
	if statusCode != 500 || body["msg"] != "internal server error" {
		t.Fatalf("internal errors must not leak: %d %v", statusCode, body)
	}

	statusCode, _ = ToHTTPResponse(New(ErrorCode(9999), "custom"))
	if statusCode != 500 {
		t.Fatalf("unknown codes should map to 500, got %d", statusCode)
	}
}

func TestTenancyErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		grpc   codes.Code
	}{
		{Wrap(ErrCodeTenantRequired, "no tenant", nil), 401, codes.Unauthenticated},
		{New(ErrCodeMisconfigured, "missing tenant_id column"), 500, codes.Internal},
		{ErrLastOwner, 409, codes.FailedPrecondition},
		{ErrUnsafeOperation, 400, codes.InvalidArgument},
	}
	for _, tc := range cases {
		statusCode, body := ToHTTPResponse(tc.err)
		if statusCode != tc.status {
			t.Fatalf("%v: unexpected http status %d", tc.err, statusCode)
		}
		if body["code"].(int) != int(Code(tc.err)) {
			t.Fatalf("%v: unexpected body code %v", tc.err, body["code"])
		}
		st, _ := status.FromError(ToGRPCError(tc.err))
		if st.Code() != tc.grpc {
			t.Fatalf("%v: unexpected grpc code %v", tc.err, st.Code())
		}
	}

	wrapped := Wrapf(ErrCodeTenantRequired, errorspkg.New("ctx"), "create %s", "customers")
	if !IsTenantRequired(wrapped) || !Is(wrapped, ErrTenantRequired) {
		t.Fatalf("expected tenant required match")
	}
	if IsMisconfigured(wrapped) {
		t.Fatalf("tenant required must not look like misconfiguration")
	}
}

func TestToGRPCErrorHidesInternalDetails(t *testing.T) {
	st, _ := status.FromError(ToGRPCError(errorspkg.New("pq: password authentication failed")))
	if st.Code() != codes.Internal || st.Message() != "internal error" {
		t.Fatalf("unexpected status: %v %q", st.Code(), st.Message())
	}

	back := FromGRPCError(ToGRPCError(ErrLastOwner))
	if !Is(back, ErrLastOwner) {
		t.Fatalf("last owner should survive a grpc round trip, got %v", back)
	}
}
