package errors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

/* ========================================================================
 * Tenancy Errors - 统一错误
 * ========================================================================
 * 职责: 业务错误码（通用 1xxx、租户隔离 2xxx），以及到 HTTP / gRPC 的映射
 * 约束: 非 BizError 一律视为内部错误，对外不暴露原始信息
 * ======================================================================== */

// ErrorCode 业务错误码
type ErrorCode int

const (
	ErrCodeUnknown          ErrorCode = 1000
	ErrCodeInvalidArgument  ErrorCode = 1001
	ErrCodeNotFound         ErrorCode = 1002
	ErrCodeAlreadyExists    ErrorCode = 1003
	ErrCodePermissionDenied ErrorCode = 1004
	ErrCodeUnauthenticated  ErrorCode = 1005
	ErrCodeInternal         ErrorCode = 1006
	ErrCodeUnavailable      ErrorCode = 1007
	ErrCodeTimeout          ErrorCode = 1008
	ErrCodeCanceled         ErrorCode = 1009

	ErrCodeTenantRequired  ErrorCode = 2001 // 缺少租户上下文
	ErrCodeMisconfigured   ErrorCode = 2002 // 模型或配置错误，不可重试
	ErrCodeLastOwner       ErrorCode = 2003 // 不能移除或降级最后一个 Owner
	ErrCodeUnsafeOperation ErrorCode = 2004 // 无条件批量写入、跨租户 upsert
)

// mapping 每个错误码对应的 HTTP 状态与 gRPC 状态
type mapping struct {
	http int
	grpc codes.Code
}

var table = map[ErrorCode]mapping{
	ErrCodeUnknown:          {fiber.StatusInternalServerError, codes.Unknown},
	ErrCodeInvalidArgument:  {fiber.StatusBadRequest, codes.InvalidArgument},
	ErrCodeNotFound:         {fiber.StatusNotFound, codes.NotFound},
	ErrCodeAlreadyExists:    {fiber.StatusConflict, codes.AlreadyExists},
	ErrCodePermissionDenied: {fiber.StatusForbidden, codes.PermissionDenied},
	ErrCodeUnauthenticated:  {fiber.StatusUnauthorized, codes.Unauthenticated},
	ErrCodeInternal:         {fiber.StatusInternalServerError, codes.Internal},
	ErrCodeUnavailable:      {fiber.StatusServiceUnavailable, codes.Unavailable},
	ErrCodeTimeout:          {fiber.StatusGatewayTimeout, codes.DeadlineExceeded},
	ErrCodeCanceled:         {499, codes.Canceled},
	ErrCodeTenantRequired:   {fiber.StatusUnauthorized, codes.Unauthenticated},
	ErrCodeMisconfigured:    {fiber.StatusInternalServerError, codes.Internal},
	ErrCodeLastOwner:        {fiber.StatusConflict, codes.FailedPrecondition},
	ErrCodeUnsafeOperation:  {fiber.StatusBadRequest, codes.InvalidArgument},
}

func lookup(code ErrorCode) mapping {
	if m, ok := table[code]; ok {
		return m
	}
	return table[ErrCodeUnknown]
}

// BizError 业务错误
type BizError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *BizError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Is 按错误码匹配，errors.Is(err, ErrNotFound) 对任何 NotFound 成立
func (e *BizError) Is(target error) bool {
	t, ok := target.(*BizError)
	return ok && e.Code == t.Code
}

func (e *BizError) Unwrap() error {
	return e.Cause
}

// New 创建业务错误
func New(code ErrorCode, message string) *BizError {
	return &BizError{Code: code, Message: message}
}

// Wrap 包装错误
func Wrap(code ErrorCode, message string, cause error) *BizError {
	return &BizError{Code: code, Message: message, Cause: cause}
}

// Wrapf 格式化包装错误
func Wrapf(code ErrorCode, cause error, format string, args ...any) *BizError {
	return &BizError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

var (
	ErrInvalidArgument  = New(ErrCodeInvalidArgument, "invalid argument")
	ErrNotFound         = New(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = New(ErrCodeAlreadyExists, "resource already exists")
	ErrPermissionDenied = New(ErrCodePermissionDenied, "permission denied")
	ErrUnauthenticated  = New(ErrCodeUnauthenticated, "unauthenticated")
	ErrInternal         = New(ErrCodeInternal, "internal error")
	ErrUnavailable      = New(ErrCodeUnavailable, "service unavailable")
	ErrTimeout          = New(ErrCodeTimeout, "timeout")
	ErrCanceled         = New(ErrCodeCanceled, "canceled")

	ErrTenantRequired  = New(ErrCodeTenantRequired, "tenant context required")
	ErrMisconfigured   = New(ErrCodeMisconfigured, "misconfigured")
	ErrLastOwner       = New(ErrCodeLastOwner, "cannot remove the last owner")
	ErrUnsafeOperation = New(ErrCodeUnsafeOperation, "unsafe operation")
)

// Is 同 errors.Is，避免调用方同时引入两个 errors 包
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As 同 errors.As
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Code 错误链上第一个 BizError 的错误码，没有则为 ErrCodeUnknown
func Code(err error) ErrorCode {
	if biz, ok := AsBizError(err); ok {
		return biz.Code
	}
	return ErrCodeUnknown
}

func IsNotFound(err error) bool       { return Code(err) == ErrCodeNotFound }
func IsTenantRequired(err error) bool { return Code(err) == ErrCodeTenantRequired }
func IsMisconfigured(err error) bool  { return Code(err) == ErrCodeMisconfigured }

// AsBizError 取错误链上的 BizError
func AsBizError(err error) (*BizError, bool) {
	if err == nil {
		return nil, false
	}
	var biz *BizError
	if errors.As(err, &biz) {
		return biz, true
	}
	return nil, false
}

// ToGRPCError 转换为 gRPC status；非业务错误返回 Internal 且不带原始信息
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if biz, ok := AsBizError(err); ok {
		return status.Error(lookup(biz.Code).grpc, biz.Message)
	}
	return status.Error(codes.Internal, "internal error")
}

// FromGRPCError 调用下游 gRPC 服务时把 status 还原为业务错误
func FromGRPCError(err error) *BizError {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return Wrap(ErrCodeUnknown, "unknown error", err)
	}
	code := ErrCodeInternal
	switch st.Code() {
	case codes.InvalidArgument:
		code = ErrCodeInvalidArgument
	case codes.NotFound:
		code = ErrCodeNotFound
	case codes.AlreadyExists:
		code = ErrCodeAlreadyExists
	case codes.PermissionDenied:
		code = ErrCodePermissionDenied
	case codes.Unauthenticated:
		code = ErrCodeUnauthenticated
	case codes.FailedPrecondition:
		code = ErrCodeLastOwner
	case codes.Unavailable:
		code = ErrCodeUnavailable
	case codes.DeadlineExceeded:
		code = ErrCodeTimeout
	case codes.Canceled:
		code = ErrCodeCanceled
	}
	return New(code, st.Message())
}

// ToHTTPResponse HTTP 状态码与 {code, msg} 响应体
func ToHTTPResponse(err error) (int, fiber.Map) {
	if err == nil {
		return fiber.StatusOK, fiber.Map{"code": 0, "msg": "success"}
	}
	if biz, ok := AsBizError(err); ok {
		return lookup(biz.Code).http, fiber.Map{"code": int(biz.Code), "msg": biz.Message}
	}
	return fiber.StatusInternalServerError, fiber.Map{"code": 500, "msg": "internal server error"}
}
