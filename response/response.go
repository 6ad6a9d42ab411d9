package response

import (
	"net/http"

	"github.com/aisgo/ais-tenancy/errors"

	"github.com/gofiber/fiber/v3"
)

/* ========================================================================
 * Response - 统一响应
 * ========================================================================
 * 职责: 统一 JSON 包装 {code, msg, data}，BizError 按错误码映射 HTTP 状态
 * ======================================================================== */

func newResult(code int, msg string, data any) *Result {
	if data == nil {
		data = &struct{}{}
	}
	return &Result{Code: code, Msg: msg, Data: data}
}

func write(c fiber.Ctx, status int, msg string, data any) error {
	if status > http.StatusNetworkAuthenticationRequired || status < http.StatusContinue {
		status = http.StatusInternalServerError
	}
	return c.Status(status).JSON(newResult(status, msg, data))
}

// Ok 成功且无数据
func Ok(c fiber.Ctx) error {
	return write(c, http.StatusOK, "ok", nil)
}

// OkWithData 成功并返回数据
func OkWithData(c fiber.Ctx, data any) error {
	return write(c, http.StatusOK, "ok", data)
}

// Created 资源创建成功
func Created(c fiber.Ctx, data any) error {
	return write(c, http.StatusCreated, "created", data)
}

// Error 错误响应。BizError 使用其错误码对应的状态，其余错误一律 500 且不回显内部信息
func Error(c fiber.Ctx, err error) error {
	if err == nil {
		return Ok(c)
	}
	status, body := errors.ToHTTPResponse(err)
	code, _ := body["code"].(int)
	msg, _ := body["msg"].(string)
	return c.Status(status).JSON(newResult(code, msg, nil))
}

// ErrorWithCode 指定 HTTP 状态的错误响应
func ErrorWithCode(c fiber.Ctx, status int, err error) error {
	if err == nil {
		return write(c, status, "ok", nil)
	}
	if biz, ok := errors.AsBizError(err); ok {
		return c.Status(status).JSON(newResult(int(biz.Code), biz.Message, nil))
	}
	return write(c, status, err.Error(), nil)
}

// PageData 分页数据
func PageData(c fiber.Ctx, list any, total int64, page, pageSize int) error {
	return OkWithData(c, &PageResult{List: list, Total: total, Page: page, PageSize: pageSize})
}

// Unauthorized 401
func Unauthorized(c fiber.Ctx, msg string) error {
	return write(c, http.StatusUnauthorized, msg, nil)
}

// Forbidden 403
func Forbidden(c fiber.Ctx, msg string) error {
	return write(c, http.StatusForbidden, msg, nil)
}

// TooManyRequests 429
func TooManyRequests(c fiber.Ctx, msg string) error {
	return write(c, http.StatusTooManyRequests, msg, nil)
}

// ServiceUnavailable 503
func ServiceUnavailable(c fiber.Ctx, msg string) error {
	return write(c, http.StatusServiceUnavailable, msg, nil)
}
