package middleware

import (
	stderrors "errors"

	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/response"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// NewErrorHandler fiber 统一错误处理；路由错误保留原状态码，其余按 BizError 映射
func NewErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return func(c fiber.Ctx, err error) error {
		if err == nil {
			return nil
		}
		var fe *fiber.Error
		if stderrors.As(err, &fe) {
			return response.ErrorWithCode(c, fe.Code, stderrors.New(fe.Message))
		}
		log.WithContext(c.Context()).Error("Unhandled request error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return response.Error(c, err)
	}
}
