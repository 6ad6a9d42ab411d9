package middleware

import (
	"github.com/aisgo/ais-tenancy/logger"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// HeaderRequestID 请求 ID 头
const HeaderRequestID = "X-Request-ID"

// RequestID 透传或生成请求 ID，写入响应头与 logger context
func RequestID() fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(HeaderRequestID, id)
		c.SetContext(logger.WithRequestID(c.Context(), id))
		return c.Next()
	}
}
