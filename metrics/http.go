package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
)

// skipPaths 探针与指标端点不计入请求指标
var skipPaths = map[string]struct{}{
	"/metrics": {},
	"/healthz": {},
	"/readyz":  {},
}

// HTTPMiddleware 记录请求数与耗时。path 标签使用路由模板（/v1/customers/:id），避免 id 造成高基数
func HTTPMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		if _, skip := skipPaths[c.Path()]; skip {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		path := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
			path = r.Path
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		labels := []string{c.Method(), path, strconv.Itoa(status)}
		HTTPRequestTotal.WithLabelValues(labels...).Inc()
		HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		return err
	}
}
