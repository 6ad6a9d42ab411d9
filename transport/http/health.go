package http

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"gorm.io/gorm"
)

/* ========================================================================
 * Health Check
 * ========================================================================
 * /healthz 存活探针：进程能响应即 200
 * /readyz  就绪探针：逐项检查依赖，任一失败返回 503
 * ======================================================================== */

// ReadinessCheck 就绪检查项
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// DatabaseCheck 数据库连通性
func DatabaseCheck(db *gorm.DB) ReadinessCheck {
	return ReadinessCheck{Name: "database", Check: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}
}

func registerHealthEndpoints(app *fiber.App, timeout time.Duration, checks ...ReadinessCheck) {
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Format(time.RFC3339)})
	})

	app.Get("/readyz", func(c fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), timeout)
		defer cancel()

		results := make(map[string]string, len(checks))
		status, code := "ok", fiber.StatusOK
		for _, chk := range checks {
			if err := chk.Check(ctx); err != nil {
				results[chk.Name] = fmt.Sprintf("error: %v", err)
				status, code = "unhealthy", fiber.StatusServiceUnavailable
				continue
			}
			results[chk.Name] = "ok"
		}
		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
			"checks": results,
		})
	})
}
