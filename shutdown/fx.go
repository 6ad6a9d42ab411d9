package shutdown

import (
	httpserver "github.com/aisgo/ais-tenancy/transport/http"

	"go.uber.org/fx"
)

// Module 提供 *Manager，并把关停状态作为 /readyz 的一项检查
var Module = fx.Module("shutdown",
	fx.Provide(
		NewManager,
		fx.Annotate(
			func(m *Manager) httpserver.ReadinessCheck {
				return httpserver.ReadinessCheck{Name: "shutdown", Check: m.Check}
			},
			fx.ResultTags(`group:"readiness"`),
		),
	),
)
