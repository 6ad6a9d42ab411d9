package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GuardRewrites 守卫改写次数
	GuardRewrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "rewrites_total",
			Help:      "Database operations rewritten with a tenant filter",
		},
		[]string{"kind", "table"},
	)

	// GuardRejections 守卫拒绝次数
	// reason: no_context, misconfigured, unsafe_upsert, missing_where, unknown_table
	GuardRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "rejections_total",
			Help:      "Database operations rejected by the tenant guard",
		},
		[]string{"reason"},
	)

	// GuardZeroRowMutations 租户上下文下影响 0 行的写操作（可能是跨租户访问）
	GuardZeroRowMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "zero_row_mutations_total",
			Help:      "Tenant scoped updates and deletes that matched no rows",
		},
		[]string{"table", "kind"},
	)

	// ProvisionDuration 单个租户角色供给耗时
	ProvisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rbac",
			Name:      "provision_duration_seconds",
			Help:      "Duration of system role provisioning per tenant",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ProvisionDrift 供给时修正的权限条目数
	ProvisionDrift = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rbac",
			Name:      "provision_drift_total",
			Help:      "Role permission entries added or removed while provisioning",
		},
		[]string{"role"},
	)

	// PermissionCache 权限缓存命中情况，tier: l1, l2
	PermissionCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rbac",
			Name:      "permission_cache_total",
			Help:      "Permission cache lookups by tier and result",
		},
		[]string{"tier", "hit"},
	)
)

// HitLabel 缓存命中标签
func HitLabel(hit bool) string {
	if hit {
		return "true"
	}
	return "false"
}
