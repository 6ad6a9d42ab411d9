package metrics

import (
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

/* ========================================================================
 * Prometheus Metrics
 * ========================================================================
 * 职责: 入口（HTTP / gRPC）与异步任务（事件、身份同步、对账）指标；
 *       租户守卫与 RBAC 指标见 tenancy.go
 * 约束: path 标签使用路由模板，避免 ID 造成标签基数爆炸
 * ======================================================================== */

const namespace = "tenancy"

// 结果标签
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RateLimited 被限流拒绝的请求
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"path"},
	)

	GRPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "gRPC request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	// EventsPublished 领域事件发布结果
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events handed to the message broker",
		},
		[]string{"type", "result"},
	)

	// IdentitySynced 身份同步消息处理结果；skipped 为格式错误被丢弃的消息
	IdentitySynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "synced_total",
			Help:      "Identity provider messages processed",
		},
		[]string{"result"},
	)

	// ReconcileRuns 对账执行结果；skipped 表示其他实例持有锁
	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Role reconcile runs",
		},
		[]string{"result"},
	)

	// ReconcileLastSuccess 最近一次成功对账的 unix 时间
	ReconcileLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last reconcile run without failures",
		},
	)
)

// RegisterMetricsEndpoint 注册 /metrics 端点
func RegisterMetricsEndpoint(app *fiber.App) {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c fiber.Ctx) error {
		handler(c.RequestCtx())
		return nil
	})
}
