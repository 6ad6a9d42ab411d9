package reconcile

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aisgo/ais-tenancy/cache/redis"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/metrics"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/rbac"
	"github.com/aisgo/ais-tenancy/tenant"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

/* ========================================================================
 * Reconcile Job - 系统角色对账
 * ========================================================================
 * 职责: 对所有未删除租户重新执行角色供给，修复模板变更或人为修改造成的漂移
 * 约束: 每个租户独立事务，单个失败不影响其他租户；
 *       多实例部署时通过 redis 锁保证同一时刻只有一个实例执行
 * 技术: errgroup 限并发 + cache/redis.Lock
 * ======================================================================== */

const lockName = "reconcile:roles"

// Config 对账配置
type Config struct {
	Enabled     bool          `mapstructure:"enabled"`
	Schedule    string        `mapstructure:"schedule"`
	Concurrency int           `mapstructure:"concurrency"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

// DefaultConfig 每天 03:00
func DefaultConfig() Config {
	return Config{Schedule: "0 3 * * *", Concurrency: 4, LockTTL: time.Minute}
}

// TenantInvalidator 租户权限缓存失效
type TenantInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) error
}

// Failure 单个租户失败
type Failure struct {
	TenantID string `json:"tenant_id"`
	Error    string `json:"error"`
}

// Report 一次对账的结果
type Report struct {
	Tenants  int                     `json:"tenants"`
	Changed  []string                `json:"changed"`
	Drift    map[string]int          `json:"drift"` // 角色 -> 增删条目数
	Failed   []Failure               `json:"failed,omitempty"`
	Skipped  bool                    `json:"skipped"` // 其他实例持有锁
	Duration time.Duration           `json:"duration"`
	Results  []*rbac.ProvisionResult `json:"-"`
}

// Job 对账任务
type Job struct {
	db          *gorm.DB
	provisioner *rbac.Provisioner
	cache       TenantInvalidator
	redis       *redis.Client
	cfg         Config
	log         *logger.Logger
}

// NewJob redis 为 nil 时不加锁（单实例）；cache 为 nil 时不做缓存失效
func NewJob(db *gorm.DB, provisioner *rbac.Provisioner, cache TenantInvalidator, rc *redis.Client, cfg Config, log *logger.Logger) *Job {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Job{db: db, provisioner: provisioner, cache: cache, redis: rc, cfg: cfg, log: log}
}

// RunOnce 对全部租户执行一次
func (j *Job) RunOnce(ctx context.Context) (*Report, error) {
	if j.redis == nil {
		return j.run(ctx, nil)
	}
	var (
		report *Report
		runErr error
	)
	err := j.redis.NewLock(lockName, j.cfg.LockTTL).Hold(ctx, func(ctx context.Context) error {
		report, runErr = j.run(ctx, nil)
		return runErr
	})
	if stderrors.Is(err, redis.ErrLockHeld) {
		metrics.ReconcileRuns.WithLabelValues(metrics.ResultSkipped).Inc()
		j.log.Info("Reconcile skipped, another instance holds the lock")
		return &Report{Skipped: true}, nil
	}
	if err != nil && report == nil {
		return nil, err
	}
	return report, runErr
}

// RunTenants 只对指定租户执行（tenantctl provision --tenant）。
// 不存在或已软删除的公司记为失败，不会为其恢复角色。
func (j *Job) RunTenants(ctx context.Context, tenantIDs ...string) (*Report, error) {
	if len(tenantIDs) == 0 {
		return nil, fmt.Errorf("no tenant ids given")
	}
	return j.run(ctx, tenantIDs)
}

// run 在 requested 为空时处理全部未删除公司
func (j *Job) run(ctx context.Context, requested []string) (*Report, error) {
	start := time.Now()
	ids, err := j.tenantIDs(ctx, requested)
	if err != nil {
		return nil, err
	}

	report := &Report{Tenants: len(ids), Drift: map[string]int{}}
	if len(requested) > 0 {
		live := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			live[id] = struct{}{}
		}
		seen := make(map[string]struct{}, len(requested))
		for _, id := range requested {
			if _, ok := live[id]; ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			report.Tenants++
			report.Failed = append(report.Failed, Failure{TenantID: id, Error: "company not found or deleted"})
		}
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := j.provisioner.ProvisionSystemRolesForCompany(gctx, id, j.db)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				j.log.WithContext(ctx).Error("Reconcile failed for tenant", zap.String("tenant_id", id), zap.Error(err))
				report.Failed = append(report.Failed, Failure{TenantID: id, Error: err.Error()})
				return nil
			}
			report.Results = append(report.Results, res)
			if !res.Changed() {
				return nil
			}
			report.Changed = append(report.Changed, id)
			for _, r := range res.Roles {
				if n := r.Added + r.Removed; n > 0 {
					report.Drift[string(r.Key)] += n
				}
			}
			j.invalidate(ctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(report.Changed)
	sort.Slice(report.Failed, func(a, b int) bool { return report.Failed[a].TenantID < report.Failed[b].TenantID })
	report.Duration = time.Since(start)

	j.log.WithContext(ctx).Info("Reconcile finished",
		zap.Int("tenants", report.Tenants),
		zap.Int("changed", len(report.Changed)),
		zap.Int("failed", len(report.Failed)),
		zap.Any("drift", report.Drift),
		zap.Duration("duration", report.Duration),
	)
	if len(report.Failed) > 0 {
		metrics.ReconcileRuns.WithLabelValues(metrics.ResultError).Inc()
		return report, fmt.Errorf("reconcile failed for %d of %d tenants", len(report.Failed), report.Tenants)
	}
	metrics.ReconcileRuns.WithLabelValues(metrics.ResultOK).Inc()
	metrics.ReconcileLastSuccess.SetToCurrentTime()
	return report, nil
}

// tenantIDs 系统上下文下列出未删除的公司，only 非空时只取其中的 id
func (j *Job) tenantIDs(ctx context.Context, only []string) ([]string, error) {
	var ids []string
	q := j.db.WithContext(tenant.System(ctx)).Model(&model.Company{})
	if len(only) > 0 {
		q = q.Where("id IN ?", only)
	}
	err := q.Order("id").Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	return ids, nil
}

func (j *Job) invalidate(ctx context.Context, tenantID string) {
	if j.cache == nil {
		return
	}
	if err := j.cache.InvalidateTenant(ctx, tenantID); err != nil {
		j.log.WithContext(ctx).Warn("Permission cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}
