package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aisgo/ais-tenancy/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

/* ========================================================================
 * Shutdown Manager - 优雅关停
 * ========================================================================
 * 职责: 收到信号后先把就绪探针置为失败并等待摘流，再按优先级停止各组件
 * 约束: 优先级小的先执行，同优先级并行；整体与单钩子均有超时
 * ======================================================================== */

// 关停优先级
const (
	PriorityDrain   = 0  // 就绪探针失败 + 等待摘流
	PriorityIngress = 10 // HTTP / gRPC 入口
	PriorityWorkers = 20 // 对账调度、消息消费
	PriorityStorage = 30 // 消息生产者、数据库、缓存
)

// ErrDraining 关停中，就绪检查返回该错误
var ErrDraining = errors.New("service is shutting down")

// Hook 关停钩子
type Hook func(ctx context.Context) error

type hookEntry struct {
	name     string
	hook     Hook
	priority int
}

type hookResult struct {
	name     string
	err      error
	duration time.Duration
}

// Manager 优雅关停管理器
type Manager struct {
	cfg      Config
	log      *logger.Logger
	draining atomic.Bool

	mu    sync.Mutex
	hooks []hookEntry
	once  sync.Once
	done  chan struct{}
}

// ManagerParams 依赖参数
type ManagerParams struct {
	fx.In
	Logger *logger.Logger
	Config Config `optional:"true"`
}

// NewManager 创建关停管理器，并注册摘流钩子
func NewManager(p ManagerParams) *Manager {
	cfg := p.Config
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	log := p.Logger
	if log == nil {
		log = logger.NewNop()
	}
	m := &Manager{cfg: cfg, log: log, done: make(chan struct{})}
	m.RegisterHook("drain", PriorityDrain, m.drain)
	return m
}

// RegisterHook 注册关停钩子
func (m *Manager) RegisterHook(name string, priority int, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hookEntry{name: name, hook: hook, priority: priority})
}

// Check 就绪检查：关停开始后失败
func (m *Manager) Check(context.Context) error {
	if m.draining.Load() {
		return ErrDraining
	}
	return nil
}

// Draining 是否已开始关停
func (m *Manager) Draining() bool {
	return m.draining.Load()
}

// Wait 阻塞直到收到 SIGINT/SIGTERM/SIGQUIT 或 ctx 结束，然后执行关停
func (m *Manager) Wait(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		m.log.Info("Received shutdown signal", zap.String("signal", s.String()))
	case <-ctx.Done():
		m.log.Info("Shutdown requested", zap.Error(ctx.Err()))
	}
	m.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown 执行关停，可重复调用，只执行一次
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.draining.Store(true)
		m.run(ctx)
		close(m.done)
	})
}

// Done 关停完成后关闭
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) drain(ctx context.Context) error {
	if m.cfg.DrainDelay <= 0 {
		return nil
	}
	m.log.Info("Draining traffic", zap.Duration("delay", m.cfg.DrainDelay))
	select {
	case <-time.After(m.cfg.DrainDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	m.mu.Lock()
	hooks := append([]hookEntry(nil), m.hooks...)
	m.mu.Unlock()
	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].priority < hooks[j].priority })

	m.log.Info("Starting graceful shutdown", zap.Int("hooks", len(hooks)), zap.Duration("timeout", m.cfg.Timeout))

	var failed int
	for start := 0; start < len(hooks); {
		end := start
		for end < len(hooks) && hooks[end].priority == hooks[start].priority {
			end++
		}
		if ctx.Err() != nil {
			m.log.Warn("Shutdown timeout reached, skipping remaining hooks", zap.Int("skipped", len(hooks)-start))
			break
		}
		for _, r := range m.runGroup(ctx, hooks[start:end]) {
			if r.err != nil {
				failed++
				m.log.Error("Shutdown hook failed", zap.String("name", r.name), zap.Duration("duration", r.duration), zap.Error(r.err))
				continue
			}
			m.log.Info("Shutdown hook completed", zap.String("name", r.name), zap.Duration("duration", r.duration))
		}
		start = end
	}

	if ctx.Err() != nil || failed > 0 {
		m.log.Warn("Graceful shutdown finished with problems", zap.Int("failed", failed), zap.Error(ctx.Err()))
		return
	}
	m.log.Info("Graceful shutdown completed")
}

// runGroup 并行执行同优先级钩子，超时后不再等待未完成的钩子
func (m *Manager) runGroup(ctx context.Context, group []hookEntry) []hookResult {
	ch := make(chan hookResult, len(group))
	for _, h := range group {
		go func() {
			hctx := ctx
			if m.cfg.HookTimeout > 0 {
				var cancel context.CancelFunc
				hctx, cancel = context.WithTimeout(ctx, m.cfg.HookTimeout)
				defer cancel()
			}
			start := time.Now()
			err := h.hook(hctx)
			ch <- hookResult{name: h.name, err: err, duration: time.Since(start)}
		}()
	}

	results := make([]hookResult, 0, len(group))
	for len(results) < len(group) {
		select {
		case r := <-ch:
			results = append(results, r)
		case <-ctx.Done():
			m.log.Warn("Timeout waiting for shutdown hooks", zap.Int("completed", len(results)), zap.Int("total", len(group)))
			return results
		}
	}
	return results
}
