package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

/* ========================================================================
 * 分布式锁 - 单实例 Redis 锁
 * ========================================================================
 * 职责: 保证定时对账任务在多实例部署下同一时刻只运行一份
 * 约束: 只有持有者（token 匹配）才能续期与释放
 * ======================================================================== */

var (
	ErrLockHeld     = errors.New("lock is held by another owner")
	ErrLockNotOwned = errors.New("lock is not owned")
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Lock 分布式锁
type Lock struct {
	client *Client
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

// NewLock 创建锁，ttl<=0 时为 30s
func (c *Client) NewLock(name string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Lock{client: c, key: c.Key("lock", name), ttl: ttl}
}

// TryAcquire 尝试获取一次；已被占用返回 ErrLockHeld
func (l *Lock) TryAcquire(ctx context.Context) error {
	token := uuid.NewString()
	ok, err := l.client.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return nil
}

// Refresh 续期
func (l *Lock) Refresh(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()
	if token == "" {
		return ErrLockNotOwned
	}
	n, err := refreshScript.Run(ctx, l.client.rdb, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotOwned
	}
	return nil
}

// Release 释放
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return ErrLockNotOwned
	}
	n, err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotOwned
	}
	return nil
}

// Hold 获取锁后执行 fn，期间每 ttl/2 续期一次；续期失败时取消 fn 的 context。
// 锁已被占用时直接返回 ErrLockHeld，不等待。
func (l *Lock) Hold(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.TryAcquire(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := l.Refresh(runCtx); err != nil {
					l.client.log.Warn("lock refresh failed", zap.String("key", l.key), zap.Error(err))
					cancel()
					return
				}
			}
		}
	}()

	err := fn(runCtx)
	cancel()
	<-done

	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer releaseCancel()
	if rerr := l.Release(releaseCtx); rerr != nil && !errors.Is(rerr, ErrLockNotOwned) {
		l.client.log.Warn("lock release failed", zap.String("key", l.key), zap.Error(rerr))
	}
	return err
}
