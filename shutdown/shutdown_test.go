package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aisgo/ais-tenancy/logger"
)

func newManager(cfg Config) *Manager {
	return NewManager(ManagerParams{Logger: logger.NewNop(), Config: cfg})
}

func TestShutdownRunsByPriority(t *testing.T) {
	m := newManager(Config{Timeout: time.Second})

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) Hook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	m.RegisterHook("db", PriorityStorage, record("db"))
	m.RegisterHook("http", PriorityIngress, func(ctx context.Context) error {
		if err := m.Check(ctx); !errors.Is(err, ErrDraining) {
			t.Errorf("readiness should fail while shutting down, got %v", err)
		}
		return record("http")(ctx)
	})
	m.RegisterHook("reconcile", PriorityWorkers, record("reconcile"))

	if err := m.Check(context.Background()); err != nil {
		t.Fatalf("ready before shutdown: %v", err)
	}
	m.Shutdown(context.Background())
	m.Shutdown(context.Background())

	select {
	case <-m.Done():
	default:
		t.Fatalf("done channel should be closed")
	}
	want := []string{"http", "reconcile", "db"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v", order)
		}
	}
}

func TestShutdownHookTimeout(t *testing.T) {
	m := newManager(Config{Timeout: time.Second, HookTimeout: 50 * time.Millisecond})

	fast := make(chan struct{})
	m.RegisterHook("slow", PriorityIngress, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m.RegisterHook("fast", PriorityIngress, func(context.Context) error {
		close(fast)
		return nil
	})

	start := time.Now()
	m.Shutdown(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("shutdown took too long: %v", elapsed)
	}
	select {
	case <-fast:
	default:
		t.Fatalf("fast hook not executed")
	}
}

func TestWaitReturnsOnContextCancel(t *testing.T) {
	m := newManager(Config{Timeout: time.Second, DrainDelay: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Wait(ctx)
	if !m.Draining() {
		t.Fatalf("manager should be draining after wait")
	}
}
