package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aisgo/ais-tenancy/logger"
)

type countingRunner struct {
	runs atomic.Int32
}

func (r *countingRunner) RunOnce(context.Context) (*Report, error) {
	r.runs.Add(1)
	return &Report{}, nil
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	if _, err := NewScheduler("not a cron", 0, &countingRunner{}, logger.NewNop()); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
}

func TestSchedulerRunsAndStops(t *testing.T) {
	runner := &countingRunner{}
	s, err := NewScheduler("@every 1s", time.Second, runner, logger.NewNop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for runner.runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if runner.runs.Load() == 0 {
		t.Fatalf("expected at least one scheduled run")
	}
}
