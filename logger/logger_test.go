package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aisgo/ais-tenancy/tenant"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(Config{Level: "info", Format: "json"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateConfig(Config{Level: "bad"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := ValidateConfig(Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestNewLoggerLevel(t *testing.T) {
	log := NewLogger(Config{Level: "debug"})
	if !log.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug enabled")
	}

	log = NewLogger(Config{Level: "info"})
	if log.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug disabled")
	}

	log = NewLogger(Config{Level: "not-a-level"})
	if log.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug disabled on invalid level")
	}
}

func TestNewLoggerFileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	log := NewLogger(Config{Level: "info", Format: "json", Output: path})
	log.Info("hello", zap.String("k", "v"))
	_ = log.Sync()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log file: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected log file not empty")
	}
}

func TestWithContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := &Logger{Logger: zap.New(core)}

	ctx := tenant.With(context.Background(), tenant.Context{TenantID: "t1", ActorID: "u1"})
	ctx = WithRequestID(ctx, "req-1")
	log.WithContext(ctx).Info("scoped")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["tenant_id"] != "t1" || fields["actor_id"] != "u1" || fields["request_id"] != "req-1" {
		t.Fatalf("unexpected fields: %v", fields)
	}

	log.WithContext(tenant.System(context.Background())).Info("system")
	if logs.All()[1].ContextMap()["system"] != true {
		t.Fatalf("expected system flag")
	}
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Info("dropped")
	if log.Core().Enabled(zap.ErrorLevel) {
		t.Fatalf("nop logger must not be enabled")
	}
}
