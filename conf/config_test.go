package conf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aisgo/ais-tenancy/guard"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenantd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestExpandEnvPlaceholders(t *testing.T) {
	t.Setenv("TENANCY_DB_HOST", "db.internal")
	t.Setenv("TENANCY_EMPTY", "")

	got := expandEnvPlaceholders("a=${TENANCY_DB_HOST} b=${TENANCY_EMPTY:-fallback} c=${TENANCY_UNSET:-x:y} d=${TENANCY_UNSET}")
	if got != "a=db.internal b=fallback c=x:y d=" {
		t.Fatalf("unexpected expansion: %q", got)
	}
}

func TestLoadFileWithPlaceholdersAndHooks(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	path := writeConfig(t, `
database:
  driver: postgres
  postgres:
    host: ${PG_HOST:-pg.local}
    conn_max_lifetime: 5m
auth:
  jwt:
    enabled: true
    secret: ${JWT_SECRET}
    leeway: 10s
  header:
    allowed_issuers: gateway,idp
tenancy:
  mode: lenient
  permission_cache_ttl: 90s
reconcile:
  enabled: true
  schedule: "*/15 * * * *"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.Postgres.Host != "pg.local" {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Database.Postgres.ConnMaxLifetime != 5*time.Minute || cfg.Database.Postgres.Port != 5432 {
		t.Fatalf("duration or default lost: %+v", cfg.Database.Postgres)
	}
	if cfg.Auth.JWT.Secret != "s3cret" || cfg.Auth.JWT.Leeway != 10*time.Second || cfg.Auth.JWT.TTL != time.Hour {
		t.Fatalf("unexpected jwt config: %+v", cfg.Auth.JWT)
	}
	if got := cfg.Auth.Header.AllowedIssuers; len(got) != 2 || got[1] != "idp" {
		t.Fatalf("slice hook not applied: %v", got)
	}
	if cfg.Tenancy.Guard.Mode != guard.ModeLenient || cfg.Tenancy.Cache.TTL != 90*time.Second || cfg.Tenancy.Cache.L1Size != 10000 {
		t.Fatalf("unexpected tenancy config: %+v", cfg.Tenancy)
	}
	if !cfg.Reconcile.Enabled || cfg.Reconcile.Schedule != "*/15 * * * *" || cfg.Reconcile.Concurrency != 4 {
		t.Fatalf("unexpected reconcile config: %+v", cfg.Reconcile)
	}
	if cfg.HTTP.Port != 8080 || cfg.MQ.Topics.Events != "tenancy.events" {
		t.Fatalf("defaults lost: http=%+v mq=%+v", cfg.HTTP, cfg.MQ.Topics)
	}
}

func TestLoadEnvWithoutFile(t *testing.T) {
	t.Setenv("APP_AUTH_API_KEY_ENABLED", "true")
	t.Setenv("APP_HTTP_PORT", "9000")
	t.Setenv("APP_TENANCY_MODE", "strict")
	t.Setenv("APP_REDIS_ENABLED", "true")
	t.Setenv("APP_REDIS_HOST", "cache")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Auth.APIKey.Enabled || cfg.HTTP.Port != 9000 {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Auth.APIKey, cfg.HTTP)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr() != "cache:6379" {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.SQLite.Path != "tenancy.db" {
		t.Fatalf("unexpected database default: %+v", cfg.Database)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"no authenticator": "database:\n  driver: sqlite\n",
		"bad driver":       "auth:\n  api_key:\n    enabled: true\ndatabase:\n  driver: oracle\n",
		"jwt secret":       "auth:\n  jwt:\n    enabled: true\n",
		"bad mode":         "auth:\n  api_key:\n    enabled: true\ntenancy:\n  mode: loose\n",
		"grpc without jwt": "auth:\n  api_key:\n    enabled: true\ngrpc:\n  enabled: true\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		} else if name == "bad mode" && !strings.Contains(err.Error(), "tenancy mode") {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
	}
}
