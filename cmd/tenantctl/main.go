// tenantctl 运维命令：迁移、权限目录、角色回填与访问检查
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aisgo/ais-tenancy/company"
	"github.com/aisgo/ais-tenancy/conf"
	"github.com/aisgo/ais-tenancy/database/mysql"
	"github.com/aisgo/ais-tenancy/database/postgres"
	"github.com/aisgo/ais-tenancy/database/sqlite"
	"github.com/aisgo/ais-tenancy/guard"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/middleware"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/rbac"
	"github.com/aisgo/ais-tenancy/reconcile"
	"github.com/aisgo/ais-tenancy/tenant"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

const usage = `usage: tenantctl [-config path] <command> [flags]

commands:
  migrate                          create or update tables
  seed                             upsert the permission catalog
  provision --tenant ID | --all    materialize system roles for existing tenants
  check-access --tenant ID --user ID
                                   report membership and resolved permissions
  token --user ID [--email E]      issue a bearer token signed with auth.jwt.secret
`

// actorID 写入 created_by / updated_by
const actorID = "tenantctl"

type cli struct {
	cfg    *conf.AppConfig
	log    *logger.Logger
	db     *gorm.DB
	holder tenant.Holder
}

func main() {
	configPath := flag.String("config", "configs/tenantd.yaml", "path to the config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := conf.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tenantctl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{cfg: cfg, log: logger.NewLogger(cfg.Logger)}
	if err := c.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tenantctl %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	if cmd == "token" {
		return c.token(args)
	}

	var err error
	if c.db, err = openDB(c.cfg, c.log); err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := c.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	switch cmd {
	case "migrate":
		if err := model.Migrate(ctx, c.db); err != nil {
			return err
		}
		fmt.Println("migrated", len(model.All()), "tables")
		return nil
	case "seed":
		n, err := rbac.SeedPermissions(ctx, c.db)
		if err != nil {
			return err
		}
		fmt.Println("seeded", n, "permissions")
		return nil
	case "provision":
		return c.provision(ctx, args)
	case "check-access":
		return c.checkAccess(ctx, args)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func (c *cli) provision(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	tenants := fs.String("tenant", "", "comma separated tenant ids")
	all := fs.Bool("all", false, "provision every live tenant")
	concurrency := fs.Int("concurrency", c.cfg.Reconcile.Concurrency, "parallel tenants")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*tenants == "") == !*all {
		return errors.New("exactly one of --tenant or --all is required")
	}

	rcfg := c.cfg.Reconcile
	rcfg.Concurrency = *concurrency
	job := reconcile.NewJob(c.db, rbac.NewProvisioner(c.log), nil, nil, rcfg, c.log)

	var (
		report *reconcile.Report
		err    error
	)
	if *all {
		report, err = job.RunOnce(ctx)
	} else {
		report, err = job.RunTenants(ctx, splitIDs(*tenants)...)
	}
	if report != nil {
		printJSON(report)
	}
	return err
}

func (c *cli) checkAccess(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check-access", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id")
	userID := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" || *userID == "" {
		return errors.New("--tenant and --user are required")
	}

	svc, err := company.NewService(c.db, rbac.NewProvisioner(c.log), nil, nil, c.log)
	if err != nil {
		return err
	}
	allowed, err := svc.ValidateCompanyAccess(ctx, *tenantID, *userID)
	if err != nil {
		return err
	}
	out := map[string]any{"tenant_id": *tenantID, "user_id": *userID, "allowed": allowed}
	if !allowed {
		printJSON(out)
		return nil
	}

	return c.holder.Within(tenant.Context{TenantID: *tenantID, ActorID: actorID}, func() error {
		grant, err := rbac.NewResolver(c.db, c.log).Resolve(c.holder.Bind(ctx), *tenantID, *userID)
		if err != nil {
			return err
		}
		out["role"] = grant.Role
		out["permissions"] = grant.Permissions
		printJSON(out)
		return nil
	})
}

func (c *cli) token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "subject user id")
	email := fs.String("email", "", "email claim")
	name := fs.String("name", "", "name claim")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("--user is required")
	}
	if c.cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret is not configured")
	}
	tok, err := middleware.NewJWTAuthenticator(c.cfg.Auth.JWT).Issue(*userID, *email, *name, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

// openDB 不经过 fx，按配置打开数据库并安装租户守卫
func openDB(cfg *conf.AppConfig, log *logger.Logger) (*gorm.DB, error) {
	plugin := guard.NewPlugin(cfg.Tenancy.Guard, log)
	plugins := []gorm.Plugin{plugin}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Driver {
	case conf.DriverPostgres:
		db, err = postgres.NewDB(postgres.Params{Config: cfg.Database.Postgres, Logger: log, Plugins: plugins})
	case conf.DriverMySQL:
		db, err = mysql.NewDB(mysql.Params{Config: cfg.Database.MySQL, Logger: log, Plugins: plugins})
	default:
		db, err = sqlite.NewDB(sqlite.Params{Config: cfg.Database.SQLite, Logger: log, Plugins: plugins})
	}
	if err != nil {
		return nil, err
	}
	if err := plugin.Register(db, model.All()...); err != nil {
		return nil, err
	}
	return db, nil
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
