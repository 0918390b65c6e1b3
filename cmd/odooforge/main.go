package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hamzatrq/odoo-forge/internal/config"
	"github.com/hamzatrq/odoo-forge/internal/engine"
	"github.com/hamzatrq/odoo-forge/internal/knowledge"
	"github.com/hamzatrq/odoo-forge/internal/lockfile"
	"github.com/hamzatrq/odoo-forge/internal/odoorpc"
	"github.com/hamzatrq/odoo-forge/internal/pg"
	"github.com/hamzatrq/odoo-forge/internal/schema"
	"github.com/hamzatrq/odoo-forge/internal/snapshot"
	"github.com/hamzatrq/odoo-forge/internal/stack"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "up":
		upCmd(os.Args[2:])
	case "down":
		downCmd(os.Args[2:])
	case "status":
		statusCmd(os.Args[2:])
	case "logs":
		logsCmd(os.Args[2:])
	case "restart":
		restartCmd(os.Args[2:])
	case "health":
		healthCmd(os.Args[2:])
	case "install":
		modulesCmd(os.Args[2:], false)
	case "upgrade":
		modulesCmd(os.Args[2:], true)
	case "snapshot":
		snapshotCmd(os.Args[2:])
	case "diagnose":
		diagnoseCmd(os.Args[2:])
	case "verify":
		verifyCmd(os.Args[2:])
	case "list-custom":
		listCustomCmd(os.Args[2:])
	case "search":
		searchCmd(os.Args[2:])
	case "version":
		fmt.Printf("odooforge %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `odooforge

Usage:
  odooforge init [flags]
  odooforge up|down|status|restart [flags]
  odooforge logs [flags]
  odooforge health [flags]
  odooforge install|upgrade -modules <a,b> [flags]
  odooforge snapshot create|list|restore|delete|check|repair [flags]
  odooforge diagnose [flags]
  odooforge verify -module <name> | -views [flags]
  odooforge list-custom [flags]
  odooforge search <query>
  odooforge version

Commands:
  init        Write a config file for the target instance.
  up          Start the docker compose stack.
  down        Stop the stack (optionally removing volumes).
  status      Show container states.
  logs        Show recent service logs.
  restart     Restart the Odoo web service and wait for health.
  health      Probe the instance health endpoint.
  install     Install Odoo modules via the odoo CLI.
  upgrade     Upgrade Odoo modules via the odoo CLI.
  snapshot    Manage database snapshots (pg_dump/pg_restore).
  diagnose    Report database and host resource diagnostics.
  verify      Verify a module install or view definition integrity.
  list-custom Inventory customizations (manual models and fields).
  search      Search the built-in Odoo knowledge catalog.
  version     Print build information.

`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()
	return ctx, cancel
}

// loadConfig reads the config file, falling back to environment variables
// when the default config file does not exist.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(filepath.Clean(path))
	if err == nil {
		return cfg
	}
	if os.IsNotExist(err) && path == config.DefaultConfigPath() {
		cfg, envErr := config.FromEnv()
		if envErr != nil {
			fatalf("no config file and environment incomplete: %v", envErr)
		}
		return cfg
	}
	fatalf("failed to load config: %v", err)
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		fatalf("unknown log level: %s", cfg.LogLevel)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		fatalf("unknown log format: %s", cfg.LogFormat)
	}
	return slog.New(h)
}

func newController(cfg *config.Config, log *slog.Logger) *stack.Controller {
	ctl, err := stack.NewController(stack.Options{
		ComposePath: cfg.ComposePath,
		WebService:  cfg.WebService,
		DBService:   cfg.DBService,
		HealthURL:   strings.TrimRight(cfg.OdooURL, "/") + "/web/health",
		Logger:      log,
	})
	if err != nil {
		fatalf("failed to init stack controller: %v", err)
	}
	return ctl
}

func newSnapshotManager(cfg *config.Config, ctl *stack.Controller, log *slog.Logger) (*snapshot.Manager, func()) {
	store, err := snapshot.OpenStore(filepath.Join(cfg.StateDir, "snapshots.db"))
	if err != nil {
		fatalf("failed to open snapshot store: %v", err)
	}
	mgr, err := snapshot.NewManager(snapshot.Options{
		Store:  store,
		Stack:  ctl,
		Dir:    filepath.Join(cfg.StateDir, "snapshots"),
		PGUser: cfg.Postgres.User,
		Logger: log,
	})
	if err != nil {
		store.Close()
		fatalf("failed to init snapshot manager: %v", err)
	}
	return mgr, func() { store.Close() }
}

func newEngine(cfg *config.Config, db string, ctl *stack.Controller, snaps *snapshot.Manager, log *slog.Logger) *engine.Engine {
	rpc, err := odoorpc.NewClient(odoorpc.Options{
		URL:      cfg.OdooURL,
		DB:       db,
		Username: cfg.AdminUser,
		Password: cfg.AdminPassword,
		Logger:   log,
	})
	if err != nil {
		fatalf("failed to init rpc client: %v", err)
	}
	opts := engine.Options{
		RPC:      rpc,
		Stack:    ctl,
		Cache:    schema.NewCache(rpc, db, log),
		Database: db,
		Logger:   log,
	}
	if snaps != nil {
		opts.Snapshots = snaps
	}
	e, err := engine.New(opts)
	if err != nil {
		fatalf("failed to init engine: %v", err)
	}
	return e
}

func resolveDB(cfg *config.Config, flagDB string) string {
	db := strings.TrimSpace(flagDB)
	if db == "" {
		db = strings.TrimSpace(cfg.DefaultDB)
	}
	if db == "" {
		fatalf("no database: pass -db or set default_db in the config")
	}
	if err := schema.ValidateDBName(db); err != nil {
		fatalf("invalid database name: %v", err)
	}
	return db
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatalf("failed to encode output: %v", err)
	}
	fmt.Println(string(b))
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	odooURL := fs.String("url", "http://localhost:8069", "Odoo base URL")
	adminUser := fs.String("admin-user", "admin", "Odoo admin user")
	adminPassword := fs.String("admin-password", "", "Odoo admin password")
	masterPassword := fs.String("master-password", "", "Odoo master password")
	defaultDB := fs.String("db", "", "Default database")
	composePath := fs.String("compose-path", "", "Directory containing docker-compose.yml")
	pgHost := fs.String("pg-host", "localhost", "Postgres host")
	pgPort := fs.Int("pg-port", 5432, "Postgres port")
	pgUser := fs.String("pg-user", "odoo", "Postgres user")
	pgPassword := fs.String("pg-password", "odoo", "Postgres password")
	_ = fs.Parse(args)

	if *adminPassword == "" {
		fs.Usage()
		os.Exit(2)
	}

	cfg := &config.Config{
		OdooURL:        *odooURL,
		MasterPassword: *masterPassword,
		DefaultDB:      *defaultDB,
		AdminUser:      *adminUser,
		AdminPassword:  *adminPassword,
		ComposePath:    *composePath,
		Postgres: config.Postgres{
			Host:     *pgHost,
			Port:     *pgPort,
			User:     *pgUser,
			Password: *pgPassword,
		},
	}
	cfg.ApplyDefaults()
	if err := config.Save(filepath.Clean(*cfgPath), cfg); err != nil {
		fatalf("failed to write config: %v", err)
	}
	fmt.Printf("Config written: %s\n", filepath.Clean(*cfgPath))
}

func upCmd(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	wait := fs.Duration("wait", 3*time.Minute, "Health wait after start (0 to skip)")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	ctl := newController(cfg, log)

	ctx, cancel := signalContext()
	defer cancel()

	if err := ctl.Up(ctx); err != nil {
		fatalf("up failed: %v", err)
	}
	if *wait > 0 {
		if err := ctl.WaitHealthy(ctx, *wait); err != nil {
			fatalf("stack started but not healthy: %v", err)
		}
	}
	fmt.Println("Stack is up.")
}

func downCmd(args []string) {
	fs := flag.NewFlagSet("down", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	volumes := fs.Bool("volumes", false, "Also remove volumes (destroys all data)")
	confirm := fs.Bool("confirm", false, "Required together with -volumes")
	_ = fs.Parse(args)

	if *volumes && !*confirm {
		fatalf("refusing to remove volumes without -confirm")
	}

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	ctl := newController(cfg, log)

	ctx, cancel := signalContext()
	defer cancel()

	if err := ctl.Down(ctx, *volumes); err != nil {
		fatalf("down failed: %v", err)
	}
	fmt.Println("Stack is down.")
}

func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	ctl := newController(cfg, log)

	ctx, cancel := signalContext()
	defer cancel()

	states, err := ctl.Status(ctx)
	if err != nil {
		fatalf("status failed: %v", err)
	}
	printJSON(states)
}

func logsCmd(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	service := fs.String("service", "", "Compose service (default: web service)")
	lines := fs.Int("lines", 100, "Number of log lines")
	since := fs.String("since", "", "Only logs since (e.g. 10m, 1h)")
	grep := fs.String("grep", "", "Filter lines by case-insensitive regexp")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	ctl := newController(cfg, log)

	ctx, cancel := signalContext()
	defer cancel()

	out, err := ctl.Logs(ctx, *service, stack.LogsOptions{Lines: *lines, Since: *since, Grep: *grep})
	if err != nil {
		fatalf("logs failed: %v", err)
	}
	fmt.Print(out)
}

func restartCmd(args []string) {
	fs := flag.NewFlagSet("restart", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	service := fs.String("service", "", "Compose service (default: web service)")
	wait := fs.Duration("wait", 3*time.Minute, "Health wait after restart (0 to skip)")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	ctl := newController(cfg, log)

	ctx, cancel := signalContext()
	defer cancel()

	svc := *service
	if svc == "" {
		svc = ctl.WebService()
	}
	if err := ctl.RestartService(ctx, svc); err != nil {
		fatalf("restart failed: %v", err)
	}
	if *wait > 0 {
		if err := ctl.WaitHealthy(ctx, *wait); err != nil {
			fatalf("restarted but not healthy: %v", err)
		}
	}
	fmt.Printf("Service %s restarted.\n", svc)
}

func healthCmd(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	wait := fs.Duration("wait", 0, "Keep polling for up to this long")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	ctl := newController(cfg, log)

	ctx, cancel := signalContext()
	defer cancel()

	if *wait > 0 {
		if err := ctl.WaitHealthy(ctx, *wait); err != nil {
			fatalf("not healthy: %v", err)
		}
	} else if !ctl.Healthy(ctx) {
		fatalf("not healthy")
	}
	fmt.Println("Healthy.")
}

func modulesCmd(args []string, upgrade bool) {
	name := "install"
	if upgrade {
		name = "upgrade"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	db := fs.String("db", "", "Target database (default: config default_db)")
	modules := fs.String("modules", "", "Comma-separated module names")
	verify := fs.Bool("verify", true, "Verify module state and scan logs afterwards")
	_ = fs.Parse(args)

	list := splitModules(*modules)
	if len(list) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	ctl := newController(cfg, log)
	database := resolveDB(cfg, *db)

	ctx, cancel := signalContext()
	defer cancel()

	var out string
	var err error
	if upgrade {
		out, err = ctl.UpgradeModules(ctx, database, list)
	} else {
		out, err = ctl.InstallModules(ctx, database, list)
	}
	if err != nil {
		fatalf("%s failed: %v\n%s", name, err, out)
	}
	fmt.Printf("Modules %s: %s\n", name+"ed", strings.Join(list, ", "))

	if !*verify {
		return
	}
	eng := newEngine(cfg, database, ctl, nil, log)
	for _, mod := range list {
		report, err := eng.VerifyModuleInstalled(ctx, mod)
		if err != nil {
			fatalf("verification failed for %s: %v", mod, err)
		}
		printJSON(report)
	}
}

func splitModules(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func snapshotCmd(args []string) {
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("snapshot "+sub, flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	db := fs.String("db", "", "Target database (default: config default_db)")
	name := fs.String("name", "", "Snapshot name")
	desc := fs.String("description", "", "Snapshot description (create only)")
	confirm := fs.Bool("confirm", false, "Required for restore and delete")
	_ = fs.Parse(rest)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	ctl := newController(cfg, log)
	mgr, closeStore := newSnapshotManager(cfg, ctl, log)
	defer closeStore()

	ctx, cancel := signalContext()
	defer cancel()

	switch sub {
	case "create":
		database := resolveDB(cfg, *db)
		m, err := mgr.Create(ctx, database, *name, *desc)
		if err != nil {
			fatalf("snapshot create failed: %v", err)
		}
		printJSON(m)
	case "list":
		database := strings.TrimSpace(*db)
		if database == "" {
			database = strings.TrimSpace(cfg.DefaultDB)
		}
		list, err := mgr.List(ctx, database)
		if err != nil {
			fatalf("snapshot list failed: %v", err)
		}
		printJSON(list)
	case "restore":
		database := resolveDB(cfg, *db)
		lock, err := lockfile.ForDatabase(cfg.StateDir, database)
		if err != nil {
			fatalf("cannot restore: %v", err)
		}
		defer lock.Release()
		m, err := mgr.Restore(ctx, database, *name, *confirm)
		if err != nil {
			fatalf("snapshot restore failed: %v", err)
		}
		fmt.Printf("Restored %s into %s.\n", m.Name, database)
	case "delete":
		database := resolveDB(cfg, *db)
		if err := mgr.Delete(ctx, database, *name, *confirm); err != nil {
			fatalf("snapshot delete failed: %v", err)
		}
		fmt.Printf("Deleted snapshot %s.\n", *name)
	case "check":
		issues, err := mgr.Check(ctx)
		if err != nil {
			fatalf("snapshot check failed: %v", err)
		}
		printJSON(issues)
	case "repair":
		issues, err := mgr.Repair(ctx)
		if err != nil {
			fatalf("snapshot repair failed: %v", err)
		}
		printJSON(issues)
	default:
		printUsage()
		os.Exit(2)
	}
}

func diagnoseCmd(args []string) {
	fs := flag.NewFlagSet("diagnose", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	db := fs.String("db", "", "Target database (default: config default_db)")
	tables := fs.Int("tables", 10, "Number of largest tables to report")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	database := resolveDB(cfg, *db)

	dbc := pg.NewClient(pg.Options{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Logger:   log,
	})
	defer dbc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	type diagnosis struct {
		Database      string                 `json:"database"`
		DatabaseSize  string                 `json:"database_size,omitempty"`
		LargestTables []pg.TableSize         `json:"largest_tables,omitempty"`
		OrphanedViews []pg.OrphanedView      `json:"orphaned_views,omitempty"`
		Host          stack.ResourceSnapshot `json:"host"`
		Errors        []string               `json:"errors,omitempty"`
	}
	d := diagnosis{Database: database, Host: stack.Resources(ctx, cfg.StateDir)}

	size, err := dbc.DatabaseSize(ctx, database)
	if err != nil {
		d.Errors = append(d.Errors, fmt.Sprintf("database size: %v", err))
	} else {
		d.DatabaseSize = size
	}
	if d.LargestTables, err = dbc.TableSizes(ctx, database, *tables); err != nil {
		d.Errors = append(d.Errors, fmt.Sprintf("table sizes: %v", err))
	}
	if d.OrphanedViews, err = dbc.CheckViewIntegrity(ctx, database); err != nil {
		d.Errors = append(d.Errors, fmt.Sprintf("view integrity: %v", err))
	}
	printJSON(d)
}

func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	db := fs.String("db", "", "Target database (default: config default_db)")
	module := fs.String("module", "", "Module to verify")
	views := fs.Bool("views", false, "Verify view definition integrity")
	model := fs.String("model", "", "Restrict view verification to one model")
	_ = fs.Parse(args)

	if *module == "" && !*views {
		fs.Usage()
		os.Exit(2)
	}

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	ctl := newController(cfg, log)
	database := resolveDB(cfg, *db)
	eng := newEngine(cfg, database, ctl, nil, log)

	ctx, cancel := signalContext()
	defer cancel()

	if *module != "" {
		report, err := eng.VerifyModuleInstalled(ctx, *module)
		if err != nil {
			fatalf("verify failed: %v", err)
		}
		printJSON(report)
	}
	if *views {
		report, err := eng.VerifyViewIntegrity(ctx, *model)
		if err != nil {
			fatalf("verify failed: %v", err)
		}
		printJSON(report)
	}
}

func listCustomCmd(args []string) {
	fs := flag.NewFlagSet("list-custom", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	db := fs.String("db", "", "Target database (default: config default_db)")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := newLogger(cfg)
	ctl := newController(cfg, log)
	database := resolveDB(cfg, *db)
	eng := newEngine(cfg, database, ctl, nil, log)

	ctx, cancel := signalContext()
	defer cancel()

	inv, err := eng.ListCustom(ctx)
	if err != nil {
		fatalf("list-custom failed: %v", err)
	}
	printJSON(inv)
}

func searchCmd(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	category := fs.String("category", "", "Restrict module matches to a category")
	limit := fs.Int("limit", 10, "Maximum results")
	_ = fs.Parse(args)

	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		fs.Usage()
		os.Exit(2)
	}

	catalog := knowledge.NewCatalog()
	result := catalog.Search(knowledge.SearchRequest{
		Query:      query,
		MaxResults: *limit,
		Category:   *category,
	})
	printJSON(result)
}
