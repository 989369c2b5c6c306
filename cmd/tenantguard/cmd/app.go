package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Sentinel-Gate/tenantguard/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/tenantguard/internal/adapter/outbound/sqlstore"
	"github.com/Sentinel-Gate/tenantguard/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/tenantguard/internal/config"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/audit"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/tenant"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/workspace"
	"github.com/Sentinel-Gate/tenantguard/internal/service"
)

// kindPolicyContext is the entity kind of stored policy contexts.
const kindPolicyContext = "policy_context"

// app holds the wired core for one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *service.Metrics

	auditStore audit.Store
	auditLog   *service.AuditLogger
	contexts   *service.StoredContexts
	resolver   *service.ContextResolver
	pipeline   *service.Pipeline
	tasks      *service.TaskService
	retention  *service.RetentionService
	planner    *service.RetentionPlanner

	pingers map[string]func(context.Context) error
	closers []io.Closer
}

// newApp wires every component from cfg for the long-running server.
// Extra pipeline options are appended after the metrics option.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...service.PipelineOption) (*app, error) {
	return wireApp(ctx, cfg, logger, os.Stdout, opts...)
}

// wireApp is newApp with an explicit console for the "stdout" audit mirror.
func wireApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, console io.Writer, opts ...service.PipelineOption) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		pingers:  make(map[string]func(context.Context) error),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = service.NewMetrics(a.registry)

	validate := validator.New(validator.WithRequiredStructEnabled())
	storeOpts := []tenant.StoreOption{
		tenant.WithValidator(validate),
		tenant.WithViolationReporter(a.metrics),
	}

	var (
		taskRepo    tenant.Repository[workspace.Task]
		boardRepo   tenant.Repository[workspace.Board]
		contextRepo tenant.Repository[policy.StoredContext]
	)
	switch cfg.Storage.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		db, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.Storage.Driver), cfg.Storage.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
		}
		a.closers = append(a.closers, db)
		a.pingers["database"] = db.Ping
		a.auditStore = sqlstore.NewAuditStore(db)
		taskRepo = sqlstore.NewRepository[workspace.Task](db, workspace.KindTask)
		boardRepo = sqlstore.NewRepository[workspace.Board](db, workspace.KindBoard)
		contextRepo = sqlstore.NewRepository[policy.StoredContext](db, kindPolicyContext)
	default:
		store, err := createAuditStore(cfg.Audit, console)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		a.pingers["audit"] = store.Ping
		a.auditStore = store
		taskRepo = memory.NewRepository[workspace.Task]()
		boardRepo = memory.NewRepository[workspace.Board]()
		contextRepo = memory.NewRepository[policy.StoredContext]()
	}

	// The contexts file replaces the backend as the context source.
	if cfg.Policy.ContextsFile != "" {
		fileStore := state.NewContextFileStore(cfg.Policy.ContextsFile, logger)
		if _, err := fileStore.Load(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load contexts file: %w", err)
		}
		contextRepo = fileStore
	}
	// Every context source lets the planner find tenant-scope retention
	// overrides across tenants.
	catalog, _ := contextRepo.(service.ContextCatalog)

	a.contexts = service.NewStoredContexts(
		tenant.NewStore[policy.StoredContext](kindPolicyContext, contextRepo, logger, storeOpts...), logger)
	a.resolver = service.NewContextResolver(a.contexts, policy.AuditLevel(cfg.Policy.DefaultAuditLevel), logger)

	a.auditLog = service.NewAuditLogger(a.auditStore, logger, service.WithAuditMetrics(a.metrics))
	pipelineOpts := append([]service.PipelineOption{service.WithPipelineMetrics(a.metrics)}, opts...)
	a.pipeline = service.NewPipeline(policy.NewEngine(), a.auditLog, logger, pipelineOpts...)
	a.tasks = service.NewTaskService(a.pipeline, a.resolver,
		tenant.NewStore[workspace.Task](workspace.KindTask, taskRepo, logger, storeOpts...),
		tenant.NewStore[workspace.Board](workspace.KindBoard, boardRepo, logger, storeOpts...),
	)

	a.retention = service.NewRetentionService(a.auditStore, logger, service.WithRetentionMetrics(a.metrics))
	configured := make([]service.TenantRetention, 0, len(cfg.Retention.Tenants))
	for _, tr := range cfg.Retention.Tenants {
		configured = append(configured, service.TenantRetention{TenantID: tr.TenantID, Days: tr.Days})
	}
	a.planner = service.NewRetentionPlanner(a.contexts, catalog, configured, cfg.Retention.DefaultDays)
	return a, nil
}

// Close releases storage handles in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// createAuditStore builds the memory audit store with its configured
// mirror. Output "stdout" writes to console.
func createAuditStore(cfg config.AuditConfig, console io.Writer) (*memory.MemoryAuditStore, error) {
	if path, ok := cfg.FilePath(); ok {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		return memory.NewAuditStoreWithWriter(f), nil
	}
	return memory.NewAuditStoreWithWriter(console), nil
}

// newLogger builds the process logger on stderr.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openApp loads config and wires the app for one-shot commands. Their
// results are JSON on stdout, so the audit mirror goes to stderr.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, err
	}
	return wireApp(ctx, cfg, newLogger(cfg.LogLevel), os.Stderr)
}
