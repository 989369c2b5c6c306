package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	opshttp "github.com/Sentinel-Gate/tenantguard/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/tenantguard/internal/service"
)

var devMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the retention scheduler and the ops endpoints",
	Long: `Start tenantguard as a long-running process.

The process serves /healthz and /metrics on server.http_addr and, unless
retention.enabled is false, sweeps audit retention every retention.interval.

Press Ctrl+C (or run "tenantguard stop") to shut down gracefully.

Examples:
  # Start with the default config search path
  tenantguard serve

  # Start with debug logging and span export
  tenantguard serve --dev`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (debug logging, tracing)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(devMode)
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg.LogLevel)

	if cfg.Tracing.Enabled {
		shutdownTelemetry, err := setupTelemetry(os.Stderr)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(flushCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if cfg.Retention.Enabled {
		scheduler := service.NewRetentionScheduler(a.retention, a.planner,
			cfg.Retention.IntervalDuration(), cfg.Retention.Parallelism, logger)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	health := opshttp.NewHealthChecker(Version)
	for name, ping := range a.pingers {
		health.Register(name, opshttp.PingFunc(ping))
	}
	server := opshttp.NewOpsServer(
		opshttp.WithAddr(cfg.Server.HTTPAddr),
		opshttp.WithLogger(logger),
		opshttp.WithRegistry(a.registry),
		opshttp.WithHealthChecker(health),
	)

	logger.Info("tenantguard started",
		"version", Version,
		"storage", cfg.Storage.Driver,
		"retention", cfg.Retention.Enabled,
		"tracing", cfg.Tracing.Enabled,
	)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("ops server failed: %w", err)
	}
	logger.Info("tenantguard stopped")
	return nil
}
