package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/pairdb/txcoordinator/internal/config"
	"github.com/devrev/pairdb/txcoordinator/internal/health"
	"github.com/devrev/pairdb/txcoordinator/internal/logger"
	"github.com/devrev/pairdb/txcoordinator/internal/metrics"
	"github.com/devrev/pairdb/txcoordinator/internal/recovery"
	"github.com/devrev/pairdb/txcoordinator/internal/server"
	"github.com/devrev/pairdb/txcoordinator/internal/service"
	"github.com/devrev/pairdb/txcoordinator/internal/storage/diskmanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, closeLog, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	exitCode := 0
	if err := run(cfg, log); err != nil {
		log.Error("Transaction coordinator failed", zap.Error(err))
		exitCode = 1
	}

	_ = log.Sync()
	_ = closeLog()
	os.Exit(exitCode)
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("log_dir", cfg.LoggingSystem.Directory),
		zap.Int("resources", len(cfg.Resources)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(cfg.Server.NodeID, reg)

	// Transaction log
	if err := os.MkdirAll(cfg.LoggingSystem.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	disk, err := diskmanager.NewDiskManager(diskmanager.DefaultConfig(cfg.LoggingSystem.Directory), log)
	if err != nil {
		return err
	}
	compactor, _ := service.NewCompactor(cfg.LoggingSystem.Compaction)

	logSvc, err := service.NewLoggingService(
		cfg.LoggingSystem.ServiceConfig(),
		log,
		service.WithMetrics(m),
		service.WithCompactor(compactor),
		service.WithDiskGuard(disk),
	)
	if err != nil {
		return fmt.Errorf("failed to open transaction log: %w", err)
	}
	defer func() {
		if err := logSvc.Shutdown(); err != nil {
			log.Error("Failed to shut down transaction log", zap.Error(err))
		}
	}()

	// Recovery tables
	adapters := make([]*recovery.Adapter, 0, len(cfg.Resources))
	defer func() {
		for _, a := range adapters {
			if err := a.Close(); err != nil {
				log.Warn("Failed to close recovery table", zap.String("resource_id", a.ResourceID()), zap.Error(err))
			}
		}
	}()
	for _, rc := range cfg.Resources {
		table, err := recovery.OpenTable(ctx, rc.TableOptions(), log)
		if err != nil {
			return fmt.Errorf("failed to open recovery table for %s: %w", rc.ID, err)
		}
		adapters = append(adapters, recovery.NewAdapter(rc.ID, table, log, m))
		log.Info("Recovery table opened",
			zap.String("resource_id", rc.ID),
			zap.String("driver", rc.Driver))
	}

	if cfg.Recovery.Enabled {
		scanners := make([]service.BranchScanner, 0, len(adapters))
		for _, a := range adapters {
			scanners = append(scanners, a)
		}
		recoverySvc := service.NewRecoveryService(logSvc, scanners, cfg.Recovery.ServiceConfig(), log, m)

		report, err := recoverySvc.Run(ctx)
		if err != nil {
			return fmt.Errorf("recovery failed: %w", err)
		}
		for resourceID, scanErr := range report.Errors {
			log.Warn("Resource not recovered",
				zap.String("resource_id", resourceID),
				zap.Error(scanErr))
		}
		for _, b := range report.Filter(service.Orphaned) {
			log.Info("Orphaned branch pending rollback",
				zap.String("resource_id", b.ResourceID),
				zap.Stringer("xid", b.Xid))
		}
	}

	// Health checks
	pingers := make([]health.Pinger, 0, len(adapters))
	for _, a := range adapters {
		pingers = append(pingers, a)
	}
	checker := health.NewChecker(health.DefaultConfig(cfg.Server.NodeID), disk, pingers, m, log)
	checkCtx, cancelChecks := context.WithCancel(ctx)
	defer cancelChecks()
	go checker.Start(checkCtx)

	// Metrics server
	var metricsSrv *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsSrv = server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, reg, checker, log)
		if err := metricsSrv.Start(); err != nil {
			return err
		}
	}

	log.Info("Transaction coordinator started",
		zap.String("node_id", cfg.Server.NodeID),
		zap.Stringer("log_state", logSvc.State()))

	<-ctx.Done()
	log.Info("Shutting down gracefully...")
	checker.SetDraining()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop metrics server", zap.Error(err))
		}
	}
	return nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}
