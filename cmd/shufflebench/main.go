// Command shufflebench produces a configurable shuffle workload against
// the partition store, forces spilling under memory pressure, and
// verifies that every partition replays its buffers in append order.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dataflowlab/shuffle/internal/config"
	"github.com/dataflowlab/shuffle/internal/memory"
	"github.com/dataflowlab/shuffle/internal/observability"
	"github.com/dataflowlab/shuffle/internal/partition"
	"github.com/dataflowlab/shuffle/internal/server"
	"github.com/dataflowlab/shuffle/internal/spill"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Load configuration
	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize observability
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	logger.Info("starting shuffle workload",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Initialize the shared segment pool
	pool, err := memory.NewPool(memory.PoolConfig{
		SegmentSize:    cfg.Pool.SegmentSizeBytes,
		Segments:       cfg.Pool.Segments,
		RequestTimeout: time.Duration(cfg.Pool.RequestTimeoutMS) * time.Millisecond,
	}, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create segment pool: %w", err)
	}

	// Initialize the spill file layer
	spillMgr, err := spill.NewManager(spill.ManagerConfig{
		Dir:          cfg.Spill.Dir,
		FilePrefix:   cfg.Spill.FilePrefix,
		QueueDepth:   cfg.Spill.QueueDepth,
		SyncOnFinish: cfg.Spill.SyncOnFinish,
	}, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create spill manager: %w", err)
	}

	// Initialize the partition manager
	partitions := partition.NewManager(pool, spillMgr, logger, metrics)

	// Start HTTP servers for probes and metrics
	health := server.NewHealth(
		func() (string, string) {
			return "partitions", fmt.Sprintf("%d", partitions.Count())
		},
		func() (string, string) {
			return "pool", fmt.Sprintf("%d/%d segments free", pool.Available(), pool.Capacity())
		},
	)

	httpServer := server.NewServer(
		cfg.Observability.Health.Port,
		cfg.Observability.Metrics.Port,
		health,
		registry,
		logger,
	)
	httpServer.Start()

	logger.Info("application started successfully")

	// Run the workload until it completes or a signal arrives
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workloadErrChan := make(chan error, 1)
	go func() {
		workloadErrChan <- runWorkload(ctx, cfg.Workload, partitions, pool, logger)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var workloadErr error
	select {
	case <-sigChan:
		logger.Info("received termination signal")
		cancel()
		workloadErr = <-workloadErrChan
	case workloadErr = <-workloadErrChan:
	}

	// Graceful shutdown
	logger.Info("initiating graceful shutdown")
	health.BeginShutdown()

	if err := partitions.ReleaseAll(); err != nil {
		logger.Error("failed to release partitions", "error", err)
	}

	shutdownTimeout := time.Duration(cfg.Shutdown.GracePeriodSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down HTTP servers", "error", err)
	}

	if workloadErr != nil && !errors.Is(workloadErr, context.Canceled) {
		return workloadErr
	}

	logger.Info("application stopped successfully")
	return nil
}
