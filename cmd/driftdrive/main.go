package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftdrive/driftdrive/internal/logger"
	"github.com/driftdrive/driftdrive/pkg/config"
	"github.com/driftdrive/driftdrive/pkg/engine"
	"github.com/driftdrive/driftdrive/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Override log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure logger
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.SetLevel(cfg.Logging.Level)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("DriftDrive - Storage & Metadata Consistency Engine")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics collection enabled")
	}

	// Create stores
	metaStore, err := config.CreateMetadataStore(ctx, &cfg.Metadata)
	if err != nil {
		log.Fatalf("Failed to create metadata store: %v", err)
	}

	blobStore, err := config.CreateContentStore(ctx, &cfg.Content)
	if err != nil {
		metaStore.Close()
		log.Fatalf("Failed to create content store: %v", err)
	}

	// Create engine
	eng := engine.New(metaStore, blobStore, cfg.Engine.Policy(), metrics.NewEngineMetrics())

	if err := eng.Healthcheck(ctx); err != nil {
		eng.Close()
		log.Fatalf("Healthcheck failed: %v", err)
	}

	logger.Info("Engine configuration:")
	logger.Info("  Metadata store: %s", cfg.Metadata.Type)
	logger.Info("  Content store: %s", cfg.Content.Type)
	if cfg.Engine.DefaultQuotaBytes > 0 {
		logger.Info("  Default quota: %d bytes", cfg.Engine.DefaultQuotaBytes)
	} else {
		logger.Info("  Default quota: unlimited")
	}
	logger.Info("  Trash retention: %v", cfg.Engine.TrashRetention)
	logger.Info("  Sweep interval: %v", cfg.Engine.SweepInterval)
	logger.Info("  Blob grace: %v", cfg.Engine.BlobGrace)

	eng.StartSweeper()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Engine is running. Press Ctrl+C to stop.")
	<-sigChan

	logger.Info("Shutdown signal received, initiating graceful shutdown...")
	cancel()

	if err := eng.Close(); err != nil {
		logger.Error("Shutdown error: %v", err)
		os.Exit(1)
	}
	logger.Info("Engine stopped gracefully")
}
