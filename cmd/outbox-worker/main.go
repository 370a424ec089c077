package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mindgraph-backend/infrastructure/config"
	"mindgraph-backend/infrastructure/di"
)

// Standalone outbox drainer. The API process runs the same
// synchronizer in-process; this worker covers deployments where the
// API runs on Lambda and cannot keep a background loop alive.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer container.Shutdown()

	container.Logger.Info("Starting outbox worker",
		zap.String("environment", cfg.Environment),
		zap.Duration("sweep_interval", cfg.OutboxSweepInterval),
	)
	container.Synchronizer.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	container.Logger.Info("Shutting down outbox worker...")
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := container.Synchronizer.Sweep(drainCtx); err != nil {
		container.Logger.Warn("Final outbox sweep failed", zap.Error(err))
	}
}
