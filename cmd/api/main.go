package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mindgraph-backend/infrastructure/config"
	"mindgraph-backend/infrastructure/di"
	"mindgraph-backend/interfaces/http/rest"
)

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

	container.Tunables.OnChange(func(t *config.Tunables) {
		container.Logger.Info("Tunables reloaded",
			zap.String("version", t.Metadata.Version),
		)
	})

	// Background delivery of queued index operations to the
	// embedding peer, plus the tunables watcher.
	container.Start(ctx)

	router := rest.NewRouter(
		cfg,
		container.Tunables,
		container.GraphService,
		container.ClusterService,
		container.ImportService,
		container.Dispatcher,
		container.Logger,
	)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		container.Logger.Info("Starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	container.Logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Server shutdown error", zap.Error(err))
	}

	// Flush any queued index operations before exiting.
	if err := container.Synchronizer.Sweep(shutdownCtx); err != nil {
		container.Logger.Warn("Final outbox sweep failed", zap.Error(err))
	}

	log.Println("Server stopped")
}
