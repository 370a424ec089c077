package di

import (
	"context"

	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/application/recommendations"
	"mindgraph-backend/application/services"
	"mindgraph-backend/infrastructure/config"
	"mindgraph-backend/infrastructure/embedding"
	"mindgraph-backend/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config         *config.Config
	Logger         *zap.Logger
	Tunables       *config.Watcher
	Metrics        *observability.Metrics
	DocumentStore  ports.DocumentStore
	OutboxStore    ports.OutboxStore
	MessageStore   ports.MessageStore
	EmbeddingPeer  ports.EmbeddingPeer
	Synchronizer   *embedding.Synchronizer
	EventPublisher ports.EventPublisher
	GraphService   *services.GraphService
	ClusterService *services.ClusterService
	ImportService  *services.ImportService
	Dispatcher     *recommendations.Dispatcher
}

// Start launches the container's background workers.
func (c *Container) Start(ctx context.Context) {
	c.Tunables.Start()
	c.Synchronizer.Start(ctx)
}

// Shutdown stops background workers and flushes the logger.
func (c *Container) Shutdown() {
	c.Synchronizer.Stop()
	c.Tunables.Stop()
	_ = c.Logger.Sync()
}
