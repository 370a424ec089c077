//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"mindgraph-backend/infrastructure/config"
)

// SuperSet is the main provider set containing all providers.
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideMetrics,
	ProvideTunables,
	ProvideLimitsSource,
	ProvideDocumentStore,
	ProvideOutboxStore,
	ProvideMessageStore,
	ProvideEmbeddingPeer,
	ProvideSynchronizer,
	ProvideSyncTrigger,
	ProvideEventPublisher,
	ProvideGraphService,
	ProvideClusterService,
	ProvideImportService,
	ProvideDispatcher,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}
