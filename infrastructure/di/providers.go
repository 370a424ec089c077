package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/application/recommendations"
	"mindgraph-backend/application/services"
	"mindgraph-backend/infrastructure/config"
	"mindgraph-backend/infrastructure/embedding"
	"mindgraph-backend/infrastructure/messaging/eventbridge"
	dynamostore "mindgraph-backend/infrastructure/persistence/dynamodb"
	"mindgraph-backend/pkg/observability"
)

// ProvideLogger creates the process logger.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProvideAWSConfig loads the AWS SDK configuration.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client.
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client.
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideTunables creates the hot-reload tunables watcher. An empty
// TunablesPath serves static defaults.
func ProvideTunables(cfg *config.Config, logger *zap.Logger) (*config.Watcher, error) {
	return config.NewWatcher(cfg.TunablesPath, logger)
}

// ProvideLimitsSource exposes the tunables as the application layer's
// operational caps.
func ProvideLimitsSource(tunables *config.Watcher) ports.LimitsSource {
	return tunables
}

// ProvideMetrics registers the service metrics on the default registry.
func ProvideMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.DefaultRegisterer)
}

// ProvideDocumentStore creates the per-user document store.
func ProvideDocumentStore(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.DocumentStore {
	return dynamostore.NewDocumentStore(client, cfg.DynamoDBTable, logger)
}

// ProvideOutboxStore creates the pending-index-op store.
func ProvideOutboxStore(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.OutboxStore {
	return dynamostore.NewOutboxStore(client, cfg.DynamoDBTable, logger)
}

// ProvideMessageStore creates the conversation message store.
func ProvideMessageStore(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.MessageStore {
	return dynamostore.NewMessageStore(client, cfg.DynamoDBTable, logger)
}

// ProvideEmbeddingPeer creates the embedding/clustering peer client.
func ProvideEmbeddingPeer(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (ports.EmbeddingPeer, error) {
	return embedding.NewClient(embedding.Config{
		BaseURL:      cfg.EmbeddingBaseURL,
		ServiceToken: cfg.EmbeddingServiceToken,
		Timeout:      cfg.EmbeddingTimeout,
	}, logger, metrics)
}

// ProvideSynchronizer creates the outbox synchronizer. Callers start
// and stop it around the process lifetime.
func ProvideSynchronizer(
	cfg *config.Config,
	outbox ports.OutboxStore,
	peer ports.EmbeddingPeer,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *embedding.Synchronizer {
	sync := embedding.NewSynchronizer(outbox, peer, metrics, logger)
	sync.Tune(cfg.OutboxSweepInterval, int32(cfg.OutboxBatchSize), cfg.OutboxMaxRetries)
	return sync
}

// ProvideSyncTrigger exposes the synchronizer as the mutation path's
// nudge handle.
func ProvideSyncTrigger(sync *embedding.Synchronizer) ports.SyncTrigger {
	return sync
}

// ProvideEventPublisher creates the EventBridge mutation event
// publisher.
func ProvideEventPublisher(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) ports.EventPublisher {
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideGraphService creates the graph mutation service.
func ProvideGraphService(
	store ports.DocumentStore,
	trigger ports.SyncTrigger,
	publisher ports.EventPublisher,
	limits ports.LimitsSource,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *services.GraphService {
	return services.NewGraphService(store, trigger, publisher, limits, metrics, logger)
}

// ProvideClusterService creates the layout service.
func ProvideClusterService(
	store ports.DocumentStore,
	peer ports.EmbeddingPeer,
	publisher ports.EventPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *services.ClusterService {
	return services.NewClusterService(store, peer, publisher, metrics, logger)
}

// ProvideImportService creates the candidate import service.
func ProvideImportService(
	store ports.DocumentStore,
	messages ports.MessageStore,
	trigger ports.SyncTrigger,
	publisher ports.EventPublisher,
	limits ports.LimitsSource,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *services.ImportService {
	return services.NewImportService(store, messages, trigger, publisher, limits, metrics, logger)
}

// ProvideDispatcher creates the recommendation dispatcher.
func ProvideDispatcher(store ports.DocumentStore, peer ports.EmbeddingPeer, limits ports.LimitsSource, logger *zap.Logger) *recommendations.Dispatcher {
	return recommendations.NewDispatcher(store, peer, limits, logger)
}
