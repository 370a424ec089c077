package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/pkg/observability"
)

// Synchronizer drains the index outbox in the background, replaying
// pending operations against the embedding peer until each delivers or
// exhausts its retry budget. Mutations nudge it for immediate delivery;
// the ticker covers ops that raced a nudge or failed a previous sweep.
type Synchronizer struct {
	outbox  ports.OutboxStore
	peer    ports.EmbeddingPeer
	metrics *observability.Metrics
	logger  *zap.Logger

	batchSize     int32
	sweepInterval time.Duration
	maxRetries    int

	nudgeChan   chan struct{}
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

var _ ports.SyncTrigger = (*Synchronizer)(nil)

// NewSynchronizer creates a Synchronizer with production defaults.
func NewSynchronizer(
	outbox ports.OutboxStore,
	peer ports.EmbeddingPeer,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Synchronizer {
	return &Synchronizer{
		outbox:        outbox,
		peer:          peer,
		metrics:       metrics,
		logger:        logger,
		batchSize:     50,
		sweepInterval: 5 * time.Second,
		maxRetries:    3,
		nudgeChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		stoppedChan:   make(chan struct{}),
	}
}

// Tune overrides the sweep cadence and retry budget. Call before
// Start; non-positive values keep the current setting.
func (s *Synchronizer) Tune(interval time.Duration, batchSize int32, maxRetries int) {
	if interval > 0 {
		s.sweepInterval = interval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if maxRetries > 0 {
		s.maxRetries = maxRetries
	}
}

// Start begins the background sweep loop.
func (s *Synchronizer) Start(ctx context.Context) {
	s.logger.Info("Starting index synchronizer",
		zap.Int32("batchSize", s.batchSize),
		zap.Duration("interval", s.sweepInterval),
	)
	go s.sweepLoop(ctx)
}

// Stop gracefully stops the synchronizer.
func (s *Synchronizer) Stop() {
	s.logger.Info("Stopping index synchronizer")
	close(s.stopChan)
	<-s.stoppedChan
	s.logger.Info("Index synchronizer stopped")
}

// Nudge requests an immediate sweep. Non-blocking; a sweep already
// queued absorbs the request.
func (s *Synchronizer) Nudge() {
	select {
	case s.nudgeChan <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) sweepLoop(ctx context.Context) {
	defer close(s.stoppedChan)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Context cancelled, stopping index synchronizer")
			return
		case <-s.stopChan:
			return
		case <-s.nudgeChan:
		case <-ticker.C:
		}

		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("Index sweep failed", zap.Error(err))
		}
	}
}

// Sweep delivers one batch of pending ops. Exported so the worker
// entrypoint can drive it directly.
func (s *Synchronizer) Sweep(ctx context.Context) error {
	pending, err := s.outbox.Pending(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to load pending index ops: %w", err)
	}
	s.metrics.OutboxPending.Set(float64(len(pending)))
	if len(pending) == 0 {
		return nil
	}

	s.logger.Debug("Delivering index ops", zap.Int("count", len(pending)))

	delivered := 0
	failed := 0
	for _, record := range pending {
		if err := s.deliver(ctx, record); err != nil {
			failed++
		} else {
			delivered++
		}
	}

	s.logger.Debug("Index sweep complete",
		zap.Int("delivered", delivered),
		zap.Int("failed", failed),
	)
	return nil
}

func (s *Synchronizer) deliver(ctx context.Context, record *ports.OutboxRecord) error {
	if err := s.apply(ctx, record.Op); err != nil {
		return s.recordFailure(ctx, record, err)
	}

	if err := s.outbox.MarkDelivered(ctx, record.ID); err != nil {
		s.logger.Error("Failed to mark index op delivered",
			zap.String("opID", record.ID),
			zap.Error(err),
		)
		return err
	}
	s.metrics.OutboxDeliveries.WithLabelValues("delivered").Inc()
	return nil
}

// apply replays one op against the peer. Replays run under the service
// credential; the original caller's token is gone by the time the sweep
// runs.
func (s *Synchronizer) apply(ctx context.Context, op ports.IndexOp) error {
	switch op.Kind {
	case ports.IndexOpEmbedNodes:
		return s.peer.EmbedNodes(ctx, op.UserID, op.Nodes)
	case ports.IndexOpEmbedEdges:
		return s.peer.EmbedEdges(ctx, op.UserID, op.Edges)
	case ports.IndexOpDeleteVectors:
		return s.peer.DeleteVectors(ctx, op.UserID, op.IDs)
	case ports.IndexOpReset:
		return s.peer.Reset(ctx, op.UserID)
	default:
		return fmt.Errorf("unknown index op kind %q", op.Kind)
	}
}

func (s *Synchronizer) recordFailure(ctx context.Context, record *ports.OutboxRecord, cause error) error {
	attempts := record.Attempts + 1

	if attempts >= s.maxRetries {
		s.logger.Warn("Index op permanently failed after max retries",
			zap.String("opID", record.ID),
			zap.String("kind", string(record.Op.Kind)),
			zap.String("userID", record.Op.UserID),
			zap.Int("attempts", attempts),
			zap.Error(cause),
		)
		s.metrics.OutboxDeliveries.WithLabelValues("exhausted").Inc()
		if err := s.outbox.MarkFailed(ctx, record.ID, attempts, cause.Error()); err != nil {
			s.logger.Error("Failed to park index op",
				zap.String("opID", record.ID),
				zap.Error(err),
			)
		}
		return cause
	}

	s.logger.Debug("Index op marked for retry",
		zap.String("opID", record.ID),
		zap.String("kind", string(record.Op.Kind)),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	s.metrics.OutboxDeliveries.WithLabelValues("retry").Inc()
	if err := s.outbox.MarkRetrying(ctx, record.ID, attempts, cause.Error()); err != nil {
		s.logger.Error("Failed to record index op retry",
			zap.String("opID", record.ID),
			zap.Error(err),
		)
	}
	return cause
}
