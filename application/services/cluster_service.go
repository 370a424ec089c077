package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/domain/events"
	"mindgraph-backend/domain/graph"
	apperrors "mindgraph-backend/pkg/errors"
	"mindgraph-backend/pkg/observability"
)

// umapScale maps the peer's normalized unit-square coordinates into the
// canvas coordinate space the clients render.
const umapScale = 250

// ClusterService asks the clustering peer for a fresh 2-D layout of the
// user's vectors and writes the scaled positions back onto the nodes.
type ClusterService struct {
	store     ports.DocumentStore
	peer      ports.EmbeddingPeer
	publisher ports.EventPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewClusterService creates a ClusterService.
func NewClusterService(
	store ports.DocumentStore,
	peer ports.EmbeddingPeer,
	publisher ports.EventPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ClusterService {
	return &ClusterService{
		store:     store,
		peer:      peer,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// CalculateCluster runs the peer's UMAP projection and applies the
// result to the user's document in a single save. Points whose ids no
// longer resolve (deleted since the last embed) are skipped with a
// warning. Returns the peer's raw normalized points.
func (s *ClusterService) CalculateCluster(ctx context.Context, userID string) ([]ports.LayoutPoint, error) {
	points, err := s.peer.ComputeLayout(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return points, nil
	}

	applied, skipped := 0, 0
	start := time.Now()
	err = s.applyLayout(ctx, userID, points, &applied, &skipped)
	s.metrics.ObserveMutation("apply_layout", start, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Applied cluster layout",
		zap.String("userID", userID),
		zap.Int("applied", applied),
		zap.Int("skipped", skipped),
	)
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.NewLayoutApplied(userID, applied, skipped)); err != nil {
			s.logger.Warn("Failed to publish layout event", zap.Error(err))
		}
	}
	return points, nil
}

func (s *ClusterService) applyLayout(ctx context.Context, userID string, points []ports.LayoutPoint, applied, skipped *int) error {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		doc, err := s.store.Get(ctx, userID)
		if err != nil {
			// A user with no document yet has nothing to lay out; the
			// peer's points are all stale.
			if apperrors.IsNotFound(err) {
				*applied, *skipped = 0, len(points)
				return nil
			}
			return err
		}

		*applied, *skipped = 0, 0
		for _, p := range points {
			node, ok := doc.FindNode(p.ID)
			if !ok {
				s.logger.Warn("Layout point for unknown node, skipping",
					zap.String("userID", userID),
					zap.String("nodeID", p.ID),
				)
				*skipped++
				continue
			}
			x := p.X * umapScale
			y := p.Y * umapScale
			if _, _, err := doc.UpdateNode(node.ID, graph.NodeUpdate{X: &x, Y: &y}); err != nil {
				*skipped++
				continue
			}
			*applied++
		}

		if err := s.store.Save(ctx, doc); err != nil {
			if apperrors.IsConflict(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}
