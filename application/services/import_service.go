package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/domain/events"
	"mindgraph-backend/domain/graph"
	apperrors "mindgraph-backend/pkg/errors"
	"mindgraph-backend/pkg/observability"
)

// ImportService promotes candidate nodes parked on conversation
// messages into the user's graph. Candidates carry their own content,
// labels, position, and provenance; promotion marks them curated so a
// repeated import cannot duplicate them.
type ImportService struct {
	store     ports.DocumentStore
	messages  ports.MessageStore
	trigger   ports.SyncTrigger
	publisher ports.EventPublisher
	limits    ports.LimitsSource
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewImportService creates an ImportService.
func NewImportService(
	store ports.DocumentStore,
	messages ports.MessageStore,
	trigger ports.SyncTrigger,
	publisher ports.EventPublisher,
	limits ports.LimitsSource,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ImportService {
	return &ImportService{
		store:     store,
		messages:  messages,
		trigger:   trigger,
		publisher: publisher,
		limits:    limits,
		metrics:   metrics,
		logger:    logger,
	}
}

// ImportNodes resolves the requested candidate ids across the user's
// messages, appends the resolved candidates to the graph in one batch,
// flags them curated on their owning messages, and queues one embed
// batch for the new nodes. Fails with NotFound when nothing resolves.
func (s *ImportService) ImportNodes(ctx context.Context, userID string, nodeIDs []string) ([]*graph.Node, error) {
	if len(nodeIDs) == 0 {
		return nil, apperrors.NewValidationError("nodeIds must not be empty")
	}
	if s.limits != nil {
		if max := s.limits.Limits().MaxImportBatch; max > 0 && len(nodeIDs) > max {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("at most %d nodes can be imported per request", max))
		}
	}

	candidates, err := s.messages.FindCandidates(ctx, userID, nodeIDs)
	if err != nil {
		return nil, err
	}
	fresh := make([]*ports.CandidateNode, 0, len(candidates))
	for _, c := range candidates {
		if !c.Curated {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return nil, apperrors.NewNotFoundError("import candidates")
	}

	var created []*graph.Node
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		doc, err := s.loadOrNewDoc(ctx, userID)
		if err != nil {
			return nil, err
		}

		created = created[:0]
		embeds := make([]ports.NodeEmbedding, 0, len(fresh))
		for _, c := range fresh {
			messageID := c.MessageID
			var conversationID *string
			if c.ConversationID != "" {
				conv := c.ConversationID
				conversationID = &conv
			}
			node := doc.AddNode(graph.NodeParams{
				Content:              c.Content,
				Labels:               c.Labels,
				X:                    c.X,
				Y:                    c.Y,
				SourceMessageID:      &messageID,
				SourceConversationID: conversationID,
			})
			created = append(created, node)
			embeds = append(embeds, ports.NodeEmbedding{ID: node.ID, Content: node.Content})
		}

		if err := s.store.Save(ctx, doc, ports.EmbedNodesOp(userID, embeds...)); err != nil {
			if apperrors.IsConflict(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, lastErr
	}

	// The graph write has committed; the curated flags are write-behind.
	refs := make([]ports.CandidateRef, 0, len(fresh))
	for _, c := range fresh {
		refs = append(refs, ports.CandidateRef{MessageID: c.MessageID, NodeID: c.NodeID})
	}
	if err := s.messages.MarkCurated(ctx, userID, refs); err != nil {
		s.logger.Error("Failed to flag candidates as curated",
			zap.String("userID", userID),
			zap.Int("candidates", len(refs)),
			zap.Error(err),
		)
	}

	s.trigger.Nudge()
	s.metrics.MutationsTotal.WithLabelValues("import_nodes", "success").Inc()
	if s.publisher != nil {
		ids := make([]string, len(created))
		for i, n := range created {
			ids[i] = n.ID
		}
		if err := s.publisher.Publish(ctx, events.NewNodesImported(userID, ids)); err != nil {
			s.logger.Warn("Failed to publish import event", zap.Error(err))
		}
	}

	s.logger.Info("Imported candidate nodes",
		zap.String("userID", userID),
		zap.Int("requested", len(nodeIDs)),
		zap.Int("imported", len(created)),
	)
	return created, nil
}

func (s *ImportService) loadOrNewDoc(ctx context.Context, userID string) (*graph.Document, error) {
	doc, err := s.store.Get(ctx, userID)
	if err == nil {
		return doc, nil
	}
	if apperrors.IsNotFound(err) {
		return graph.NewDocument(userID), nil
	}
	return nil, err
}
