package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/domain/events"
	"mindgraph-backend/domain/graph"
	apperrors "mindgraph-backend/pkg/errors"
	"mindgraph-backend/pkg/observability"
)

// maxConflictRetries bounds the read-modify-write cycle when a
// concurrent writer bumps the document version under us.
const maxConflictRetries = 3

// GraphService owns every document mutation: load the user's document,
// apply the change in memory, save conditionally on version, enqueue
// index ops in the same transaction, then nudge the synchronizer.
type GraphService struct {
	store     ports.DocumentStore
	trigger   ports.SyncTrigger
	publisher ports.EventPublisher
	limits    ports.LimitsSource
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewGraphService creates a GraphService.
func NewGraphService(
	store ports.DocumentStore,
	trigger ports.SyncTrigger,
	publisher ports.EventPublisher,
	limits ports.LimitsSource,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *GraphService {
	return &GraphService{
		store:     store,
		trigger:   trigger,
		publisher: publisher,
		limits:    limits,
		metrics:   metrics,
		logger:    logger,
	}
}

// currentLimits reads a fresh limits snapshot. A nil source means no
// caps are enforced.
func (s *GraphService) currentLimits() ports.Limits {
	if s.limits == nil {
		return ports.Limits{}
	}
	return s.limits.Limits()
}

// CreateNodeInput carries the normalized fields for a new node.
type CreateNodeInput struct {
	Content              string
	Labels               []string
	X                    float64
	Y                    float64
	SourceMessageID      *string
	SourceConversationID *string
}

// UpdateNodeInput is a partial node update; nil fields are untouched.
// A non-nil empty Labels slice clears the labels.
type UpdateNodeInput struct {
	Content *string
	Labels  []string
	X       *float64
	Y       *float64
}

// EdgeInput addresses an edge by its ordered endpoint pair and carries
// the normalized label sequence.
type EdgeInput struct {
	Source string
	Target string
	Labels []string
}

// EdgeResult pairs the affected edge with the endpoint nodes whose
// UpdatedAt the mutation refreshed.
type EdgeResult struct {
	Edge  *graph.Edge   `json:"edge"`
	Nodes []*graph.Node `json:"nodes"`
}

// GetOrCreate returns the user's document, lazily creating an empty one
// on first access.
func (s *GraphService) GetOrCreate(ctx context.Context, userID string) (*graph.Document, error) {
	doc, err := s.store.Get(ctx, userID)
	if err == nil {
		return doc, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	doc = graph.NewDocument(userID)
	if err := s.store.Save(ctx, doc); err != nil {
		// A concurrent first access created it; theirs wins.
		if apperrors.IsConflict(err) {
			return s.store.Get(ctx, userID)
		}
		return nil, err
	}
	s.logger.Info("Created graph document", zap.String("userID", userID))
	return doc, nil
}

// GetGraph returns the user's graph, filtered to one conversation when
// conversationID is non-empty.
func (s *GraphService) GetGraph(ctx context.Context, userID, conversationID string) (graph.View, error) {
	doc, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return graph.View{}, err
	}
	if conversationID != "" {
		return doc.ViewByConversation(conversationID), nil
	}
	return doc.ViewAll(), nil
}

// CreateNode appends a new node and queues its content for embedding.
func (s *GraphService) CreateNode(ctx context.Context, userID string, in CreateNodeInput) (*graph.Node, error) {
	limits := s.currentLimits()
	if err := checkContentLength(in.Content, limits); err != nil {
		return nil, err
	}

	var node *graph.Node
	err := s.mutate(ctx, userID, "create_node", func(doc *graph.Document) ([]ports.IndexOp, []events.DomainEvent, error) {
		if limits.MaxNodesPerGraph > 0 && len(doc.Nodes) >= limits.MaxNodesPerGraph {
			return nil, nil, apperrors.NewValidationError(
				fmt.Sprintf("graph is at its limit of %d nodes", limits.MaxNodesPerGraph))
		}
		node = doc.AddNode(graph.NodeParams{
			Content:              in.Content,
			Labels:               in.Labels,
			X:                    in.X,
			Y:                    in.Y,
			SourceMessageID:      in.SourceMessageID,
			SourceConversationID: in.SourceConversationID,
		})
		ops := []ports.IndexOp{
			ports.EmbedNodesOp(userID, ports.NodeEmbedding{ID: node.ID, Content: node.Content}),
		}
		return ops, []events.DomainEvent{events.NewNodeCreated(userID, node.ID)}, nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// UpdateNode applies a partial update. Only a content change queues a
// re-embed; label and position changes are graph-local.
func (s *GraphService) UpdateNode(ctx context.Context, userID, nodeID string, in UpdateNodeInput) (*graph.Node, error) {
	if in.Content != nil {
		if err := checkContentLength(*in.Content, s.currentLimits()); err != nil {
			return nil, err
		}
	}

	var node *graph.Node
	err := s.mutate(ctx, userID, "update_node", func(doc *graph.Document) ([]ports.IndexOp, []events.DomainEvent, error) {
		updated, contentChanged, err := doc.UpdateNode(nodeID, graph.NodeUpdate{
			Content: in.Content,
			Labels:  in.Labels,
			X:       in.X,
			Y:       in.Y,
		})
		if err != nil {
			return nil, nil, apperrors.NewNotFoundError("node " + nodeID)
		}
		node = updated

		var ops []ports.IndexOp
		if contentChanged {
			ops = append(ops, ports.EmbedNodesOp(userID, ports.NodeEmbedding{ID: node.ID, Content: node.Content}))
		}
		return ops, []events.DomainEvent{events.NewNodeUpdated(userID, node.ID, contentChanged)}, nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// DeleteNodes removes the listed nodes and every incident edge, and
// queues vector deletion for all removed ids. Unknown ids are tolerated;
// the returned count echoes the request size.
func (s *GraphService) DeleteNodes(ctx context.Context, userID string, nodeIDs []string) (int, error) {
	if len(nodeIDs) == 0 {
		return 0, apperrors.NewValidationError("nodeIds must not be empty")
	}

	err := s.mutate(ctx, userID, "delete_nodes", func(doc *graph.Document) ([]ports.IndexOp, []events.DomainEvent, error) {
		removedNodes, removedEdges := doc.RemoveNodes(nodeIDs)

		vectorIDs := make([]string, 0, len(removedNodes)+len(removedEdges))
		for _, n := range removedNodes {
			vectorIDs = append(vectorIDs, n.ID)
		}
		for _, e := range removedEdges {
			vectorIDs = append(vectorIDs, e.ID)
		}

		var ops []ports.IndexOp
		if len(vectorIDs) > 0 {
			ops = append(ops, ports.DeleteVectorsOp(userID, vectorIDs...))
		}
		return ops, []events.DomainEvent{events.NewNodesDeleted(userID, nodeIDs, len(removedEdges))}, nil
	})
	if err != nil {
		return 0, err
	}
	return len(nodeIDs), nil
}

// CreateEdge connects the ordered (source, target) pair, merging labels
// into an existing edge for the pair instead of duplicating it.
func (s *GraphService) CreateEdge(ctx context.Context, userID string, in EdgeInput) (*EdgeResult, error) {
	if in.Source == "" || in.Target == "" {
		return nil, apperrors.NewValidationError("source and target are required")
	}
	if err := checkEdgeLabels(in.Labels, s.currentLimits()); err != nil {
		return nil, err
	}

	var result *EdgeResult
	err := s.mutate(ctx, userID, "create_edge", func(doc *graph.Document) ([]ports.IndexOp, []events.DomainEvent, error) {
		edge, endpoints, created := doc.ConnectNodes(in.Source, in.Target, in.Labels)
		result = &EdgeResult{Edge: edge, Nodes: endpoints}

		ops := []ports.IndexOp{ports.EmbedEdgesOp(userID, edgeEmbedding(edge))}
		return ops, []events.DomainEvent{events.NewEdgeUpserted(userID, edge.ID, edge.Source, edge.Target, created)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateEdge replaces the edge's label sequence wholesale. The edge
// must already exist for the pair.
func (s *GraphService) UpdateEdge(ctx context.Context, userID string, in EdgeInput) (*EdgeResult, error) {
	if err := checkEdgeLabels(in.Labels, s.currentLimits()); err != nil {
		return nil, err
	}

	var result *EdgeResult
	err := s.mutate(ctx, userID, "update_edge", func(doc *graph.Document) ([]ports.IndexOp, []events.DomainEvent, error) {
		edge, endpoints, err := doc.ReplaceEdgeLabels(in.Source, in.Target, in.Labels)
		if err != nil {
			return nil, nil, edgeNotFound(in.Source, in.Target)
		}
		result = &EdgeResult{Edge: edge, Nodes: endpoints}

		ops := []ports.IndexOp{ports.EmbedEdgesOp(userID, edgeEmbedding(edge))}
		return ops, []events.DomainEvent{events.NewEdgeUpdated(userID, edge.ID)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteEdge removes the edge for the pair and queues its vector for
// deletion.
func (s *GraphService) DeleteEdge(ctx context.Context, userID, source, target string) (*EdgeResult, error) {
	var result *EdgeResult
	err := s.mutate(ctx, userID, "delete_edge", func(doc *graph.Document) ([]ports.IndexOp, []events.DomainEvent, error) {
		edge, endpoints, err := doc.RemoveEdge(source, target)
		if err != nil {
			return nil, nil, edgeNotFound(source, target)
		}
		result = &EdgeResult{Edge: edge, Nodes: endpoints}

		ops := []ports.IndexOp{ports.DeleteVectorsOp(userID, edge.ID)}
		return ops, []events.DomainEvent{events.NewEdgeDeleted(userID, edge.ID)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClearGraph deletes the user's document and queues a full reset of
// their vectors. The reset rides the outbox, so a dead peer never
// reverts or blocks the deletion.
func (s *GraphService) ClearGraph(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID, ports.ResetOp(userID)); err != nil {
		s.metrics.MutationsTotal.WithLabelValues("clear_graph", "failure").Inc()
		return err
	}
	s.metrics.MutationsTotal.WithLabelValues("clear_graph", "success").Inc()
	s.publish(ctx, events.NewGraphCleared(userID))
	s.trigger.Nudge()
	s.logger.Info("Cleared graph document", zap.String("userID", userID))
	return nil
}

// mutate runs one read-modify-write cycle with bounded retry on version
// conflicts. The closure applies the change and returns the index ops
// to commit with it plus the events to publish after.
func (s *GraphService) mutate(
	ctx context.Context,
	userID string,
	operation string,
	apply func(doc *graph.Document) ([]ports.IndexOp, []events.DomainEvent, error),
) error {
	start := time.Now()
	defer func() {
		s.metrics.MutationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		doc, err := s.loadOrNew(ctx, userID)
		if err != nil {
			s.metrics.MutationsTotal.WithLabelValues(operation, "failure").Inc()
			return err
		}

		ops, evts, err := apply(doc)
		if err != nil {
			s.metrics.MutationsTotal.WithLabelValues(operation, "failure").Inc()
			return err
		}

		if err := s.store.Save(ctx, doc, ops...); err != nil {
			if apperrors.IsConflict(err) {
				lastErr = err
				s.logger.Debug("Version conflict, retrying mutation",
					zap.String("userID", userID),
					zap.String("operation", operation),
					zap.Int("attempt", attempt+1),
				)
				continue
			}
			s.metrics.MutationsTotal.WithLabelValues(operation, "failure").Inc()
			return err
		}

		s.metrics.MutationsTotal.WithLabelValues(operation, "success").Inc()
		for _, evt := range evts {
			s.publish(ctx, evt)
		}
		if len(ops) > 0 {
			s.trigger.Nudge()
		}
		return nil
	}

	s.metrics.MutationsTotal.WithLabelValues(operation, "conflict").Inc()
	s.logger.Warn("Mutation gave up after repeated version conflicts",
		zap.String("userID", userID),
		zap.String("operation", operation),
	)
	return lastErr
}

func (s *GraphService) loadOrNew(ctx context.Context, userID string) (*graph.Document, error) {
	doc, err := s.store.Get(ctx, userID)
	if err == nil {
		return doc, nil
	}
	if apperrors.IsNotFound(err) {
		return graph.NewDocument(userID), nil
	}
	return nil, err
}

// publish is best-effort: event delivery never fails a mutation.
func (s *GraphService) publish(ctx context.Context, evt events.DomainEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("Failed to publish graph event",
			zap.String("eventType", evt.GetEventType()),
			zap.Error(err),
		)
	}
}

// edgeEmbedding flattens an edge into its wire payload. The peer embeds
// one text per edge, so the label sequence joins into a single string.
func edgeEmbedding(edge *graph.Edge) ports.EdgeEmbedding {
	return ports.EdgeEmbedding{
		ID:       edge.ID,
		SourceID: edge.Source,
		TargetID: edge.Target,
		Label:    strings.Join(edge.Labels, ", "),
	}
}

func edgeNotFound(source, target string) error {
	return apperrors.NewNotFoundError("edge " + source + " -> " + target)
}

func checkContentLength(content string, limits ports.Limits) error {
	if limits.MaxContentLength > 0 && len(content) > limits.MaxContentLength {
		return apperrors.NewValidationError(
			fmt.Sprintf("content exceeds the maximum length of %d characters", limits.MaxContentLength))
	}
	return nil
}

func checkEdgeLabels(labels []string, limits ports.Limits) error {
	if limits.MaxLabelsPerEdge > 0 && len(labels) > limits.MaxLabelsPerEdge {
		return apperrors.NewValidationError(
			fmt.Sprintf("edges carry at most %d labels", limits.MaxLabelsPerEdge))
	}
	return nil
}
