// Package recommendations routes recommendation requests to a fixed
// registry of named strategies and filters their output against the
// user's current graph membership.
package recommendations

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/domain/graph"
	apperrors "mindgraph-backend/pkg/errors"
)

// Strategy produces candidate nodes for a user. The document passed in
// is the current graph; strategies that consult the embedding peer may
// ignore it.
type Strategy func(ctx context.Context, userID string, doc *graph.Document, params ports.RecommendParams) ([]ports.ScoredNode, error)

// Dispatcher resolves a method name to its strategy, runs it, and
// drops result ids that no longer resolve in the graph. Strategy and
// transport failures degrade to an empty result; only an unknown
// method surfaces as an error.
type Dispatcher struct {
	store      ports.DocumentStore
	limits     ports.LimitsSource
	logger     *zap.Logger
	strategies map[string]Strategy
}

// NewDispatcher creates a Dispatcher with the standard registry:
// least_similar, synonyms, node_tag and edge_analogy run on the
// embedding peer; old_ones is computed from the graph alone.
func NewDispatcher(store ports.DocumentStore, peer ports.EmbeddingPeer, limits ports.LimitsSource, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		limits:     limits,
		logger:     logger,
		strategies: make(map[string]Strategy),
	}
	for _, method := range []string{"least_similar", "synonyms", "node_tag", "edge_analogy"} {
		d.strategies[method] = peerStrategy(peer, method)
	}
	d.strategies["old_ones"] = oldOnes
	return d
}

// Methods returns the registered method names, sorted.
func (d *Dispatcher) Methods() []string {
	methods := make([]string, 0, len(d.strategies))
	for name := range d.strategies {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

// GetRecommendations runs the named strategy for the user and returns
// its output restricted to nodes still present in the graph.
func (d *Dispatcher) GetRecommendations(ctx context.Context, userID, method string, params ports.RecommendParams) ([]ports.ScoredNode, error) {
	strategy, ok := d.strategies[method]
	if !ok {
		return nil, apperrors.NewValidationError(formatUnknownMethod(method, d.Methods()))
	}

	doc, err := d.store.Get(ctx, userID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return []ports.ScoredNode{}, nil
		}
		d.logger.Warn("Failed to load graph for recommendations",
			zap.String("userID", userID),
			zap.Error(err),
		)
		return []ports.ScoredNode{}, nil
	}

	candidates, err := strategy(ctx, userID, doc, params)
	if err != nil {
		d.logger.Warn("Recommendation strategy failed, degrading to empty",
			zap.String("userID", userID),
			zap.String("method", method),
			zap.Error(err),
		)
		return []ports.ScoredNode{}, nil
	}

	// Defend against ids deleted since the strategy's index snapshot.
	filtered := make([]ports.ScoredNode, 0, len(candidates))
	for _, c := range candidates {
		if doc.HasNode(c.ID) {
			filtered = append(filtered, c)
		}
	}
	if limit := d.resultCap(); limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// resultCap bounds result sizes regardless of the caller's limit
// param, so an oversized request cannot pull the whole index.
func (d *Dispatcher) resultCap() int {
	if d.limits == nil {
		return 0
	}
	return d.limits.Limits().RecommendLimitCap
}

func formatUnknownMethod(method string, valid []string) string {
	return "unknown recommendation method \"" + method + "\"; valid methods: " + strings.Join(valid, ", ")
}
