package recommendations

import (
	"context"
	"sort"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/domain/graph"
)

// defaultLimit caps strategy output when the caller does not pass one.
const defaultLimit = 10

// peerStrategy delegates a method to the embedding peer, which holds
// the vector index the semantic strategies run on.
func peerStrategy(peer ports.EmbeddingPeer, method string) Strategy {
	return func(ctx context.Context, userID string, _ *graph.Document, params ports.RecommendParams) ([]ports.ScoredNode, error) {
		return peer.Recommend(ctx, userID, method, params)
	}
}

// oldOnes surfaces the nodes untouched the longest, oldest UpdatedAt
// first. Purely graph-local; no peer call.
func oldOnes(_ context.Context, _ string, doc *graph.Document, params ports.RecommendParams) ([]ports.ScoredNode, error) {
	nodes := make([]*graph.Node, len(doc.Nodes))
	copy(nodes, doc.Nodes)
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].UpdatedAt.Before(nodes[j].UpdatedAt)
	})

	limit := limitParam(params)
	if limit > len(nodes) {
		limit = len(nodes)
	}

	out := make([]ports.ScoredNode, 0, limit)
	for _, n := range nodes[:limit] {
		out = append(out, ports.ScoredNode{ID: n.ID})
	}
	return out, nil
}

// limitParam reads a numeric "limit" out of the per-method params.
// JSON numbers decode as float64; integers are tolerated for callers
// constructing params in-process.
func limitParam(params ports.RecommendParams) int {
	raw, ok := params["limit"]
	if !ok {
		return defaultLimit
	}
	switch v := raw.(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return defaultLimit
}
