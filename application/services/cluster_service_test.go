package services

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/pkg/observability"
)

type fakeLayoutPeer struct {
	points []ports.LayoutPoint
	err    error
}

func (f *fakeLayoutPeer) EmbedNodes(_ context.Context, _ string, _ []ports.NodeEmbedding) error {
	return nil
}

func (f *fakeLayoutPeer) EmbedEdges(_ context.Context, _ string, _ []ports.EdgeEmbedding) error {
	return nil
}

func (f *fakeLayoutPeer) DeleteVectors(_ context.Context, _ string, _ []string) error { return nil }

func (f *fakeLayoutPeer) Reset(_ context.Context, _ string) error { return nil }

func (f *fakeLayoutPeer) ComputeLayout(_ context.Context, _ string) ([]ports.LayoutPoint, error) {
	return f.points, f.err
}

func (f *fakeLayoutPeer) Recommend(_ context.Context, _, _ string, _ ports.RecommendParams) ([]ports.ScoredNode, error) {
	return nil, nil
}

func newTestClusterService(store ports.DocumentStore, peer ports.EmbeddingPeer) *ClusterService {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewClusterService(store, peer, &fakePublisher{}, metrics, zap.NewNop())
}

func TestClusterService_ScalesAndPersistsLayout(t *testing.T) {
	store := newMemoryStore()
	graphSvc, _, _ := newTestGraphService(store)
	ctx := context.Background()

	a, err := graphSvc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "a"})
	require.NoError(t, err)
	b, err := graphSvc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "b"})
	require.NoError(t, err)

	peer := &fakeLayoutPeer{points: []ports.LayoutPoint{
		{ID: a.ID, X: 0.5, Y: -0.25},
		{ID: b.ID, X: 1.0, Y: 0.0},
	}}
	svc := newTestClusterService(store, peer)

	points, err := svc.CalculateCluster(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, peer.points, points, "raw normalized points come back unscaled")

	doc, err := graphSvc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	nodeA, _ := doc.FindNode(a.ID)
	assert.Equal(t, 125.0, nodeA.X)
	assert.Equal(t, -62.5, nodeA.Y)
	nodeB, _ := doc.FindNode(b.ID)
	assert.Equal(t, 250.0, nodeB.X)
}

func TestClusterService_SkipsUnknownIDs(t *testing.T) {
	store := newMemoryStore()
	graphSvc, _, _ := newTestGraphService(store)
	ctx := context.Background()

	a, err := graphSvc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "a"})
	require.NoError(t, err)

	peer := &fakeLayoutPeer{points: []ports.LayoutPoint{
		{ID: a.ID, X: 0.1, Y: 0.1},
		{ID: "deleted-node", X: 0.9, Y: 0.9},
	}}
	svc := newTestClusterService(store, peer)

	points, err := svc.CalculateCluster(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, points, 2)

	doc, err := graphSvc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	nodeA, _ := doc.FindNode(a.ID)
	assert.InDelta(t, 25.0, nodeA.X, 1e-9)
}

func TestClusterService_PeerFailureSurfaces(t *testing.T) {
	store := newMemoryStore()
	peer := &fakeLayoutPeer{err: errors.New("umap exploded")}
	svc := newTestClusterService(store, peer)

	_, err := svc.CalculateCluster(context.Background(), "user-1")
	assert.Error(t, err)
}

func TestClusterService_MissingDocumentIsNoop(t *testing.T) {
	store := newMemoryStore()
	peer := &fakeLayoutPeer{points: []ports.LayoutPoint{
		{ID: "stale-node", X: 0.5, Y: 0.5},
	}}
	svc := newTestClusterService(store, peer)

	points, err := svc.CalculateCluster(context.Background(), "user-1")
	require.NoError(t, err, "layout for an account with no document degrades to a no-op")
	assert.Len(t, points, 1)
	assert.Empty(t, store.docs, "no document is created as a side effect")
}

func TestClusterService_EmptyLayoutIsNoop(t *testing.T) {
	store := newMemoryStore()
	peer := &fakeLayoutPeer{}
	svc := newTestClusterService(store, peer)

	points, err := svc.CalculateCluster(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, points)
	assert.Empty(t, store.docs, "no document write for an empty layout")
}
