package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/domain/events"
	"mindgraph-backend/domain/graph"
	apperrors "mindgraph-backend/pkg/errors"
	"mindgraph-backend/pkg/observability"
)

// memoryStore is an in-memory ports.DocumentStore with real version
// checking, so conflict-retry paths behave like DynamoDB's conditional
// writes.
type memoryStore struct {
	mu        sync.Mutex
	docs      map[string]*graph.Document
	ops       []ports.IndexOp
	conflicts int // inject this many artificial conflicts before accepting
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[string]*graph.Document)}
}

func (m *memoryStore) Get(_ context.Context, userID string) (*graph.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[userID]
	if !ok {
		return nil, apperrors.NewNotFoundError("graph document")
	}
	clone := *doc
	return &clone, nil
}

func (m *memoryStore) Save(_ context.Context, doc *graph.Document, ops ...ports.IndexOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return apperrors.NewConflictError("version mismatch")
	}
	if stored, ok := m.docs[doc.UserID]; ok && stored.Version != doc.Version {
		return apperrors.NewConflictError("version mismatch")
	}
	doc.Version++
	clone := *doc
	m.docs[doc.UserID] = &clone
	m.ops = append(m.ops, ops...)
	return nil
}

func (m *memoryStore) Delete(_ context.Context, userID string, ops ...ports.IndexOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, userID)
	m.ops = append(m.ops, ops...)
	return nil
}

type fakeTrigger struct{ nudges int }

func (f *fakeTrigger) Nudge() { f.nudges++ }

type fakePublisher struct{ events []events.DomainEvent }

func (f *fakePublisher) Publish(_ context.Context, evt events.DomainEvent) error {
	f.events = append(f.events, evt)
	return nil
}

type staticLimits struct{ limits ports.Limits }

func (s staticLimits) Limits() ports.Limits { return s.limits }

func newTestGraphService(store ports.DocumentStore) (*GraphService, *fakeTrigger, *fakePublisher) {
	return newLimitedGraphService(store, ports.Limits{})
}

func newLimitedGraphService(store ports.DocumentStore, limits ports.Limits) (*GraphService, *fakeTrigger, *fakePublisher) {
	trigger := &fakeTrigger{}
	publisher := &fakePublisher{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewGraphService(store, trigger, publisher, staticLimits{limits}, metrics, zap.NewNop()), trigger, publisher
}

func TestGraphService_GetOrCreateIsLazy(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)

	doc, err := svc.GetOrCreate(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", doc.UserID)
	assert.Empty(t, doc.Nodes)

	again, err := svc.GetOrCreate(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, doc.UserID, again.UserID)
	assert.Len(t, store.docs, 1)
}

func TestGraphService_CreateNodeQueuesEmbedding(t *testing.T) {
	store := newMemoryStore()
	svc, trigger, publisher := newTestGraphService(store)

	node, err := svc.CreateNode(context.Background(), "user-1", CreateNodeInput{
		Content: "quantum entanglement",
		Labels:  []string{"physics"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, node.ID)

	require.Len(t, store.ops, 1)
	assert.Equal(t, ports.IndexOpEmbedNodes, store.ops[0].Kind)
	assert.Equal(t, "quantum entanglement", store.ops[0].Nodes[0].Content)
	assert.Equal(t, 1, trigger.nudges)
	require.Len(t, publisher.events, 1)
	assert.Equal(t, "graph.node_created", publisher.events[0].GetEventType())
}

func TestGraphService_UpdateNodeReembedsOnlyOnContentChange(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)
	ctx := context.Background()

	node, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "original"})
	require.NoError(t, err)
	store.ops = nil

	x := 3.5
	_, err = svc.UpdateNode(ctx, "user-1", node.ID, UpdateNodeInput{X: &x})
	require.NoError(t, err)
	assert.Empty(t, store.ops, "position-only update must not re-embed")

	content := "revised"
	updated, err := svc.UpdateNode(ctx, "user-1", node.ID, UpdateNodeInput{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "revised", updated.Content)
	require.Len(t, store.ops, 1)
	assert.Equal(t, ports.IndexOpEmbedNodes, store.ops[0].Kind)
}

func TestGraphService_UpdateNodeUnknownIDIsNotFound(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)

	content := "x"
	_, err := svc.UpdateNode(context.Background(), "user-1", "missing", UpdateNodeInput{Content: &content})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGraphService_DeleteNodesCascadesAndQueuesVectorDelete(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)
	ctx := context.Background()

	a, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "a"})
	require.NoError(t, err)
	b, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "b"})
	require.NoError(t, err)
	result, err := svc.CreateEdge(ctx, "user-1", EdgeInput{Source: a.ID, Target: b.ID})
	require.NoError(t, err)
	store.ops = nil

	count, err := svc.DeleteNodes(ctx, "user-1", []string{a.ID, "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 2, count, "count echoes the request, unknown ids tolerated")

	require.Len(t, store.ops, 1)
	assert.Equal(t, ports.IndexOpDeleteVectors, store.ops[0].Kind)
	assert.ElementsMatch(t, []string{a.ID, result.Edge.ID}, store.ops[0].IDs)

	doc, err := svc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 1)
	assert.Empty(t, doc.Edges)
}

func TestGraphService_DeleteNodesRejectsEmptyList(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)

	_, err := svc.DeleteNodes(context.Background(), "user-1", nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestGraphService_CreateEdgeMergesOnSecondConnect(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)
	ctx := context.Background()

	a, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "idea1"})
	require.NoError(t, err)
	b, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "idea2"})
	require.NoError(t, err)

	first, err := svc.CreateEdge(ctx, "user-1", EdgeInput{Source: a.ID, Target: b.ID, Labels: []string{"원인-결과"}})
	require.NoError(t, err)
	second, err := svc.CreateEdge(ctx, "user-1", EdgeInput{Source: a.ID, Target: b.ID, Labels: []string{"대안-선택지"}})
	require.NoError(t, err)

	assert.Equal(t, first.Edge.ID, second.Edge.ID)
	assert.Equal(t, []string{"원인-결과", "대안-선택지"}, second.Edge.Labels)
	assert.Len(t, second.Nodes, 2)

	doc, err := svc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, doc.Edges, 1)
}

func TestGraphService_UpdateEdgeReplacesLabels(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)
	ctx := context.Background()

	a, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "a"})
	require.NoError(t, err)
	b, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "b"})
	require.NoError(t, err)
	_, err = svc.CreateEdge(ctx, "user-1", EdgeInput{Source: a.ID, Target: b.ID, Labels: []string{"old-1", "old-2"}})
	require.NoError(t, err)
	store.ops = nil

	result, err := svc.UpdateEdge(ctx, "user-1", EdgeInput{Source: a.ID, Target: b.ID, Labels: []string{"유사/연관"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"유사/연관"}, result.Edge.Labels)

	require.Len(t, store.ops, 1)
	assert.Equal(t, ports.IndexOpEmbedEdges, store.ops[0].Kind)
	assert.Equal(t, "유사/연관", store.ops[0].Edges[0].Label)
}

func TestGraphService_UpdateEdgeMissingPairIsNotFound(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)

	_, err := svc.UpdateEdge(context.Background(), "user-1", EdgeInput{Source: "x", Target: "y"})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGraphService_DeleteEdgeQueuesVectorDelete(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)
	ctx := context.Background()

	a, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "a"})
	require.NoError(t, err)
	b, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "b"})
	require.NoError(t, err)
	created, err := svc.CreateEdge(ctx, "user-1", EdgeInput{Source: a.ID, Target: b.ID})
	require.NoError(t, err)
	store.ops = nil

	result, err := svc.DeleteEdge(ctx, "user-1", a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Edge.ID, result.Edge.ID)

	require.Len(t, store.ops, 1)
	assert.Equal(t, ports.IndexOpDeleteVectors, store.ops[0].Kind)
	assert.Equal(t, []string{created.Edge.ID}, store.ops[0].IDs)

	_, err = svc.DeleteEdge(ctx, "user-1", a.ID, b.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGraphService_ClearGraphQueuesReset(t *testing.T) {
	store := newMemoryStore()
	svc, trigger, _ := newTestGraphService(store)
	ctx := context.Background()

	_, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "a"})
	require.NoError(t, err)
	store.ops = nil

	require.NoError(t, svc.ClearGraph(ctx, "user-1"))
	require.Len(t, store.ops, 1)
	assert.Equal(t, ports.IndexOpReset, store.ops[0].Kind)
	assert.Positive(t, trigger.nudges)

	doc, err := svc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, doc.Nodes)
}

func TestGraphService_MutationRetriesThroughConflicts(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)
	store.conflicts = 2 // two losers before the write lands

	node, err := svc.CreateNode(context.Background(), "user-1", CreateNodeInput{Content: "persistent"})
	require.NoError(t, err)
	assert.NotEmpty(t, node.ID)
}

func TestGraphService_MutationSurfacesConflictAfterBudget(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)
	store.conflicts = maxConflictRetries

	_, err := svc.CreateNode(context.Background(), "user-1", CreateNodeInput{Content: "x"})
	assert.True(t, apperrors.IsConflict(err))
}

func TestGraphService_GetGraphFiltersByConversation(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newTestGraphService(store)
	ctx := context.Background()
	conv := "conv-1"

	inConv, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "a", SourceConversationID: &conv})
	require.NoError(t, err)
	outside, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "b"})
	require.NoError(t, err)
	_, err = svc.CreateEdge(ctx, "user-1", EdgeInput{Source: inConv.ID, Target: outside.ID})
	require.NoError(t, err)

	view, err := svc.GetGraph(ctx, "user-1", conv)
	require.NoError(t, err)
	require.Len(t, view.Nodes, 1)
	assert.Equal(t, inConv.ID, view.Nodes[0].ID)
	assert.Empty(t, view.Edges, "edge with one endpoint outside the conversation is excluded")

	full, err := svc.GetGraph(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Len(t, full.Nodes, 2)
	assert.Len(t, full.Edges, 1)
}

func TestGraphService_CreateNodeRejectsOversizedContent(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newLimitedGraphService(store, ports.Limits{MaxContentLength: 20})
	ctx := context.Background()

	_, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: strings.Repeat("a", 21)})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Empty(t, store.docs)

	_, err = svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: strings.Repeat("a", 20)})
	require.NoError(t, err)
}

func TestGraphService_UpdateNodeRejectsOversizedContent(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newLimitedGraphService(store, ports.Limits{MaxContentLength: 20})
	ctx := context.Background()

	node, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "short"})
	require.NoError(t, err)

	long := strings.Repeat("b", 21)
	_, err = svc.UpdateNode(ctx, "user-1", node.ID, UpdateNodeInput{Content: &long})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestGraphService_CreateNodeRejectsFullGraph(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newLimitedGraphService(store, ports.Limits{MaxNodesPerGraph: 2})
	ctx := context.Background()

	_, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "one"})
	require.NoError(t, err)
	_, err = svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "two"})
	require.NoError(t, err)

	_, err = svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "three"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	doc, err := svc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 2)
}

func TestGraphService_CreateEdgeRejectsTooManyLabels(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newLimitedGraphService(store, ports.Limits{MaxLabelsPerEdge: 2})
	ctx := context.Background()

	a, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "a"})
	require.NoError(t, err)
	b, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: "b"})
	require.NoError(t, err)

	_, err = svc.CreateEdge(ctx, "user-1", EdgeInput{
		Source: a.ID,
		Target: b.ID,
		Labels: []string{"one", "two", "three"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestGraphService_ZeroLimitsAreUnenforced(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newLimitedGraphService(store, ports.Limits{})
	ctx := context.Background()

	_, err := svc.CreateNode(ctx, "user-1", CreateNodeInput{Content: strings.Repeat("a", 100000)})
	require.NoError(t, err)
}
