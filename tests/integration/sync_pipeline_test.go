// Package integration exercises the mutation-to-peer pipeline end to
// end: a service mutation commits the document together with its index
// ops, and the synchronizer replays those ops against the embedding
// peer until delivered.
package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	domainevents "mindgraph-backend/domain/events"
	"mindgraph-backend/domain/graph"
	"mindgraph-backend/infrastructure/embedding"
	apperrors "mindgraph-backend/pkg/errors"
	"mindgraph-backend/pkg/observability"

	"mindgraph-backend/application/services"
)

// memBackend is an in-memory document store that commits index ops to
// an in-memory outbox, mirroring the transactional coupling of the
// DynamoDB implementation.
type memBackend struct {
	mu      sync.Mutex
	docs    map[string]*graph.Document
	records []*ports.OutboxRecord
	nextID  int
}

func newMemBackend() *memBackend {
	return &memBackend{docs: make(map[string]*graph.Document)}
}

func (m *memBackend) Get(_ context.Context, userID string) (*graph.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[userID]
	if !ok {
		return nil, apperrors.NewNotFoundError("graph document")
	}
	clone := *doc
	return &clone, nil
}

func (m *memBackend) Save(_ context.Context, doc *graph.Document, ops ...ports.IndexOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.docs[doc.UserID]; ok && stored.Version != doc.Version {
		return apperrors.NewConflictError("version mismatch")
	}
	doc.Version++
	clone := *doc
	m.docs[doc.UserID] = &clone
	m.enqueue(ops)
	return nil
}

func (m *memBackend) Delete(_ context.Context, userID string, ops ...ports.IndexOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, userID)
	m.enqueue(ops)
	return nil
}

func (m *memBackend) enqueue(ops []ports.IndexOp) {
	for _, op := range ops {
		m.nextID++
		m.records = append(m.records, &ports.OutboxRecord{
			ID: fmt.Sprintf("op-%04d", m.nextID),
			Op: op,
		})
	}
}

func (m *memBackend) Pending(_ context.Context, limit int32) ([]*ports.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ports.OutboxRecord, 0, len(m.records))
	for _, r := range m.records {
		if int32(len(out)) >= limit {
			break
		}
		clone := *r
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memBackend) MarkDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return nil
		}
	}
	return apperrors.NewNotFoundError("outbox record " + id)
}

func (m *memBackend) MarkRetrying(_ context.Context, id string, attempts int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			r.Attempts = attempts
			r.LastError = reason
			return nil
		}
	}
	return apperrors.NewNotFoundError("outbox record " + id)
}

func (m *memBackend) MarkFailed(ctx context.Context, id string, attempts int, reason string) error {
	// Failed records leave the pending set just like delivered ones.
	return m.MarkDelivered(ctx, id)
}

func (m *memBackend) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// recordingPeer captures everything delivered to it and can simulate an
// outage for a number of calls.
type recordingPeer struct {
	mu        sync.Mutex
	nodes     map[string]string // node id -> content
	deleted   []string
	resets    []string
	failNext  int
	callCount int
}

func newRecordingPeer() *recordingPeer {
	return &recordingPeer{nodes: make(map[string]string)}
}

func (p *recordingPeer) fail() error {
	p.callCount++
	if p.failNext > 0 {
		p.failNext--
		return errors.New("peer unavailable")
	}
	return nil
}

func (p *recordingPeer) EmbedNodes(_ context.Context, _ string, nodes []ports.NodeEmbedding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail(); err != nil {
		return err
	}
	for _, n := range nodes {
		p.nodes[n.ID] = n.Content
	}
	return nil
}

func (p *recordingPeer) EmbedEdges(_ context.Context, _ string, _ []ports.EdgeEmbedding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fail()
}

func (p *recordingPeer) DeleteVectors(_ context.Context, _ string, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail(); err != nil {
		return err
	}
	p.deleted = append(p.deleted, ids...)
	return nil
}

func (p *recordingPeer) Reset(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail(); err != nil {
		return err
	}
	p.resets = append(p.resets, userID)
	return nil
}

func (p *recordingPeer) ComputeLayout(context.Context, string) ([]ports.LayoutPoint, error) {
	return nil, nil
}

func (p *recordingPeer) Recommend(context.Context, string, string, ports.RecommendParams) ([]ports.ScoredNode, error) {
	return nil, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domainevents.DomainEvent) error { return nil }

func newPipeline(t *testing.T) (*services.GraphService, *memBackend, *recordingPeer, *embedding.Synchronizer) {
	t.Helper()
	backend := newMemBackend()
	peer := newRecordingPeer()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := zap.NewNop()
	syncer := embedding.NewSynchronizer(backend, peer, metrics, logger)
	svc := services.NewGraphService(backend, syncer, noopPublisher{}, nil, metrics, logger)
	return svc, backend, peer, syncer
}

func TestMutationFlowsThroughOutboxToPeer(t *testing.T) {
	svc, backend, peer, syncer := newPipeline(t)
	ctx := context.Background()

	node, err := svc.CreateNode(ctx, "user-1", services.CreateNodeInput{
		Content: "분산 시스템의 합의 알고리즘",
		Labels:  []string{"아이디어"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, backend.pendingCount())

	require.NoError(t, syncer.Sweep(ctx))

	assert.Equal(t, "분산 시스템의 합의 알고리즘", peer.nodes[node.ID])
	assert.Zero(t, backend.pendingCount())
}

func TestPeerOutageRetriesUntilRecovered(t *testing.T) {
	svc, backend, peer, syncer := newPipeline(t)
	ctx := context.Background()

	node, err := svc.CreateNode(ctx, "user-1", services.CreateNodeInput{Content: "retry me"})
	require.NoError(t, err)

	peer.failNext = 2
	require.NoError(t, syncer.Sweep(ctx))
	require.NoError(t, syncer.Sweep(ctx))
	require.Equal(t, 1, backend.pendingCount(), "op stays queued while the peer is down")
	assert.Equal(t, 2, backend.records[0].Attempts)

	require.NoError(t, syncer.Sweep(ctx))
	assert.Equal(t, "retry me", peer.nodes[node.ID])
	assert.Zero(t, backend.pendingCount())
}

func TestCascadeDeleteRemovesVectors(t *testing.T) {
	svc, _, peer, syncer := newPipeline(t)
	ctx := context.Background()

	a, err := svc.CreateNode(ctx, "user-1", services.CreateNodeInput{Content: "원인"})
	require.NoError(t, err)
	b, err := svc.CreateNode(ctx, "user-1", services.CreateNodeInput{Content: "결과"})
	require.NoError(t, err)
	result, err := svc.CreateEdge(ctx, "user-1", services.EdgeInput{
		Source: a.ID,
		Target: b.ID,
		Labels: []string{"인과"},
	})
	require.NoError(t, err)
	require.NoError(t, syncer.Sweep(ctx))

	deleted, err := svc.DeleteNodes(ctx, "user-1", []string{a.ID})
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.NoError(t, syncer.Sweep(ctx))

	assert.ElementsMatch(t, []string{a.ID, result.Edge.ID}, peer.deleted)
}

func TestClearGraphResetsPeerVectors(t *testing.T) {
	svc, backend, peer, syncer := newPipeline(t)
	ctx := context.Background()

	_, err := svc.CreateNode(ctx, "user-1", services.CreateNodeInput{Content: "temp"})
	require.NoError(t, err)
	require.NoError(t, syncer.Sweep(ctx))

	require.NoError(t, svc.ClearGraph(ctx, "user-1"))
	require.NoError(t, syncer.Sweep(ctx))

	assert.Equal(t, []string{"user-1"}, peer.resets)
	assert.Zero(t, backend.pendingCount())

	_, err = svc.GetGraph(ctx, "user-1", "")
	require.NoError(t, err, "cleared user reads back as an empty graph")
}

var _ ports.DocumentStore = (*memBackend)(nil)
var _ ports.OutboxStore = (*memBackend)(nil)
var _ ports.EmbeddingPeer = (*recordingPeer)(nil)
