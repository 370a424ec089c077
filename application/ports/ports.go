// Package ports defines the narrow capability interfaces the application
// layer depends on. Infrastructure provides the implementations; tests
// swap in fakes.
package ports

import (
	"context"
	"time"

	"mindgraph-backend/domain/events"
	"mindgraph-backend/domain/graph"
)

// NodeEmbedding is the minimal node payload sent to the embedding peer.
type NodeEmbedding struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// EdgeEmbedding is the minimal edge payload sent to the embedding peer.
type EdgeEmbedding struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Label    string `json:"label"`
}

// LayoutPoint is one node position in normalized coordinate space as
// returned by the clustering peer.
type LayoutPoint struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// ScoredNode is a recommendation candidate with optional scoring
// metadata.
type ScoredNode struct {
	ID    string   `json:"id"`
	Score *float64 `json:"score,omitempty"`
}

// RecommendParams carries per-method recommendation parameters through
// to the strategy untouched.
type RecommendParams map[string]interface{}

// EmbeddingPeer is the request/response surface of the external
// embedding and clustering service. Implementations enforce the
// client-side timeout and forward the caller's credential when one is
// present on the context.
type EmbeddingPeer interface {
	EmbedNodes(ctx context.Context, userID string, nodes []NodeEmbedding) error
	EmbedEdges(ctx context.Context, userID string, edges []EdgeEmbedding) error
	DeleteVectors(ctx context.Context, userID string, ids []string) error
	Reset(ctx context.Context, userID string) error
	ComputeLayout(ctx context.Context, userID string) ([]LayoutPoint, error)
	Recommend(ctx context.Context, userID, method string, params RecommendParams) ([]ScoredNode, error)
}

// IndexOpKind enumerates the index synchronization operations.
type IndexOpKind string

const (
	IndexOpEmbedNodes    IndexOpKind = "embed_nodes"
	IndexOpEmbedEdges    IndexOpKind = "embed_edges"
	IndexOpDeleteVectors IndexOpKind = "delete_vectors"
	IndexOpReset         IndexOpKind = "reset"
)

// IndexOp is one pending index synchronization operation. Ops are
// committed in the same transaction as the document mutation that
// produced them and replayed until delivered.
type IndexOp struct {
	Kind   IndexOpKind     `json:"kind"`
	UserID string          `json:"user_id"`
	Nodes  []NodeEmbedding `json:"nodes,omitempty"`
	Edges  []EdgeEmbedding `json:"edges,omitempty"`
	IDs    []string        `json:"ids,omitempty"`
}

// EmbedNodesOp builds an embed_nodes op.
func EmbedNodesOp(userID string, nodes ...NodeEmbedding) IndexOp {
	return IndexOp{Kind: IndexOpEmbedNodes, UserID: userID, Nodes: nodes}
}

// EmbedEdgesOp builds an embed_edges op.
func EmbedEdgesOp(userID string, edges ...EdgeEmbedding) IndexOp {
	return IndexOp{Kind: IndexOpEmbedEdges, UserID: userID, Edges: edges}
}

// DeleteVectorsOp builds a delete op for the given vector ids.
func DeleteVectorsOp(userID string, ids ...string) IndexOp {
	return IndexOp{Kind: IndexOpDeleteVectors, UserID: userID, IDs: ids}
}

// ResetOp builds a full-reset op for the user's vectors.
func ResetOp(userID string) IndexOp {
	return IndexOp{Kind: IndexOpReset, UserID: userID}
}

// DocumentStore persists per-user graph documents with atomic
// single-document read-modify-write. Save and Delete accept index ops
// that must commit atomically with the document change.
type DocumentStore interface {
	// Get loads the user's document. Returns a NOT_FOUND error when the
	// user has no document yet.
	Get(ctx context.Context, userID string) (*graph.Document, error)

	// Save writes the document conditionally on its loaded Version and
	// bumps the version on success. A concurrent writer surfaces as a
	// CONFLICT error; callers reload and retry.
	Save(ctx context.Context, doc *graph.Document, ops ...IndexOp) error

	// Delete removes the user's document. Deleting an absent document is
	// not an error.
	Delete(ctx context.Context, userID string, ops ...IndexOp) error
}

// OutboxRecord is a persisted index op awaiting delivery.
type OutboxRecord struct {
	ID        string
	Op        IndexOp
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// OutboxStore exposes the pending index operations for replay.
// MarkRetrying keeps a record eligible for the next sweep; MarkFailed
// parks it permanently once the retry budget is spent.
type OutboxStore interface {
	Pending(ctx context.Context, limit int32) ([]*OutboxRecord, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkRetrying(ctx context.Context, id string, attempts int, reason string) error
	MarkFailed(ctx context.Context, id string, attempts int, reason string) error
}

// SyncTrigger nudges the index synchronizer to deliver pending ops now
// instead of waiting for the next sweep.
type SyncTrigger interface {
	Nudge()
}

// CandidateNode is a scratch node attached to a conversation message,
// eligible for promotion into the graph.
type CandidateNode struct {
	NodeID         string
	MessageID      string
	ConversationID string
	Content        string
	Labels         []string
	X              float64
	Y              float64
	Curated        bool
}

// CandidateRef addresses one candidate within its owning message.
type CandidateRef struct {
	MessageID string
	NodeID    string
}

// MessageStore is the message/import subsystem surface the core needs:
// candidate lookup and the curated flag write-back.
type MessageStore interface {
	FindCandidates(ctx context.Context, userID string, nodeIDs []string) ([]*CandidateNode, error)
	MarkCurated(ctx context.Context, userID string, refs []CandidateRef) error
}

// Limits are the operational caps enforced on mutations and
// recommendations. A zero value means the cap is not enforced.
type Limits struct {
	MaxNodesPerGraph  int
	MaxLabelsPerEdge  int
	MaxImportBatch    int
	MaxContentLength  int
	RecommendLimitCap int
}

// LimitsSource yields the current limits. Implementations may reload
// them at runtime; callers read a fresh snapshot per operation.
type LimitsSource interface {
	Limits() Limits
}

// EventPublisher publishes graph mutation events to interested
// downstream consumers. Publishing is best-effort; failures never abort
// the mutation.
type EventPublisher interface {
	Publish(ctx context.Context, event events.DomainEvent) error
}
