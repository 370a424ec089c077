package graph

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNodeNotFound is returned when a node id does not resolve within
// the document.
var ErrNodeNotFound = errors.New("node not found")

// ErrEdgeNotFound is returned when no edge exists for a (source, target)
// pair.
var ErrEdgeNotFound = errors.New("edge not found")

// Node is a labeled, positioned content unit in the graph, optionally
// tied back to its originating conversation message.
type Node struct {
	ID                   string    `json:"id"`
	Content              string    `json:"content"`
	Labels               []string  `json:"labels"`
	X                    float64   `json:"x"`
	Y                    float64   `json:"y"`
	SourceMessageID      *string   `json:"source_message_id,omitempty"`
	SourceConversationID *string   `json:"source_conversation_id,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Edge is a labeled directed relation between two nodes. At most one
// edge exists per ordered (source, target) pair within a document.
type Edge struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Labels    []string  `json:"labels"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Document is the single per-user record holding all nodes and edges.
// It is the unit of persistence and of mutation: every change loads the
// document, applies in memory, and saves it back conditionally on
// Version.
type Document struct {
	UserID    string
	Nodes     []*Node
	Edges     []*Edge
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDocument creates an empty document for a user.
func NewDocument(userID string) *Document {
	now := time.Now().UTC()
	return &Document{
		UserID:    userID,
		Nodes:     []*Node{},
		Edges:     []*Edge{},
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NodeParams carries the caller-supplied fields for a new node.
type NodeParams struct {
	Content              string
	Labels               []string
	X                    float64
	Y                    float64
	SourceMessageID      *string
	SourceConversationID *string
}

// AddNode appends a new node with a fresh id and returns it.
func (d *Document) AddNode(p NodeParams) *Node {
	now := time.Now().UTC()
	labels := p.Labels
	if labels == nil {
		labels = []string{}
	}
	node := &Node{
		ID:                   uuid.New().String(),
		Content:              p.Content,
		Labels:               labels,
		X:                    p.X,
		Y:                    p.Y,
		SourceMessageID:      p.SourceMessageID,
		SourceConversationID: p.SourceConversationID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	d.Nodes = append(d.Nodes, node)
	d.touch(now)
	return node
}

// FindNode resolves a node by id.
func (d *Document) FindNode(id string) (*Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// FindEdge resolves an edge by its ordered (source, target) pair.
func (d *Document) FindEdge(source, target string) (*Edge, bool) {
	for _, e := range d.Edges {
		if e.Source == source && e.Target == target {
			return e, true
		}
	}
	return nil, false
}

// NodeUpdate carries a partial node update; nil fields are untouched.
type NodeUpdate struct {
	Content *string
	Labels  []string
	X       *float64
	Y       *float64
}

// UpdateNode applies a partial update to a node. The second return
// reports whether the content changed, which callers use to decide on
// re-embedding.
func (d *Document) UpdateNode(id string, u NodeUpdate) (*Node, bool, error) {
	node, ok := d.FindNode(id)
	if !ok {
		return nil, false, ErrNodeNotFound
	}

	contentChanged := false
	if u.Content != nil && *u.Content != node.Content {
		node.Content = *u.Content
		contentChanged = true
	}
	if u.Labels != nil {
		node.Labels = dedupeLabels(u.Labels)
	}
	if u.X != nil {
		node.X = *u.X
	}
	if u.Y != nil {
		node.Y = *u.Y
	}

	now := time.Now().UTC()
	node.UpdatedAt = now
	d.touch(now)
	return node, contentChanged, nil
}

// RemoveNodes removes every listed node and cascades to incident edges
// in the same mutation. Unknown ids are tolerated. Returns the removed
// nodes and the removed edges.
func (d *Document) RemoveNodes(ids []string) ([]*Node, []*Edge) {
	doomed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		doomed[id] = struct{}{}
	}

	var removedNodes []*Node
	kept := d.Nodes[:0]
	for _, n := range d.Nodes {
		if _, gone := doomed[n.ID]; gone {
			removedNodes = append(removedNodes, n)
		} else {
			kept = append(kept, n)
		}
	}
	d.Nodes = kept

	var removedEdges []*Edge
	keptEdges := d.Edges[:0]
	for _, e := range d.Edges {
		_, srcGone := doomed[e.Source]
		_, dstGone := doomed[e.Target]
		if srcGone || dstGone {
			removedEdges = append(removedEdges, e)
		} else {
			keptEdges = append(keptEdges, e)
		}
	}
	d.Edges = keptEdges

	if len(removedNodes) > 0 || len(removedEdges) > 0 {
		d.touch(time.Now().UTC())
	}
	return removedNodes, removedEdges
}

// ConnectNodes creates an edge for the ordered (source, target) pair, or
// merges the incoming labels into the existing edge for that pair.
// Endpoint nodes that resolve get their UpdatedAt refreshed. Returns the
// edge, the refreshed endpoints, and whether the edge was newly created.
func (d *Document) ConnectNodes(source, target string, labels []string) (*Edge, []*Node, bool) {
	now := time.Now().UTC()
	endpoints := d.touchEndpoints(source, target, now)

	if edge, ok := d.FindEdge(source, target); ok {
		edge.Labels = MergeLabels(edge.Labels, labels)
		edge.UpdatedAt = now
		d.touch(now)
		return edge, endpoints, false
	}

	edge := &Edge{
		ID:        uuid.New().String(),
		Source:    source,
		Target:    target,
		Labels:    dedupeLabels(labels),
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.Edges = append(d.Edges, edge)
	d.touch(now)
	return edge, endpoints, true
}

// ReplaceEdgeLabels replaces the label sequence of the edge for the
// (source, target) pair wholesale. Contrast with ConnectNodes, which
// merges.
func (d *Document) ReplaceEdgeLabels(source, target string, labels []string) (*Edge, []*Node, error) {
	edge, ok := d.FindEdge(source, target)
	if !ok {
		return nil, nil, ErrEdgeNotFound
	}

	now := time.Now().UTC()
	endpoints := d.touchEndpoints(source, target, now)

	if labels == nil {
		labels = []string{}
	}
	edge.Labels = dedupeLabels(labels)
	edge.UpdatedAt = now
	d.touch(now)
	return edge, endpoints, nil
}

// RemoveEdge removes the edge for the (source, target) pair, refreshing
// the endpoint nodes first.
func (d *Document) RemoveEdge(source, target string) (*Edge, []*Node, error) {
	edge, ok := d.FindEdge(source, target)
	if !ok {
		return nil, nil, ErrEdgeNotFound
	}

	now := time.Now().UTC()
	endpoints := d.touchEndpoints(source, target, now)

	kept := d.Edges[:0]
	for _, e := range d.Edges {
		if e != edge {
			kept = append(kept, e)
		}
	}
	d.Edges = kept
	d.touch(now)
	return edge, endpoints, nil
}

// View is a read-only projection of the document's nodes and edges.
type View struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// ViewAll returns the full graph.
func (d *Document) ViewAll() View {
	return View{Nodes: d.Nodes, Edges: d.Edges}
}

// ViewByConversation filters nodes to the given conversation and keeps
// only edges whose both endpoints survive the node filter.
func (d *Document) ViewByConversation(conversationID string) View {
	nodes := make([]*Node, 0)
	surviving := make(map[string]struct{})
	for _, n := range d.Nodes {
		if n.SourceConversationID != nil && *n.SourceConversationID == conversationID {
			nodes = append(nodes, n)
			surviving[n.ID] = struct{}{}
		}
	}

	edges := make([]*Edge, 0)
	for _, e := range d.Edges {
		if _, ok := surviving[e.Source]; !ok {
			continue
		}
		if _, ok := surviving[e.Target]; !ok {
			continue
		}
		edges = append(edges, e)
	}
	return View{Nodes: nodes, Edges: edges}
}

// HasNode reports whether an id resolves within the document.
func (d *Document) HasNode(id string) bool {
	_, ok := d.FindNode(id)
	return ok
}

func (d *Document) touchEndpoints(source, target string, now time.Time) []*Node {
	var endpoints []*Node
	if n, ok := d.FindNode(source); ok {
		n.UpdatedAt = now
		endpoints = append(endpoints, n)
	}
	if n, ok := d.FindNode(target); ok {
		n.UpdatedAt = now
		endpoints = append(endpoints, n)
	}
	return endpoints
}

func (d *Document) touch(now time.Time) {
	d.UpdatedAt = now
}
