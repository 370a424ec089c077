// Package events defines the domain events emitted by graph mutations.
// Events describe something that has already happened; publishing them
// is best-effort and never blocks the mutation that raised them.
package events

import "time"

// DomainEvent is the interface all graph events implement.
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
}

// SourceBackend identifies this service as the event source.
const SourceBackend = "mindgraph.backend"

// BaseEvent provides common event fields. The aggregate is always the
// owning user's graph document.
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

func newBase(userID, eventType string) BaseEvent {
	return BaseEvent{
		AggregateID: userID,
		EventType:   eventType,
		Timestamp:   time.Now().UTC(),
	}
}

// NodeCreated is raised when a new node is added to the graph.
type NodeCreated struct {
	BaseEvent
	NodeID string `json:"node_id"`
	UserID string `json:"user_id"`
}

// NewNodeCreated creates a NodeCreated event.
func NewNodeCreated(userID, nodeID string) NodeCreated {
	return NodeCreated{BaseEvent: newBase(userID, "graph.node_created"), NodeID: nodeID, UserID: userID}
}

// NodeUpdated is raised when node fields change.
type NodeUpdated struct {
	BaseEvent
	NodeID         string `json:"node_id"`
	UserID         string `json:"user_id"`
	ContentChanged bool   `json:"content_changed"`
}

// NewNodeUpdated creates a NodeUpdated event.
func NewNodeUpdated(userID, nodeID string, contentChanged bool) NodeUpdated {
	return NodeUpdated{
		BaseEvent:      newBase(userID, "graph.node_updated"),
		NodeID:         nodeID,
		UserID:         userID,
		ContentChanged: contentChanged,
	}
}

// NodesDeleted is raised when nodes (and their incident edges) are
// removed.
type NodesDeleted struct {
	BaseEvent
	UserID       string   `json:"user_id"`
	NodeIDs      []string `json:"node_ids"`
	CascadedEdges int     `json:"cascaded_edges"`
}

// NewNodesDeleted creates a NodesDeleted event.
func NewNodesDeleted(userID string, nodeIDs []string, cascadedEdges int) NodesDeleted {
	return NodesDeleted{
		BaseEvent:     newBase(userID, "graph.nodes_deleted"),
		UserID:        userID,
		NodeIDs:       nodeIDs,
		CascadedEdges: cascadedEdges,
	}
}

// EdgeUpserted is raised when an edge is created or its labels merged.
type EdgeUpserted struct {
	BaseEvent
	UserID  string `json:"user_id"`
	EdgeID  string `json:"edge_id"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	Created bool   `json:"created"`
}

// NewEdgeUpserted creates an EdgeUpserted event.
func NewEdgeUpserted(userID, edgeID, source, target string, created bool) EdgeUpserted {
	return EdgeUpserted{
		BaseEvent: newBase(userID, "graph.edge_upserted"),
		UserID:    userID,
		EdgeID:    edgeID,
		Source:    source,
		Target:    target,
		Created:   created,
	}
}

// EdgeUpdated is raised when an edge's labels are replaced.
type EdgeUpdated struct {
	BaseEvent
	UserID string `json:"user_id"`
	EdgeID string `json:"edge_id"`
}

// NewEdgeUpdated creates an EdgeUpdated event.
func NewEdgeUpdated(userID, edgeID string) EdgeUpdated {
	return EdgeUpdated{BaseEvent: newBase(userID, "graph.edge_updated"), UserID: userID, EdgeID: edgeID}
}

// EdgeDeleted is raised when an edge is removed by pair.
type EdgeDeleted struct {
	BaseEvent
	UserID string `json:"user_id"`
	EdgeID string `json:"edge_id"`
}

// NewEdgeDeleted creates an EdgeDeleted event.
func NewEdgeDeleted(userID, edgeID string) EdgeDeleted {
	return EdgeDeleted{BaseEvent: newBase(userID, "graph.edge_deleted"), UserID: userID, EdgeID: edgeID}
}

// GraphCleared is raised when a user's entire document is deleted.
type GraphCleared struct {
	BaseEvent
	UserID string `json:"user_id"`
}

// NewGraphCleared creates a GraphCleared event.
func NewGraphCleared(userID string) GraphCleared {
	return GraphCleared{BaseEvent: newBase(userID, "graph.cleared"), UserID: userID}
}

// NodesImported is raised when candidate nodes are promoted into the
// graph.
type NodesImported struct {
	BaseEvent
	UserID  string   `json:"user_id"`
	NodeIDs []string `json:"node_ids"`
}

// NewNodesImported creates a NodesImported event.
func NewNodesImported(userID string, nodeIDs []string) NodesImported {
	return NodesImported{BaseEvent: newBase(userID, "graph.nodes_imported"), UserID: userID, NodeIDs: nodeIDs}
}

// LayoutApplied is raised when cluster coordinates are merged back into
// the document.
type LayoutApplied struct {
	BaseEvent
	UserID  string `json:"user_id"`
	Applied int    `json:"applied"`
	Skipped int    `json:"skipped"`
}

// NewLayoutApplied creates a LayoutApplied event.
func NewLayoutApplied(userID string, applied, skipped int) LayoutApplied {
	return LayoutApplied{
		BaseEvent: newBase(userID, "graph.layout_applied"),
		UserID:    userID,
		Applied:   applied,
		Skipped:   skipped,
	}
}
