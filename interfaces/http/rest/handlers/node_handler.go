package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mindgraph-backend/application/services"
	"mindgraph-backend/domain/graph"
	"mindgraph-backend/pkg/auth"
	apperrors "mindgraph-backend/pkg/errors"
	"mindgraph-backend/pkg/utils"
)

// NodeHandler handles node CRUD and batch import requests.
type NodeHandler struct {
	graphs  *services.GraphService
	imports *services.ImportService
	errors  *apperrors.ErrorHandler
	logger  *zap.Logger
}

// NewNodeHandler creates a NodeHandler.
func NewNodeHandler(
	graphs *services.GraphService,
	imports *services.ImportService,
	errorHandler *apperrors.ErrorHandler,
	logger *zap.Logger,
) *NodeHandler {
	return &NodeHandler{
		graphs:  graphs,
		imports: imports,
		errors:  errorHandler,
		logger:  logger,
	}
}

// CreateNodeRequest accepts label and labels as synonyms; a scalar
// label wraps into a one-element sequence.
type CreateNodeRequest struct {
	Content              string          `json:"content"`
	Label                graph.LabelList `json:"label,omitempty"`
	Labels               graph.LabelList `json:"labels,omitempty"`
	X                    float64         `json:"x,omitempty"`
	Y                    float64         `json:"y,omitempty"`
	SourceMessageID      *string         `json:"source_message_id,omitempty"`
	SourceConversationID *string         `json:"source_conversation_id,omitempty"`
}

// UpdateNodeRequest is a partial update; absent fields stay untouched.
type UpdateNodeRequest struct {
	Content *string         `json:"content,omitempty"`
	Label   graph.LabelList `json:"label,omitempty"`
	Labels  graph.LabelList `json:"labels,omitempty"`
	X       *float64        `json:"x,omitempty"`
	Y       *float64        `json:"y,omitempty"`
}

// BulkDeleteRequest lists the node ids to remove.
type BulkDeleteRequest struct {
	NodeIDs []string `json:"nodeIds" validate:"required,min=1"`
}

// BulkDeleteResponse echoes the requested count.
type BulkDeleteResponse struct {
	Deleted int `json:"deleted"`
}

// ImportRequest lists candidate node ids to promote into the graph.
type ImportRequest struct {
	NodeIDs []string `json:"nodeIds" validate:"required,min=1"`
}

// CreateNode handles POST /nodes.
func (h *NodeHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	node, err := h.graphs.CreateNode(r.Context(), user.UserID, services.CreateNodeInput{
		Content:              req.Content,
		Labels:               graph.NormalizeLabels(req.Label, req.Labels),
		X:                    req.X,
		Y:                    req.Y,
		SourceMessageID:      req.SourceMessageID,
		SourceConversationID: req.SourceConversationID,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, node)
}

// UpdateNode handles PATCH /nodes/{nodeID}.
func (h *NodeHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	nodeID := chi.URLParam(r, "nodeID")

	var req UpdateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	// Absent label fields leave labels untouched; any present form,
	// including an empty sequence, replaces them.
	var labels []string
	if req.Label != nil || req.Labels != nil {
		labels = graph.NormalizeLabels(req.Label, req.Labels)
	}

	node, err := h.graphs.UpdateNode(r.Context(), user.UserID, nodeID, services.UpdateNodeInput{
		Content: req.Content,
		Labels:  labels,
		X:       req.X,
		Y:       req.Y,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, node)
}

// DeleteNode handles DELETE /nodes/{nodeID}.
func (h *NodeHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	nodeID := chi.URLParam(r, "nodeID")

	deleted, err := h.graphs.DeleteNodes(r.Context(), user.UserID, []string{nodeID})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, BulkDeleteResponse{Deleted: deleted})
}

// BulkDeleteNodes handles POST /nodes/bulk-delete.
func (h *NodeHandler) BulkDeleteNodes(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	var req BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	deleted, err := h.graphs.DeleteNodes(r.Context(), user.UserID, req.NodeIDs)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, BulkDeleteResponse{Deleted: deleted})
}

// ImportNodes handles POST /nodes/import.
func (h *NodeHandler) ImportNodes(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	nodes, err := h.imports.ImportNodes(r.Context(), user.UserID, req.NodeIDs)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"nodes": nodes})
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
