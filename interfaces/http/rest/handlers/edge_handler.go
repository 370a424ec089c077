package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"mindgraph-backend/application/services"
	"mindgraph-backend/domain/graph"
	"mindgraph-backend/pkg/auth"
	apperrors "mindgraph-backend/pkg/errors"
	"mindgraph-backend/pkg/utils"
)

// EdgeHandler handles edge requests. Edges are addressed by their
// ordered (source, target) pair, not by edge id.
type EdgeHandler struct {
	graphs *services.GraphService
	errors *apperrors.ErrorHandler
	logger *zap.Logger
}

// NewEdgeHandler creates an EdgeHandler.
func NewEdgeHandler(graphs *services.GraphService, errorHandler *apperrors.ErrorHandler, logger *zap.Logger) *EdgeHandler {
	return &EdgeHandler{
		graphs: graphs,
		errors: errorHandler,
		logger: logger,
	}
}

// EdgeRequest carries the endpoint pair and labels. label and labels
// are synonyms; on update, absence of both clears the sequence.
type EdgeRequest struct {
	Source string          `json:"source" validate:"required"`
	Target string          `json:"target" validate:"required"`
	Label  graph.LabelList `json:"label,omitempty"`
	Labels graph.LabelList `json:"labels,omitempty"`
}

type edgeOp func(ctx context.Context, userID string, in services.EdgeInput) (*services.EdgeResult, error)

// CreateEdge handles POST /edges. Connecting an existing pair merges
// labels instead of duplicating the edge.
func (h *EdgeHandler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	h.upsert(w, r, h.graphs.CreateEdge, http.StatusCreated)
}

// UpdateEdge handles PUT /edges. Replaces the label sequence wholesale
// and requires the edge to exist.
func (h *EdgeHandler) UpdateEdge(w http.ResponseWriter, r *http.Request) {
	h.upsert(w, r, h.graphs.UpdateEdge, http.StatusOK)
}

// DeleteEdge handles DELETE /edges?source=...&target=...
func (h *EdgeHandler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	source := r.URL.Query().Get("source")
	target := r.URL.Query().Get("target")
	if source == "" || target == "" {
		h.errors.Handle(w, r, apperrors.NewValidationError("source and target query parameters are required"))
		return
	}

	result, err := h.graphs.DeleteEdge(r.Context(), user.UserID, source, target)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *EdgeHandler) upsert(w http.ResponseWriter, r *http.Request, op edgeOp, status int) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	var req EdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	result, err := op(r.Context(), user.UserID, services.EdgeInput{
		Source: req.Source,
		Target: req.Target,
		Labels: graph.NormalizeLabels(req.Label, req.Labels),
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, status, result)
}
