package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/application/recommendations"
	"mindgraph-backend/application/services"
	"mindgraph-backend/pkg/auth"
	apperrors "mindgraph-backend/pkg/errors"
)

// GraphHandler handles whole-graph requests: fetch, clear, layout
// recomputation, and recommendations.
type GraphHandler struct {
	graphs     *services.GraphService
	clusters   *services.ClusterService
	recommends *recommendations.Dispatcher
	errors     *apperrors.ErrorHandler
	logger     *zap.Logger
}

// NewGraphHandler creates a GraphHandler.
func NewGraphHandler(
	graphs *services.GraphService,
	clusters *services.ClusterService,
	recommends *recommendations.Dispatcher,
	errorHandler *apperrors.ErrorHandler,
	logger *zap.Logger,
) *GraphHandler {
	return &GraphHandler{
		graphs:     graphs,
		clusters:   clusters,
		recommends: recommends,
		errors:     errorHandler,
		logger:     logger,
	}
}

// GetGraph handles GET /graph?conversation_id=...
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	view, err := h.graphs.GetGraph(r.Context(), user.UserID, r.URL.Query().Get("conversation_id"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// ClearGraph handles DELETE /graph. Deletes the document and resets the
// user's vectors on the peer.
func (h *GraphHandler) ClearGraph(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	if err := h.graphs.ClearGraph(r.Context(), user.UserID); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// CalculateCluster handles POST /graph/cluster. Returns the peer's raw
// normalized coordinates; on-graph positions are scaled and persisted
// as a side effect, so callers re-fetch the graph for them.
func (h *GraphHandler) CalculateCluster(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	points, err := h.clusters.CalculateCluster(r.Context(), user.UserID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"points": points})
}

// GetRecommendations handles POST /graph/recommendations/{method} with
// an optional JSON params body.
func (h *GraphHandler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	method := chi.URLParam(r, "method")

	params := ports.RecommendParams{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			h.errors.Handle(w, r, apperrors.NewValidationError("invalid params body: "+err.Error()))
			return
		}
	}

	nodes, err := h.recommends.GetRecommendations(r.Context(), user.UserID, method, params)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"method": method,
		"nodes":  nodes,
	})
}
