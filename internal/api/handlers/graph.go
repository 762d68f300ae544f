package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

// GraphHandler queries the Neo4j mirror of the knowledge store
type GraphHandler struct {
	responder
	repo GraphRepository
}

// NewGraphHandler creates a new GraphHandler
func NewGraphHandler(repo GraphRepository, log *logger.Logger) *GraphHandler {
	return &GraphHandler{
		responder: responder{logger: log.WithComponent("graph-handler")},
		repo:      repo,
	}
}

// GroupsUsingTechnique handles GET /api/v1/graph/techniques/{id}/groups
func (h *GraphHandler) GroupsUsingTechnique(w http.ResponseWriter, r *http.Request) {
	id := strings.ToUpper(chi.URLParam(r, "id"))

	groups, err := h.repo.GroupsUsingTechnique(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusBadGateway, "graph query failed", err)
		return
	}
	if groups == nil {
		groups = []models.GroupUsage{}
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"technique": id,
		"groups":    groups,
		"count":     len(groups),
	})
}
