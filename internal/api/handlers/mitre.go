package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"adversary-lab/internal/domain/services"
	"adversary-lab/pkg/logger"
)

// MITREHandler serves the ingested ATT&CK knowledge
type MITREHandler struct {
	responder
	store   *services.KnowledgeStore
	library *services.PersonaLibrary
}

// NewMITREHandler creates a new MITRE handler
func NewMITREHandler(store *services.KnowledgeStore, library *services.PersonaLibrary, log *logger.Logger) *MITREHandler {
	return &MITREHandler{
		responder: responder{logger: log.WithComponent("mitre-handler")},
		store:     store,
		library:   library,
	}
}

// ListGroups handles GET /api/v1/mitre/groups. ?q= filters by name or alias.
func (h *MITREHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups := h.library.ListAllGroups()

	if q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q"))); q != "" {
		filtered := groups[:0]
		for _, g := range groups {
			if strings.Contains(strings.ToLower(g.Name), q) || containsFold(g.Aliases, q) {
				filtered = append(filtered, g)
			}
		}
		groups = filtered
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

func containsFold(values []string, sub string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), sub) {
			return true
		}
	}
	return false
}

// ListTactics handles GET /api/v1/mitre/tactics
func (h *MITREHandler) ListTactics(w http.ResponseWriter, r *http.Request) {
	tactics := h.store.AllTactics()
	h.respondJSON(w, http.StatusOK, map[string]any{
		"tactics": tactics,
		"count":   len(tactics),
	})
}

// GetTechnique handles GET /api/v1/mitre/techniques/{id}
func (h *MITREHandler) GetTechnique(w http.ResponseWriter, r *http.Request) {
	id := strings.ToUpper(chi.URLParam(r, "id"))

	technique, ok := h.store.TechniqueByShortID(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "technique not found", nil)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"technique": technique,
		"tactics":   technique.Tactics(),
	})
}

// Stats handles GET /api/v1/mitre/stats
func (h *MITREHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.store.Stats())
}
