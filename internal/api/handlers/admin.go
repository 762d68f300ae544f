package handlers

import (
	"net/http"

	"adversary-lab/internal/domain/services"
	"adversary-lab/pkg/logger"
)

// AdminHandler handles admin endpoints
type AdminHandler struct {
	responder
	store         *services.KnowledgeStore
	library       *services.PersonaLibrary
	graph         GraphRepository
	bundlePath    string
	overridesPath string
}

// NewAdminHandler creates a new AdminHandler. graph may be nil.
func NewAdminHandler(store *services.KnowledgeStore, library *services.PersonaLibrary, graph GraphRepository, bundlePath, overridesPath string, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		responder:     responder{logger: log.WithComponent("admin")},
		store:         store,
		library:       library,
		graph:         graph,
		bundlePath:    bundlePath,
		overridesPath: overridesPath,
	}
}

// ReloadMITRE handles POST /api/v1/admin/mitre/reload. The bundle is
// re-read, persona caches are dropped and the graph mirror is re-synced.
func (h *AdminHandler) ReloadMITRE(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Str("path", h.bundlePath).Msg("reloading ATT&CK bundle")

	if err := h.store.LoadFile(h.bundlePath); err != nil {
		h.respondServiceError(w, "failed to reload bundle", err)
		return
	}
	if err := h.library.ClearCache(r.Context()); err != nil {
		h.respondServiceError(w, "failed to clear persona cache", err)
		return
	}

	resp := map[string]any{"stats": h.store.Stats()}
	if h.graph != nil {
		result, err := h.graph.SyncSnapshot(r.Context(), h.store.Snapshot())
		if err != nil {
			h.respondError(w, http.StatusBadGateway, "failed to sync graph", err)
			return
		}
		resp["graph"] = result
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// ReloadPersonas handles POST /api/v1/admin/personas/reload
func (h *AdminHandler) ReloadPersonas(w http.ResponseWriter, r *http.Request) {
	if h.overridesPath == "" {
		h.respondError(w, http.StatusConflict, "no persona override file configured", nil)
		return
	}

	if err := h.library.LoadOverrides(h.overridesPath); err != nil {
		h.respondServiceError(w, "failed to reload persona overrides", err)
		return
	}
	if err := h.library.ClearCache(r.Context()); err != nil {
		h.respondServiceError(w, "failed to clear persona cache", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"personas": h.library.ListAvailable(),
		"stats":    h.library.Stats(),
	})
}

