package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"adversary-lab/internal/domain/models"
	"adversary-lab/internal/domain/services"
	"adversary-lab/pkg/logger"
)

// PersonasHandler handles persona library endpoints
type PersonasHandler struct {
	responder
	library *services.PersonaLibrary
}

// NewPersonasHandler creates a new PersonasHandler
func NewPersonasHandler(library *services.PersonaLibrary, log *logger.Logger) *PersonasHandler {
	return &PersonasHandler{
		responder: responder{logger: log.WithComponent("personas")},
		library:   library,
	}
}

// List handles GET /api/v1/personas. The industry, sophistication and
// motivation filters combine with AND.
func (h *PersonasHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	names := h.library.ListAvailable()

	if industry := q.Get("industry"); industry != "" {
		names = intersect(names, h.library.ByIndustry(industry))
	}
	if level := q.Get("sophistication"); level != "" {
		l := models.SophisticationLevel(strings.ToLower(level))
		if !l.Valid() {
			h.respondError(w, http.StatusBadRequest, "invalid sophistication level", fmt.Errorf("unknown level %q", level))
			return
		}
		names = intersect(names, h.library.BySophistication(l))
	}
	if motivation := q.Get("motivation"); motivation != "" {
		names = intersect(names, h.library.ByMotivation(motivation))
	}

	if names == nil {
		names = []string{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"personas": names,
		"count":    len(names),
	})
}

func intersect(names, keep []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if slices.Contains(keep, n) {
			out = append(out, n)
		}
	}
	return out
}

// PersonaResponse is the detail view of a persona
type PersonaResponse struct {
	models.PersonaSummary
	PreferredTechniques map[string][]string `json:"preferred_techniques"`
}

// Get handles GET /api/v1/personas/{name}. Curated names, aliases and any
// group known to the store resolve.
func (h *PersonasHandler) Get(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid persona name", err)
		return
	}

	p, err := h.library.GetPersona(r.Context(), name)
	if err != nil {
		h.respondServiceError(w, "failed to load persona", err)
		return
	}

	h.respondJSON(w, http.StatusOK, PersonaResponse{
		PersonaSummary:      p.Summary(),
		PreferredTechniques: p.PreferredTechniques,
	})
}

// CustomPersonaRequest is the body of POST /api/v1/personas/custom
type CustomPersonaRequest struct {
	Name   string               `json:"name"`
	Base   string               `json:"base,omitempty"`
	Config models.PersonaConfig `json:"config"`
}

// CreateCustom handles POST /api/v1/personas/custom
func (h *PersonasHandler) CreateCustom(w http.ResponseWriter, r *http.Request) {
	var req CustomPersonaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	p, err := h.library.CreateCustomPersona(r.Context(), req.Name, req.Base, req.Config)
	if err != nil {
		h.respondServiceError(w, "failed to create persona", err)
		return
	}

	h.respondJSON(w, http.StatusCreated, PersonaResponse{
		PersonaSummary:      p.Summary(),
		PreferredTechniques: p.PreferredTechniques,
	})
}

// Compare handles GET /api/v1/personas/compare?a=...&b=...
func (h *PersonasHandler) Compare(w http.ResponseWriter, r *http.Request) {
	a, b := r.URL.Query().Get("a"), r.URL.Query().Get("b")
	if a == "" || b == "" {
		h.respondError(w, http.StatusBadRequest, "both a and b are required", nil)
		return
	}

	cmp, err := h.library.Compare(r.Context(), a, b)
	if err != nil {
		h.respondServiceError(w, "failed to compare personas", err)
		return
	}
	h.respondJSON(w, http.StatusOK, cmp)
}

// Stats handles GET /api/v1/personas/stats
func (h *PersonasHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.library.Stats())
}

// Generated handles GET /api/v1/personas/generated
func (h *PersonasHandler) Generated(w http.ResponseWriter, r *http.Request) {
	configs, err := h.library.GenerateAllConfigs(r.Context())
	if err != nil {
		h.respondServiceError(w, "failed to generate persona configs", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"configs": configs,
		"count":   len(configs),
	})
}

// ClearCache handles DELETE /api/v1/personas/cache
func (h *PersonasHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.library.ClearCache(r.Context()); err != nil {
		h.respondServiceError(w, "failed to clear persona cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
