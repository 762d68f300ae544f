package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"adversary-lab/internal/domain/models"
	"adversary-lab/internal/domain/services"
	"adversary-lab/internal/streaming"
	"adversary-lab/pkg/logger"
)

// Handlers holds all API handlers
type Handlers struct {
	Health    *HealthHandler
	MITRE     *MITREHandler
	Personas  *PersonasHandler
	Campaigns *CampaignsHandler
	Graph     *GraphHandler
	Admin     *AdminHandler
	Streaming *StreamingHandler
}

// GraphRepository mirrors the knowledge store into a graph database
type GraphRepository interface {
	SyncSnapshot(ctx context.Context, snap models.GraphSnapshot) (models.GraphSyncResult, error)
	SyncPersona(ctx context.Context, p *models.Persona) error
	GroupsUsingTechnique(ctx context.Context, mitreID string) ([]models.GroupUsage, error)
}

// CampaignCounter counts campaigns across restarts
type CampaignCounter interface {
	IncrementCampaignCount(ctx context.Context) (int64, error)
	CampaignCount(ctx context.Context) (int64, error)
}

// Dependencies holds dependencies for handlers. Graph and Counter are
// optional and must be nil interfaces when not configured. Hub and Bus may
// be nil.
type Dependencies struct {
	Store    *services.KnowledgeStore
	Library  *services.PersonaLibrary
	Engine   *services.CampaignEngine
	Graph    GraphRepository
	Counter  CampaignCounter
	Hub      *streaming.WebSocketHub
	Bus      *streaming.EventBus
	Checks   []DependencyCheck
	Version  string
	Logger   *logger.Logger

	// BundlePath and OverridesPath are re-read by the admin reload routes
	BundlePath    string
	OverridesPath string
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	h := &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Checks, deps.Logger),
		MITRE:     NewMITREHandler(deps.Store, deps.Library, deps.Logger),
		Personas:  NewPersonasHandler(deps.Library, deps.Logger),
		Campaigns: NewCampaignsHandler(deps.Engine, deps.Counter, deps.Graph, deps.Logger),
		Admin:     NewAdminHandler(deps.Store, deps.Library, deps.Graph, deps.BundlePath, deps.OverridesPath, deps.Logger),
		Streaming: NewStreamingHandler(deps.Hub, deps.Bus, deps.Logger),
	}
	if deps.Graph != nil {
		h.Graph = NewGraphHandler(deps.Graph, deps.Logger)
	}
	return h
}

// responder is embedded by every handler for the shared response helpers
type responder struct {
	logger *logger.Logger
}

// respondJSON sends a JSON response
func (h responder) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError sends an error response. Only server errors are logged.
func (h responder) respondError(w http.ResponseWriter, status int, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Msg(message)
		}
	}

	h.respondJSON(w, status, map[string]string{
		"error":   message,
		"details": details,
	})
}

// respondServiceError maps domain errors to a status code
func (h responder) respondServiceError(w http.ResponseWriter, message string, err error) {
	h.respondError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNoPersona),
		errors.Is(err, services.ErrAutoGenerateDisabled):
		return http.StatusConflict
	case errors.Is(err, models.ErrPersonaNotFound),
		errors.Is(err, models.ErrGroupNotFound),
		errors.Is(err, models.ErrCampaignNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidPersona),
		errors.Is(err, models.ErrInvalidBundle):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a bounded request body, rejecting unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
