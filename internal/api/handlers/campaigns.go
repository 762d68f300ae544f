package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"adversary-lab/internal/domain/models"
	"adversary-lab/internal/domain/services"
	"adversary-lab/pkg/logger"
)

// latestCampaign addresses the most recent run in place of an id
const latestCampaign = "latest"

// CampaignsHandler handles campaign endpoints
type CampaignsHandler struct {
	responder
	engine  *services.CampaignEngine
	counter CampaignCounter
	graph   GraphRepository
}

// NewCampaignsHandler creates a new CampaignsHandler. counter and graph may
// be nil.
func NewCampaignsHandler(engine *services.CampaignEngine, counter CampaignCounter, graph GraphRepository, log *logger.Logger) *CampaignsHandler {
	return &CampaignsHandler{
		responder: responder{logger: log.WithComponent("campaigns")},
		engine:    engine,
		counter:   counter,
		graph:     graph,
	}
}

// CreateCampaignRequest is the body of POST /api/v1/campaigns. Persona,
// when set, replaces the engine's current persona before the run.
// AutoExecute defaults to true.
type CreateCampaignRequest struct {
	Persona          string `json:"persona,omitempty"`
	Target           string `json:"target"`
	Scenario         string `json:"scenario,omitempty"`
	AutoExecute      *bool  `json:"auto_execute,omitempty"`
	MaxDurationHours int    `json:"max_duration_hours,omitempty"`
}

// Create handles POST /api/v1/campaigns
func (h *CampaignsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Target == "" {
		h.respondError(w, http.StatusBadRequest, "target is required", nil)
		return
	}
	if req.Scenario != "" && strings.TrimSpace(req.Scenario) == "" {
		h.respondError(w, http.StatusBadRequest, "scenario must not be blank", nil)
		return
	}
	if req.MaxDurationHours < 0 {
		h.respondError(w, http.StatusBadRequest, "max_duration_hours must not be negative", nil)
		return
	}

	if req.Persona != "" {
		if err := h.engine.SetPersona(r.Context(), req.Persona); err != nil {
			h.respondServiceError(w, "failed to set persona", err)
			return
		}
		if h.graph != nil {
			if err := h.graph.SyncPersona(r.Context(), h.engine.Persona()); err != nil {
				h.logger.Warn().Err(err).Str("persona", req.Persona).Msg("failed to mirror persona into graph")
			}
		}
	}

	autoExecute := true
	if req.AutoExecute != nil {
		autoExecute = *req.AutoExecute
	}

	c, err := h.engine.RunCampaign(r.Context(), services.CampaignRequest{
		Target:           req.Target,
		Scenario:         req.Scenario,
		AutoExecute:      autoExecute,
		MaxDurationHours: req.MaxDurationHours,
	})
	if err != nil {
		h.respondServiceError(w, "failed to run campaign", err)
		return
	}

	if h.counter != nil {
		if _, err := h.counter.IncrementCampaignCount(r.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("failed to increment campaign counter")
		}
	}

	h.respondJSON(w, http.StatusCreated, c)
}

// CampaignSummary is the listing form of a campaign
type CampaignSummary struct {
	ID          string                `json:"id"`
	Persona     string                `json:"persona"`
	Target      string                `json:"target"`
	Scenario    string                `json:"scenario"`
	Status      models.CampaignStatus `json:"status"`
	StartedAt   time.Time             `json:"start_time"`
	PhaseCount  int                   `json:"phase_count"`
	RiskScore   int                   `json:"risk_score"`
	DetectedAny bool                  `json:"detected"`
}

// List handles GET /api/v1/campaigns, oldest first
func (h *CampaignsHandler) List(w http.ResponseWriter, r *http.Request) {
	history := h.engine.History()
	summaries := make([]CampaignSummary, 0, len(history))
	for _, c := range history {
		summaries = append(summaries, CampaignSummary{
			ID:          c.ID,
			Persona:     c.Persona.Name,
			Target:      c.Target,
			Scenario:    c.Scenario,
			Status:      c.Status,
			StartedAt:   c.StartedAt,
			PhaseCount:  len(c.Phases),
			RiskScore:   c.Metrics.RiskScore,
			DetectedAny: len(c.DetectionEvents) > 0,
		})
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"data":  summaries,
		"total": len(summaries),
	})
}

func campaignID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if id == latestCampaign {
		return ""
	}
	return id
}

// Get handles GET /api/v1/campaigns/{id}
func (h *CampaignsHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.Campaign(campaignID(r))
	if err != nil {
		h.respondServiceError(w, "campaign not found", err)
		return
	}
	h.respondJSON(w, http.StatusOK, c)
}

// Report handles GET /api/v1/campaigns/{id}/report. ?format=text renders
// the plain-text report.
func (h *CampaignsHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.GenerateReport(campaignID(r))
	if err != nil {
		h.respondServiceError(w, "campaign not found", err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.String()))
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

// CurrentPersona handles GET /api/v1/campaigns/persona
func (h *CampaignsHandler) CurrentPersona(w http.ResponseWriter, r *http.Request) {
	p := h.engine.Persona()
	if p == nil {
		h.respondServiceError(w, "no persona selected", models.ErrNoPersona)
		return
	}
	h.respondJSON(w, http.StatusOK, p.Summary())
}

// Stats handles GET /api/v1/campaigns/stats. Without a counter only this
// process's history is counted.
func (h *CampaignsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"in_memory": len(h.engine.History()),
	}
	if h.counter != nil {
		total, err := h.counter.CampaignCount(r.Context())
		if err != nil {
			h.respondServiceError(w, "failed to read campaign counter", err)
			return
		}
		stats["total"] = total
	}
	h.respondJSON(w, http.StatusOK, stats)
}
