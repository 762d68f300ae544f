package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

const (
	defaultMaxDurationHours = 24
	alternativeDescSize     = 200
)

// PersonaSource resolves persona names
type PersonaSource interface {
	GetPersona(ctx context.Context, name string) (*models.Persona, error)
}

// TechniqueLookup finds techniques by ATT&CK code
type TechniqueLookup interface {
	TechniqueByShortID(code string) (models.Entity, bool)
}

// EventPublisher receives campaign progress events
type EventPublisher interface {
	PublishCampaignEvent(ctx context.Context, event *models.CampaignEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishCampaignEvent(context.Context, *models.CampaignEvent) error { return nil }

// CampaignRequest describes one campaign run
type CampaignRequest struct {
	Target           string `json:"target"`
	Scenario         string `json:"scenario"`
	AutoExecute      bool   `json:"auto_execute"`
	MaxDurationHours int    `json:"max_duration_hours"`
}

// EngineOption configures a CampaignEngine
type EngineOption func(*CampaignEngine)

// WithRandomSource replaces the engine's own time-seeded source
func WithRandomSource(rng models.RandomSource) EngineOption {
	return func(e *CampaignEngine) {
		e.rng = rng
	}
}

// WithEventPublisher sends campaign events to p
func WithEventPublisher(p EventPublisher) EngineOption {
	return func(e *CampaignEngine) {
		e.publisher = p
	}
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) EngineOption {
	return func(e *CampaignEngine) {
		e.clock = clock
	}
}

// WithCampaignDefaults sets the scenario and time budget used when a
// request leaves them empty
func WithCampaignDefaults(scenario string, maxDurationHours int) EngineOption {
	return func(e *CampaignEngine) {
		if scenario != "" {
			e.defaultScenario = scenario
		}
		if maxDurationHours > 0 {
			e.defaultMaxHours = maxDurationHours
		}
	}
}

// CampaignEngine plans and simulates campaigns for the current persona.
// Runs are serialized; history is append-only.
type CampaignEngine struct {
	personas   PersonaSource
	techniques TechniqueLookup
	publisher  EventPublisher
	rng        models.RandomSource
	clock      func() time.Time
	logger     *logger.Logger

	defaultScenario string
	defaultMaxHours int

	// runMu serializes runs and with them every draw from rng
	runMu sync.Mutex

	mu      sync.RWMutex
	persona *models.Persona
	history []*models.Campaign
	byID    map[string]*models.Campaign
}

// NewCampaignEngine creates an engine with no persona set
func NewCampaignEngine(personas PersonaSource, techniques TechniqueLookup, log *logger.Logger, opts ...EngineOption) *CampaignEngine {
	e := &CampaignEngine{
		personas:        personas,
		techniques:      techniques,
		publisher:       nopPublisher{},
		clock:           time.Now,
		logger:          log.WithComponent("campaign-engine"),
		defaultScenario: models.ScenarioFullChain,
		defaultMaxHours: defaultMaxDurationHours,
		byID:            make(map[string]*models.Campaign),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(e.clock().UnixNano()))
	}
	return e
}

// SetPersona loads name and makes it the acting persona
func (e *CampaignEngine) SetPersona(ctx context.Context, name string) error {
	p, err := e.personas.GetPersona(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to set persona: %w", err)
	}

	e.mu.Lock()
	e.persona = p
	e.mu.Unlock()

	e.logger.Info().
		Str("persona", p.Name).
		Str("sophistication", string(p.Sophistication)).
		Str("stealth", string(p.Stealth)).
		Str("speed", string(p.AttackSpeed)).
		Msg("persona set")
	return nil
}

// Persona returns the acting persona, or nil
func (e *CampaignEngine) Persona() *models.Persona {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.persona
}

// RunCampaign plans a campaign for the acting persona and, with
// AutoExecute, simulates every phase. Phase delays only advance the
// simulated timeline. If ctx is cancelled between phases the campaign is
// recorded as cancelled and returned together with ctx's error.
func (e *CampaignEngine) RunCampaign(ctx context.Context, req CampaignRequest) (*models.Campaign, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	persona := e.Persona()
	if persona == nil {
		return nil, models.ErrNoPersona
	}
	if req.Scenario == "" {
		req.Scenario = e.defaultScenario
	}
	if req.MaxDurationHours <= 0 {
		req.MaxDurationHours = e.defaultMaxHours
	}

	c := &models.Campaign{
		ID:               uuid.NewString(),
		Persona:          persona.Summary(),
		Target:           req.Target,
		Scenario:         req.Scenario,
		MaxDurationHours: req.MaxDurationHours,
		AutoExecute:      req.AutoExecute,
		Status:           models.CampaignPlanned,
		StartedAt:        e.clock(),
	}
	log := e.logger.WithCampaign(c.ID).WithPersona(persona.Name)

	c.Plan = e.plan(persona, req.Scenario)
	c.Status = models.CampaignActive
	log.Info().
		Str("target", c.Target).
		Str("scenario", c.Scenario).
		Int("phases", len(c.Plan)).
		Bool("auto_execute", c.AutoExecute).
		Msg("campaign started")
	e.publish(ctx, c, models.EventCampaignStarted, nil)

	cursor := c.StartedAt
	var runErr error

	for i, step := range c.Plan {
		if c.AutoExecute {
			if err := ctx.Err(); err != nil {
				runErr = err
				break
			}
		}
		cursor = cursor.Add(time.Duration(step.ExpectedDelayMinutes) * time.Minute)

		if !c.AutoExecute {
			c.Phases = append(c.Phases, models.PhaseResult{
				ID:            phaseID(i),
				Tactic:        step.Tactic,
				TechniqueID:   step.TechniqueID,
				TechniqueName: step.TechniqueName,
				Target:        c.Target,
				Status:        models.PhasePlanned,
				StealthMode:   step.StealthMode,
				Priority:      step.Priority,
				StartedAt:     cursor,
				EndedAt:       cursor,
			})
			continue
		}

		result := e.executePhase(ctx, persona, c, step, len(c.Phases), cursor, false)
		if result.Status != models.PhaseBlocked && result.Status != models.PhaseFailed {
			continue
		}
		if !persona.ShouldUseStealth(e.rng) {
			log.Debug().Str("tactic", step.Tactic).Msg("phase stopped, persona does not prioritize stealth")
			continue
		}

		alt, ok := persona.SelectTechnique(e.rng, step.Tactic, step.TechniqueID)
		if !ok {
			continue
		}
		altStep := models.PlannedPhase{
			Tactic:               step.Tactic,
			TechniqueID:          alt.ShortID,
			TechniqueName:        alt.Name,
			Description:          models.Truncate(alt.Description, alternativeDescSize),
			ExpectedDelayMinutes: phaseDelay(e.rng, persona),
			StealthMode:          true,
			Priority:             step.Priority,
		}
		log.Info().
			Str("tactic", step.Tactic).
			Str("failed", step.TechniqueID).
			Str("alternative", alt.ShortID).
			Msg("switching to stealthier technique")

		cursor = cursor.Add(time.Duration(altStep.ExpectedDelayMinutes) * time.Minute)
		e.executePhase(ctx, persona, c, altStep, len(c.Phases), cursor, true)
	}

	c.SimulatedEnd = cursor
	c.CompletedAt = e.clock()
	c.Status = models.CampaignCompleted
	if runErr != nil {
		c.Status = models.CampaignCancelled
	}
	c.Metrics = computeMetrics(c)
	e.record(c)

	log.Info().
		Str("status", string(c.Status)).
		Int("executed", c.Metrics.TotalPhases).
		Float64("success_rate", c.Metrics.SuccessRate).
		Float64("detection_rate", c.Metrics.DetectionRate).
		Int("risk_score", c.Metrics.RiskScore).
		Msg("campaign finished")
	e.publish(context.WithoutCancel(ctx), c, models.EventCampaignCompleted, func(ev *models.CampaignEvent) {
		metrics := c.Metrics
		ev.Metrics = &metrics
	})

	return c, runErr
}

func phaseID(i int) string {
	return fmt.Sprintf("phase-%02d", i+1)
}

// plan turns the persona's attack chain into timed, prioritized phases
func (e *CampaignEngine) plan(p *models.Persona, scenario string) []models.PlannedPhase {
	chain := p.AttackChain(e.rng, scenario)
	plan := make([]models.PlannedPhase, 0, len(chain))
	for _, step := range chain {
		delay := phaseDelay(e.rng, p)
		plan = append(plan, models.PlannedPhase{
			Tactic:               step.Tactic,
			TechniqueID:          step.TechniqueID,
			TechniqueName:        step.TechniqueName,
			Description:          step.Description,
			ExpectedDelayMinutes: delay,
			StealthMode:          p.ShouldUseStealth(e.rng),
			Priority:             tacticPriority(p, step.Tactic),
		})
	}
	return plan
}

// executePhase simulates one phase, appends it to the campaign and
// publishes it
func (e *CampaignEngine) executePhase(ctx context.Context, p *models.Persona, c *models.Campaign, step models.PlannedPhase, index int, at time.Time, alternative bool) models.PhaseResult {
	pSuccess := SuccessProbability(p, step.Tactic)
	pDetect := DetectionProbability(p, step.Tactic, step.StealthMode)
	outcome := ResolveOutcome(e.rng, pSuccess, pDetect)

	result := models.PhaseResult{
		ID:                   phaseID(index),
		Tactic:               step.Tactic,
		TechniqueID:          step.TechniqueID,
		TechniqueName:        step.TechniqueName,
		Target:               c.Target,
		Status:               outcome.Status,
		Detected:             outcome.Detected,
		StealthMode:          step.StealthMode,
		Alternative:          alternative,
		Priority:             step.Priority,
		SuccessProbability:   pSuccess,
		DetectionProbability: pDetect,
		StartedAt:            at,
		EndedAt:              at,
	}

	var detection *models.DetectionEvent
	if outcome.Detected {
		detection = &models.DetectionEvent{
			PhaseID:     result.ID,
			Tactic:      step.Tactic,
			TechniqueID: step.TechniqueID,
			Severity:    detectionSeverity(step.Tactic),
			Timestamp:   at,
		}
		c.DetectionEvents = append(c.DetectionEvents, *detection)
	}

	if outcome.Status == models.PhaseSuccess {
		c.TechniquesUsed = append(c.TechniquesUsed, step.TechniqueID)
		switch step.Tactic {
		case models.TacticInitialAccess:
			c.ObjectivesCompleted = append(c.ObjectivesCompleted, models.ObjectiveInitialAccess)
		case models.TacticPersistence:
			c.ObjectivesCompleted = append(c.ObjectivesCompleted, models.ObjectivePersistence)
		case models.TacticExfiltration:
			c.ObjectivesCompleted = append(c.ObjectivesCompleted, models.ObjectiveDataExfiltrated)
			c.DataExfiltratedMB += randBetween(e.rng, 1, 100)
		}
	}

	result.Artifacts = phaseArtifacts(e.rng, step.Tactic)
	result.Indicators = phaseIndicators(step.TechniqueID)
	result.Mitigations = phaseMitigations(e.techniques, step.TechniqueID)

	c.Phases = append(c.Phases, result)

	entry := e.logger.Debug()
	if result.Status == models.PhaseBlocked {
		entry = e.logger.Warn()
	}
	entry.Str("campaign_id", c.ID).
		Str("tactic", result.Tactic).
		Str("technique", result.TechniqueID).
		Str("status", string(result.Status)).
		Bool("detected", result.Detected).
		Msg("phase executed")

	e.publish(ctx, c, models.EventPhaseExecuted, func(ev *models.CampaignEvent) {
		ev.Phase = &result
	})
	if detection != nil {
		e.publish(ctx, c, models.EventDetectionRaised, func(ev *models.CampaignEvent) {
			ev.Detection = detection
		})
	}
	return result
}

func (e *CampaignEngine) publish(ctx context.Context, c *models.Campaign, typ models.CampaignEventType, fill func(*models.CampaignEvent)) {
	ev := &models.CampaignEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		Timestamp:  e.clock(),
		CampaignID: c.ID,
		Persona:    c.Persona.Name,
		Target:     c.Target,
		Status:     c.Status,
	}
	if fill != nil {
		fill(ev)
	}
	if err := e.publisher.PublishCampaignEvent(ctx, ev); err != nil {
		e.logger.Warn().Err(err).Str("campaign_id", c.ID).Str("event", string(typ)).Msg("failed to publish campaign event")
	}
}

func (e *CampaignEngine) record(c *models.Campaign) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, c)
	e.byID[c.ID] = c
}

// History returns every finished campaign, oldest first
func (e *CampaignEngine) History() []*models.Campaign {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*models.Campaign(nil), e.history...)
}

// Campaign returns a campaign by id. An empty id selects the latest.
func (e *CampaignEngine) Campaign(id string) (*models.Campaign, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if id == "" {
		if len(e.history) == 0 {
			return nil, models.ErrCampaignNotFound
		}
		return e.history[len(e.history)-1], nil
	}
	c, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrCampaignNotFound, id)
	}
	return c, nil
}
