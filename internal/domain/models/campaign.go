package models

import "time"

// CampaignStatus is the lifecycle state of a simulated campaign
type CampaignStatus string

const (
	CampaignPlanned   CampaignStatus = "planned"
	CampaignActive    CampaignStatus = "active"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// PhaseStatus is the outcome of one phase
type PhaseStatus string

const (
	PhasePlanned PhaseStatus = "planned"
	PhaseSuccess PhaseStatus = "success"
	PhaseFailed  PhaseStatus = "failed"
	PhaseBlocked PhaseStatus = "blocked"
)

// Severity of a detection event
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Objective is a milestone recorded when a phase of a given tactic succeeds
type Objective string

const (
	ObjectiveInitialAccess   Objective = "initial_access"
	ObjectivePersistence     Objective = "persistence_established"
	ObjectiveDataExfiltrated Objective = "data_exfiltrated"
)

// PlannedPhase is one step of a campaign plan
type PlannedPhase struct {
	Tactic               string `json:"tactic"`
	TechniqueID          string `json:"technique_id"`
	TechniqueName        string `json:"technique_name"`
	Description          string `json:"description"`
	ExpectedDelayMinutes int    `json:"expected_delay_minutes"`
	StealthMode          bool   `json:"stealth_mode"`
	Priority             int    `json:"priority"`
}

// Artifact is a simulated forensic trace left by a phase
type Artifact struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	IOC         string `json:"ioc"`
}

// PhaseResult records how a planned phase played out
type PhaseResult struct {
	ID            string      `json:"phase_id"`
	Tactic        string      `json:"tactic"`
	TechniqueID   string      `json:"technique_id"`
	TechniqueName string      `json:"technique_name"`
	Target        string      `json:"target"`
	Status        PhaseStatus `json:"status"`
	Detected      bool        `json:"detected"`
	StealthMode   bool        `json:"stealth_mode"`
	Alternative   bool        `json:"alternative,omitempty"`
	Priority      int         `json:"priority"`

	SuccessProbability   float64 `json:"success_probability,omitempty"`
	DetectionProbability float64 `json:"detection_probability,omitempty"`

	Artifacts   []Artifact `json:"artifacts,omitempty"`
	Indicators  []string   `json:"indicators,omitempty"`
	Mitigations []string   `json:"mitigation_suggestions,omitempty"`

	StartedAt time.Time `json:"start_time"`
	EndedAt   time.Time `json:"end_time"`
}

// Executed reports whether the phase was run rather than only planned
func (r PhaseResult) Executed() bool {
	return r.Status != PhasePlanned
}

// DetectionEvent is raised whenever a phase is detected
type DetectionEvent struct {
	PhaseID     string    `json:"phase_id"`
	Tactic      string    `json:"phase"`
	TechniqueID string    `json:"technique"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// ObjectivesAchieved is the boolean objective summary of a finished campaign
type ObjectivesAchieved struct {
	InitialAccess   bool `json:"initial_access"`
	Persistence     bool `json:"persistence"`
	DataTheft       bool `json:"data_theft"`
	LateralMovement bool `json:"lateral_movement"`
}

// CampaignMetrics is computed once when the campaign leaves Active
type CampaignMetrics struct {
	TotalPhases      int                `json:"total_phases"`
	SuccessfulPhases int                `json:"successful_phases"`
	DetectedPhases   int                `json:"detected_phases"`
	SuccessRate      float64            `json:"success_rate"`
	DetectionRate    float64            `json:"detection_rate"`
	RiskScore        int                `json:"risk_score"`
	Objectives       ObjectivesAchieved `json:"objectives_achieved"`
}

// Campaign is one simulated campaign. It must be treated as read-only once
// returned by the engine.
type Campaign struct {
	ID               string         `json:"id"`
	Persona          PersonaSummary `json:"persona"`
	Target           string         `json:"target"`
	Scenario         string         `json:"scenario"`
	MaxDurationHours int            `json:"max_duration_hours"`
	AutoExecute      bool           `json:"auto_execute"`
	Status           CampaignStatus `json:"status"`

	StartedAt   time.Time `json:"start_time"`
	CompletedAt time.Time `json:"end_time"`
	// SimulatedEnd is StartedAt plus every advisory phase delay
	SimulatedEnd time.Time `json:"simulated_end_time"`

	Plan                []PlannedPhase   `json:"attack_plan"`
	Phases              []PhaseResult    `json:"phases"`
	TechniquesUsed      []string         `json:"techniques_used"`
	ObjectivesCompleted []Objective      `json:"objectives_completed"`
	DetectionEvents     []DetectionEvent `json:"detection_events"`
	DataExfiltratedMB   int              `json:"data_exfiltrated"`

	Metrics CampaignMetrics `json:"metrics"`
}

// HasObjective reports whether o was recorded at least once
func (c *Campaign) HasObjective(o Objective) bool {
	for _, got := range c.ObjectivesCompleted {
		if got == o {
			return true
		}
	}
	return false
}

// SimulatedDuration is the span covered by the campaign's advisory timeline
func (c *Campaign) SimulatedDuration() time.Duration {
	if c.SimulatedEnd.IsZero() || c.StartedAt.IsZero() {
		return 0
	}
	return c.SimulatedEnd.Sub(c.StartedAt)
}

// CampaignEventType classifies events emitted while a campaign runs
type CampaignEventType string

const (
	EventCampaignStarted   CampaignEventType = "campaign.started"
	EventPhaseExecuted     CampaignEventType = "phase.executed"
	EventDetectionRaised   CampaignEventType = "detection.raised"
	EventCampaignCompleted CampaignEventType = "campaign.completed"
)

// CampaignEvent is published to the event bus as the engine progresses
type CampaignEvent struct {
	ID         string            `json:"id"`
	Type       CampaignEventType `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	CampaignID string            `json:"campaign_id"`
	Persona    string            `json:"persona"`
	Target     string            `json:"target"`

	Phase     *PhaseResult     `json:"phase,omitempty"`
	Detection *DetectionEvent  `json:"detection,omitempty"`
	Metrics   *CampaignMetrics `json:"metrics,omitempty"`
	Status    CampaignStatus   `json:"status,omitempty"`
}
