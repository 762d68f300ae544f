package models

import (
	"fmt"
	"sort"
)

// RandomSource is the only source of randomness the simulation draws from.
// *math/rand.Rand satisfies it; tests substitute fixed sources.
type RandomSource interface {
	Float64() float64
	Intn(n int) int
}

// SophisticationLevel grades an actor's tradecraft
type SophisticationLevel string

const (
	SophisticationLow      SophisticationLevel = "low"
	SophisticationMedium   SophisticationLevel = "medium"
	SophisticationHigh     SophisticationLevel = "high"
	SophisticationAdvanced SophisticationLevel = "advanced"
)

// Valid reports whether s is a known level
func (s SophisticationLevel) Valid() bool {
	switch s {
	case SophisticationLow, SophisticationMedium, SophisticationHigh, SophisticationAdvanced:
		return true
	}
	return false
}

// StealthLevel describes how much an actor avoids detection
type StealthLevel string

const (
	StealthNoisy    StealthLevel = "noisy"
	StealthBalanced StealthLevel = "balanced"
	StealthStealthy StealthLevel = "stealthy"
)

// Valid reports whether s is a known level
func (s StealthLevel) Valid() bool {
	switch s {
	case StealthNoisy, StealthBalanced, StealthStealthy:
		return true
	}
	return false
}

// AttackSpeed is the operational tempo of an actor
type AttackSpeed string

const (
	SpeedSlow       AttackSpeed = "slow"
	SpeedModerate   AttackSpeed = "moderate"
	SpeedFast       AttackSpeed = "fast"
	SpeedAggressive AttackSpeed = "aggressive"
)

// Valid reports whether s is a known speed
func (s AttackSpeed) Valid() bool {
	switch s {
	case SpeedSlow, SpeedModerate, SpeedFast, SpeedAggressive:
		return true
	}
	return false
}

// Tactic short names used by the attack chain scenarios
const (
	TacticReconnaissance      = "reconnaissance"
	TacticInitialAccess       = "initial-access"
	TacticExecution           = "execution"
	TacticPersistence         = "persistence"
	TacticPrivilegeEscalation = "privilege-escalation"
	TacticDefenseEvasion      = "defense-evasion"
	TacticCredentialAccess    = "credential-access"
	TacticDiscovery           = "discovery"
	TacticLateralMovement     = "lateral-movement"
	TacticCollection          = "collection"
	TacticCommandAndControl   = "command-and-control"
	TacticExfiltration        = "exfiltration"
	TacticImpact              = "impact"
)

// Scenario names
const (
	ScenarioFullChain  = "full_chain"
	ScenarioRansomware = "ransomware"
	ScenarioDataTheft  = "data_theft"
)

var scenarioTactics = map[string][]string{
	ScenarioFullChain: {
		TacticReconnaissance, TacticInitialAccess, TacticExecution, TacticPersistence,
		TacticPrivilegeEscalation, TacticDefenseEvasion, TacticCredentialAccess,
		TacticDiscovery, TacticLateralMovement, TacticCollection,
		TacticCommandAndControl, TacticExfiltration, TacticImpact,
	},
	ScenarioRansomware: {
		TacticInitialAccess, TacticExecution, TacticPrivilegeEscalation,
		TacticDefenseEvasion, TacticDiscovery, TacticLateralMovement, TacticImpact,
	},
	ScenarioDataTheft: {
		TacticInitialAccess, TacticExecution, TacticPersistence, TacticCredentialAccess,
		TacticDiscovery, TacticCollection, TacticExfiltration,
	},
}

// ScenarioTactics returns the ordered tactic list of a named scenario
func ScenarioTactics(scenario string) ([]string, bool) {
	tactics, ok := scenarioTactics[scenario]
	if !ok {
		return nil, false
	}
	return append([]string(nil), tactics...), true
}

const (
	preferredPerTactic   = 5
	preferredToolCount   = 5
	chainDescriptionSize = 200
)

// Generation methods recorded on a persona
const (
	GenerationCurated   = "curated"
	GenerationAutomated = "automated"
	GenerationDefault   = "default"
	GenerationCustom    = "custom"
)

// PersonaConfig is the behavioural parameter bundle applied on top of a
// group's knowledge-graph data
type PersonaConfig struct {
	Sophistication        SophisticationLevel `yaml:"sophistication_level" json:"sophistication_level"`
	Stealth               StealthLevel        `yaml:"stealth_preference" json:"stealth_preference"`
	AttackSpeed           AttackSpeed         `yaml:"attack_speed" json:"attack_speed"`
	TargetIndustries      []string            `yaml:"target_industries" json:"target_industries"`
	TargetRegions         []string            `yaml:"target_regions" json:"target_regions"`
	Motivations           []string            `yaml:"motivations" json:"motivations"`
	PreferredTools        []string            `yaml:"preferred_tools,omitempty" json:"preferred_tools,omitempty"`
	Description           string              `yaml:"description_override,omitempty" json:"description_override,omitempty"`
	DetectionSensitivity  float64             `yaml:"detection_sensitivity" json:"detection_sensitivity"`
	PersistencePriority   float64             `yaml:"persistence_priority" json:"persistence_priority"`
	ExfiltrationPriority  float64             `yaml:"data_exfiltration_priority" json:"data_exfiltration_priority"`
	MaxTechniquesPerPhase int                 `yaml:"max_techniques_per_phase" json:"max_techniques_per_phase"`
	TechniqueSuccessRate  float64             `yaml:"technique_success_rate,omitempty" json:"technique_success_rate,omitempty"`
	GenerationMethod      string              `yaml:"generation_method,omitempty" json:"generation_method,omitempty"`
	ConfidenceScore       float64             `yaml:"confidence_score,omitempty" json:"confidence_score,omitempty"`
}

// DefaultPersonaConfig is applied when nothing is known about a group
func DefaultPersonaConfig() PersonaConfig {
	return PersonaConfig{
		Sophistication:        SophisticationMedium,
		Stealth:               StealthBalanced,
		AttackSpeed:           SpeedModerate,
		DetectionSensitivity:  0.5,
		PersistencePriority:   0.8,
		ExfiltrationPriority:  0.6,
		MaxTechniquesPerPhase: 3,
		TechniqueSuccessRate:  0.7,
		GenerationMethod:      GenerationDefault,
	}
}

// WithDefaults fills unset (zero) fields from DefaultPersonaConfig
func (c PersonaConfig) WithDefaults() PersonaConfig {
	d := DefaultPersonaConfig()
	if !c.Sophistication.Valid() {
		c.Sophistication = d.Sophistication
	}
	if !c.Stealth.Valid() {
		c.Stealth = d.Stealth
	}
	if !c.AttackSpeed.Valid() {
		c.AttackSpeed = d.AttackSpeed
	}
	if c.DetectionSensitivity == 0 {
		c.DetectionSensitivity = d.DetectionSensitivity
	}
	if c.PersistencePriority == 0 {
		c.PersistencePriority = d.PersistencePriority
	}
	if c.ExfiltrationPriority == 0 {
		c.ExfiltrationPriority = d.ExfiltrationPriority
	}
	if c.MaxTechniquesPerPhase <= 0 {
		c.MaxTechniquesPerPhase = d.MaxTechniquesPerPhase
	}
	if c.TechniqueSuccessRate == 0 {
		c.TechniqueSuccessRate = d.TechniqueSuccessRate
	}
	if c.GenerationMethod == "" {
		c.GenerationMethod = d.GenerationMethod
	}
	return c
}

// Merge overlays every non-zero field of over onto c
func (c PersonaConfig) Merge(over PersonaConfig) PersonaConfig {
	if over.Sophistication != "" {
		c.Sophistication = over.Sophistication
	}
	if over.Stealth != "" {
		c.Stealth = over.Stealth
	}
	if over.AttackSpeed != "" {
		c.AttackSpeed = over.AttackSpeed
	}
	if over.TargetIndustries != nil {
		c.TargetIndustries = over.TargetIndustries
	}
	if over.TargetRegions != nil {
		c.TargetRegions = over.TargetRegions
	}
	if over.Motivations != nil {
		c.Motivations = over.Motivations
	}
	if over.PreferredTools != nil {
		c.PreferredTools = over.PreferredTools
	}
	if over.Description != "" {
		c.Description = over.Description
	}
	if over.DetectionSensitivity != 0 {
		c.DetectionSensitivity = over.DetectionSensitivity
	}
	if over.PersistencePriority != 0 {
		c.PersistencePriority = over.PersistencePriority
	}
	if over.ExfiltrationPriority != 0 {
		c.ExfiltrationPriority = over.ExfiltrationPriority
	}
	if over.MaxTechniquesPerPhase != 0 {
		c.MaxTechniquesPerPhase = over.MaxTechniquesPerPhase
	}
	if over.TechniqueSuccessRate != 0 {
		c.TechniqueSuccessRate = over.TechniqueSuccessRate
	}
	if over.GenerationMethod != "" {
		c.GenerationMethod = over.GenerationMethod
	}
	if over.ConfidenceScore != 0 {
		c.ConfidenceScore = over.ConfidenceScore
	}
	return c
}

// Validate rejects enum values outside the known levels. Empty values are
// accepted and later filled by WithDefaults.
func (c PersonaConfig) Validate() error {
	switch {
	case c.Sophistication != "" && !c.Sophistication.Valid():
		return fmt.Errorf("%w: unknown sophistication level %q", ErrInvalidPersona, c.Sophistication)
	case c.Stealth != "" && !c.Stealth.Valid():
		return fmt.Errorf("%w: unknown stealth preference %q", ErrInvalidPersona, c.Stealth)
	case c.AttackSpeed != "" && !c.AttackSpeed.Valid():
		return fmt.Errorf("%w: unknown attack speed %q", ErrInvalidPersona, c.AttackSpeed)
	case c.MaxTechniquesPerPhase < 0:
		return fmt.Errorf("%w: max techniques per phase must not be negative", ErrInvalidPersona)
	}
	ratios := []struct {
		name  string
		value float64
	}{
		{"detection_sensitivity", c.DetectionSensitivity},
		{"persistence_priority", c.PersistencePriority},
		{"data_exfiltration_priority", c.ExfiltrationPriority},
		{"technique_success_rate", c.TechniqueSuccessRate},
	}
	for _, r := range ratios {
		if r.value < 0 || r.value > 1 {
			return fmt.Errorf("%w: %s must be within [0, 1], got %v", ErrInvalidPersona, r.name, r.value)
		}
	}
	return nil
}

// Persona is the behavioural profile of one threat actor. It is immutable
// once built; every randomized decision draws from a caller-supplied source.
type Persona struct {
	STIXID      string   `json:"stix_id"`
	MitreID     string   `json:"mitre_id"`
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases"`
	Description string   `json:"description"`

	Tactics    []string `json:"tactics"`
	Techniques []Entity `json:"-"`
	Software   []Entity `json:"-"`

	PreferredTechniques map[string][]string `json:"preferred_techniques"`
	PreferredTools      []string            `json:"preferred_tools"`

	Sophistication   SophisticationLevel `json:"sophistication_level"`
	Stealth          StealthLevel        `json:"stealth_preference"`
	AttackSpeed      AttackSpeed         `json:"attack_speed"`
	TargetIndustries []string            `json:"target_industries"`
	TargetRegions    []string            `json:"target_regions"`
	Motivations      []string            `json:"motivations"`

	MaxTechniquesPerPhase int     `json:"max_techniques_per_phase"`
	TechniqueSuccessRate  float64 `json:"technique_success_rate"`
	DetectionSensitivity  float64 `json:"detection_sensitivity"`
	PersistencePriority   float64 `json:"persistence_priority"`
	ExfiltrationPriority  float64 `json:"data_exfiltration_priority"`

	GenerationMethod string  `json:"generation_method"`
	ConfidenceScore  float64 `json:"confidence_score,omitempty"`
}

// NewPersona assembles a persona from a group, the techniques and software it
// uses, and a parameter bundle
func NewPersona(group Entity, techniques, software []Entity, cfg PersonaConfig) *Persona {
	cfg = cfg.WithDefaults()

	p := &Persona{
		STIXID:                group.ID,
		MitreID:               group.ShortID,
		Name:                  group.Name,
		Aliases:               append([]string(nil), group.Aliases...),
		Description:           group.Description,
		Techniques:            append([]Entity(nil), techniques...),
		Software:              append([]Entity(nil), software...),
		Sophistication:        cfg.Sophistication,
		Stealth:               cfg.Stealth,
		AttackSpeed:           cfg.AttackSpeed,
		TargetIndustries:      append([]string(nil), cfg.TargetIndustries...),
		TargetRegions:         append([]string(nil), cfg.TargetRegions...),
		Motivations:           append([]string(nil), cfg.Motivations...),
		MaxTechniquesPerPhase: cfg.MaxTechniquesPerPhase,
		TechniqueSuccessRate:  cfg.TechniqueSuccessRate,
		DetectionSensitivity:  cfg.DetectionSensitivity,
		PersistencePriority:   cfg.PersistencePriority,
		ExfiltrationPriority:  cfg.ExfiltrationPriority,
		GenerationMethod:      cfg.GenerationMethod,
		ConfidenceScore:       cfg.ConfidenceScore,
	}
	if p.MitreID == "" {
		p.MitreID = group.ResolveShortID()
	}
	if cfg.Description != "" {
		p.Description = cfg.Description
	}

	p.derive(cfg.PreferredTools)
	return p
}

// derive computes tactics and the preferred lists from techniques and software.
// Configured tools are only used when the group has no software of its own.
func (p *Persona) derive(configuredTools []string) {
	seen := make(map[string]struct{})
	byTactic := make(map[string][]string)
	for _, t := range p.Techniques {
		for _, tactic := range t.Tactics() {
			if _, ok := seen[tactic]; !ok {
				seen[tactic] = struct{}{}
				p.Tactics = append(p.Tactics, tactic)
			}
			if len(byTactic[tactic]) < preferredPerTactic && t.ShortID != "" {
				byTactic[tactic] = append(byTactic[tactic], t.ShortID)
			}
		}
	}
	sort.Strings(p.Tactics)
	p.PreferredTechniques = byTactic

	p.PreferredTools = nil
	for _, s := range p.Software {
		if len(p.PreferredTools) == preferredToolCount {
			break
		}
		p.PreferredTools = append(p.PreferredTools, s.Name)
	}
	if len(p.PreferredTools) == 0 {
		for _, name := range configuredTools {
			if len(p.PreferredTools) == preferredToolCount {
				break
			}
			p.PreferredTools = append(p.PreferredTools, name)
		}
	}
}

// SelectTechnique picks one of the persona's techniques classified under
// tactic, skipping any whose short id or STIX id is in exclude. Advanced
// actors choose uniformly at random; everyone else takes the first match.
func (p *Persona) SelectTechnique(rng RandomSource, tactic string, exclude ...string) (Entity, bool) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	var candidates []Entity
	for _, t := range p.Techniques {
		if !t.HasTactic(tactic) {
			continue
		}
		if _, ok := excluded[t.ShortID]; ok {
			continue
		}
		if _, ok := excluded[t.ID]; ok {
			continue
		}
		candidates = append(candidates, t)
	}

	if len(candidates) == 0 {
		return Entity{}, false
	}
	if p.Sophistication == SophisticationAdvanced {
		return candidates[rng.Intn(len(candidates))], true
	}
	return candidates[0], true
}

// Config returns the parameter bundle the persona was built from
func (p *Persona) Config() PersonaConfig {
	return PersonaConfig{
		Sophistication:        p.Sophistication,
		Stealth:               p.Stealth,
		AttackSpeed:           p.AttackSpeed,
		TargetIndustries:      append([]string(nil), p.TargetIndustries...),
		TargetRegions:         append([]string(nil), p.TargetRegions...),
		Motivations:           append([]string(nil), p.Motivations...),
		PreferredTools:        append([]string(nil), p.PreferredTools...),
		Description:           p.Description,
		DetectionSensitivity:  p.DetectionSensitivity,
		PersistencePriority:   p.PersistencePriority,
		ExfiltrationPriority:  p.ExfiltrationPriority,
		MaxTechniquesPerPhase: p.MaxTechniquesPerPhase,
		TechniqueSuccessRate:  p.TechniqueSuccessRate,
		GenerationMethod:      p.GenerationMethod,
		ConfidenceScore:       p.ConfidenceScore,
	}
}

// ChainStep is one tactic of an attack chain with the technique chosen for it
type ChainStep struct {
	Tactic        string `json:"tactic"`
	TechniqueID   string `json:"technique_id"`
	TechniqueName string `json:"technique_name"`
	Description   string `json:"description"`
}

// AttackChain builds an ordered chain for a named scenario. Unknown scenario
// names fall back to the persona's own sorted tactics. Tactics for which the
// persona has no technique are skipped.
func (p *Persona) AttackChain(rng RandomSource, scenario string) []ChainStep {
	tactics, ok := ScenarioTactics(scenario)
	if !ok {
		tactics = p.Tactics
	}

	var chain []ChainStep
	for _, tactic := range tactics {
		t, ok := p.SelectTechnique(rng, tactic)
		if !ok {
			continue
		}
		chain = append(chain, ChainStep{
			Tactic:        tactic,
			TechniqueID:   t.ShortID,
			TechniqueName: t.Name,
			Description:   Truncate(t.Description, chainDescriptionSize),
		})
	}
	return chain
}

// ShouldUseStealth draws once and reports whether this decision favours stealth
func (p *Persona) ShouldUseStealth(rng RandomSource) bool {
	var threshold float64
	switch p.Stealth {
	case StealthStealthy:
		threshold = 0.9
	case StealthNoisy:
		threshold = 0.1
	default:
		threshold = 0.5
	}
	return rng.Float64() < threshold
}

// DwellTimeDays is the expected time the actor stays in a network
func (p *Persona) DwellTimeDays() int {
	var days float64
	switch p.Sophistication {
	case SophisticationLow:
		days = 30
	case SophisticationHigh:
		days = 180
	case SophisticationAdvanced:
		days = 365
	default:
		days = 90
	}

	switch p.Stealth {
	case StealthStealthy:
		days *= 1.5
	case StealthNoisy:
		days *= 0.5
	}
	return int(days)
}

// PersonaSummary is the serializable snapshot of a persona
type PersonaSummary struct {
	STIXID               string              `json:"stix_id"`
	MitreID              string              `json:"mitre_id"`
	Name                 string              `json:"name"`
	Aliases              []string            `json:"aliases"`
	Description          string              `json:"description"`
	Sophistication       SophisticationLevel `json:"sophistication_level"`
	Stealth              StealthLevel        `json:"stealth_preference"`
	AttackSpeed          AttackSpeed         `json:"attack_speed"`
	TargetIndustries     []string            `json:"target_industries"`
	TargetRegions        []string            `json:"target_regions"`
	Motivations          []string            `json:"motivations"`
	Tactics              []string            `json:"tactics"`
	TechniqueCount       int                 `json:"technique_count"`
	SoftwareCount        int                 `json:"software_count"`
	SoftwareNames        []string            `json:"software_names"`
	PreferredTools       []string            `json:"preferred_tools"`
	DwellTimeDays        int                 `json:"dwell_time_days"`
	DetectionSensitivity float64             `json:"detection_sensitivity"`
	PersistencePriority  float64             `json:"persistence_priority"`
	ExfiltrationPriority float64             `json:"data_exfiltration_priority"`
	GenerationMethod     string              `json:"generation_method"`
}

// Summary snapshots the persona for campaigns and listings
func (p *Persona) Summary() PersonaSummary {
	var names []string
	for i, s := range p.Software {
		if i == preferredToolCount {
			break
		}
		names = append(names, s.Name)
	}

	return PersonaSummary{
		STIXID:               p.STIXID,
		MitreID:              p.MitreID,
		Name:                 p.Name,
		Aliases:              p.Aliases,
		Description:          p.Description,
		Sophistication:       p.Sophistication,
		Stealth:              p.Stealth,
		AttackSpeed:          p.AttackSpeed,
		TargetIndustries:     p.TargetIndustries,
		TargetRegions:        p.TargetRegions,
		Motivations:          p.Motivations,
		Tactics:              p.Tactics,
		TechniqueCount:       len(p.Techniques),
		SoftwareCount:        len(p.Software),
		SoftwareNames:        names,
		PreferredTools:       p.PreferredTools,
		DwellTimeDays:        p.DwellTimeDays(),
		DetectionSensitivity: p.DetectionSensitivity,
		PersistencePriority:  p.PersistencePriority,
		ExfiltrationPriority: p.ExfiltrationPriority,
		GenerationMethod:     p.GenerationMethod,
	}
}

// TechniqueIDs returns the short ids of every technique the persona uses
func (p *Persona) TechniqueIDs() []string {
	ids := make([]string, 0, len(p.Techniques))
	for _, t := range p.Techniques {
		ids = append(ids, t.ShortID)
	}
	return ids
}

func (p *Persona) String() string {
	return fmt.Sprintf("Persona(%s, %s, %d techniques, %s)", p.Name, p.MitreID, len(p.Techniques), p.Sophistication)
}

// Truncate cuts s to at most n runes, marking the cut with "..."
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
