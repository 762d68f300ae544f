package services

import (
	"fmt"
	"strings"

	"adversary-lab/internal/domain/models"
)

const (
	baseDetectionProbability = 0.3
	maxSuccessProbability    = 0.95
	maxDetectionProbability  = 0.9
	blockProbability         = 0.3
	defaultMitigation        = "Implement defense-in-depth strategy"
	maxMitigations           = 3
)

var sophisticationModifier = map[models.SophisticationLevel]float64{
	models.SophisticationLow:      0.8,
	models.SophisticationMedium:   0.9,
	models.SophisticationHigh:     1.0,
	models.SophisticationAdvanced: 1.1,
}

// tactics that are harder to pull off
var difficultTactics = map[string]bool{
	models.TacticPrivilegeEscalation: true,
	models.TacticDefenseEvasion:      true,
	models.TacticPersistence:         true,
}

// tactics that are more visible to defenders
var highVisibilityTactics = map[string]bool{
	models.TacticImpact:          true,
	models.TacticExfiltration:    true,
	models.TacticLateralMovement: true,
}

// SuccessProbability is the chance a persona's technique under tactic
// succeeds, capped at 0.95
func SuccessProbability(p *models.Persona, tactic string) float64 {
	prob := p.TechniqueSuccessRate
	if mod, ok := sophisticationModifier[p.Sophistication]; ok {
		prob *= mod
	}
	if difficultTactics[tactic] {
		prob *= 0.85
	}
	return clamp(prob, 0, maxSuccessProbability)
}

// DetectionProbability is the chance a phase is detected, capped at 0.9
func DetectionProbability(p *models.Persona, tactic string, stealthMode bool) float64 {
	prob := baseDetectionProbability
	switch p.Stealth {
	case models.StealthStealthy:
		prob *= 0.5
	case models.StealthNoisy:
		prob *= 1.5
	}
	if highVisibilityTactics[tactic] {
		prob *= 1.3
	}
	if stealthMode {
		prob *= 0.6
	}
	return clamp(prob, 0, maxDetectionProbability)
}

// Outcome is the resolved result of one phase attempt
type Outcome struct {
	Status   models.PhaseStatus
	Detected bool
}

// ResolveOutcome draws success, then detection, then (only when detected)
// whether defenders blocked the phase
func ResolveOutcome(rng models.RandomSource, pSuccess, pDetect float64) Outcome {
	out := Outcome{Status: models.PhaseFailed}
	if rng.Float64() < pSuccess {
		out.Status = models.PhaseSuccess
	}
	out.Detected = rng.Float64() < pDetect
	if out.Detected && rng.Float64() < blockProbability {
		out.Status = models.PhaseBlocked
	}
	return out
}

// RiskScore weighs achieved objectives and discounts for detection. The
// result is within [0, 100].
func RiskScore(o models.ObjectivesAchieved, detectionRate float64) int {
	score := 0.0
	if o.InitialAccess {
		score += 20
	}
	if o.Persistence {
		score += 25
	}
	if o.DataTheft {
		score += 30
	}
	if o.LateralMovement {
		score += 25
	}
	score *= 1 - clamp(detectionRate, 0, 1)*0.3
	return int(clamp(score, 0, 100))
}

func randBetween(rng models.RandomSource, lo, hi int) int {
	return lo + rng.Intn(hi-lo+1)
}

// phaseDelay is the advisory wait before a phase, in minutes
func phaseDelay(rng models.RandomSource, p *models.Persona) int {
	var delay float64
	switch p.AttackSpeed {
	case models.SpeedSlow:
		delay = float64(randBetween(rng, 60, 240))
	case models.SpeedFast:
		delay = float64(randBetween(rng, 1, 15))
	case models.SpeedAggressive:
		delay = float64(randBetween(rng, 0, 2))
	default:
		delay = float64(randBetween(rng, 15, 60))
	}
	if p.Stealth == models.StealthStealthy {
		delay *= 1.5 + rng.Float64()
	}
	return int(delay)
}

// tacticPriority ranks a tactic against the persona's goals
func tacticPriority(p *models.Persona, tactic string) int {
	switch tactic {
	case models.TacticInitialAccess:
		return 10
	case models.TacticExecution:
		return 9
	case models.TacticPersistence:
		if p.PersistencePriority > 0.7 {
			return 8
		}
		return 5
	case models.TacticPrivilegeEscalation:
		return 7
	case models.TacticDefenseEvasion:
		if p.Stealth == models.StealthStealthy {
			return 8
		}
		return 4
	case models.TacticCredentialAccess, models.TacticLateralMovement, models.TacticCommandAndControl:
		return 6
	case models.TacticDiscovery:
		return 5
	case models.TacticCollection:
		if p.ExfiltrationPriority > 0.7 {
			return 7
		}
		return 3
	case models.TacticExfiltration:
		if p.ExfiltrationPriority > 0.7 {
			return 8
		}
		return 3
	case models.TacticImpact:
		return 4
	default:
		return 5
	}
}

func detectionSeverity(tactic string) models.Severity {
	if tactic == models.TacticImpact || tactic == models.TacticExfiltration {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

var executionBinaries = []string{"powershell.exe", "cmd.exe", "wscript.exe"}

// phaseArtifacts fabricates the forensic traces a phase of tactic leaves
func phaseArtifacts(rng models.RandomSource, tactic string) []models.Artifact {
	switch tactic {
	case models.TacticInitialAccess:
		return []models.Artifact{{
			Type:        "network",
			Description: "Suspicious external connection",
			IOC: fmt.Sprintf("185.%d.%d.%d",
				randBetween(rng, 1, 255), randBetween(rng, 1, 255), randBetween(rng, 1, 255)),
		}}
	case models.TacticExecution:
		return []models.Artifact{{
			Type:        "process",
			Description: "Suspicious process execution",
			IOC:         executionBinaries[rng.Intn(len(executionBinaries))],
		}}
	case models.TacticPersistence:
		return []models.Artifact{{
			Type:        "registry",
			Description: "Registry key modification",
			IOC:         `HKLM\Software\Microsoft\Windows\CurrentVersion\Run`,
		}}
	case models.TacticExfiltration:
		return []models.Artifact{{
			Type:        "network",
			Description: "Large data transfer",
			IOC:         fmt.Sprintf("%d MB uploaded", randBetween(rng, 10, 500)),
		}}
	}
	return nil
}

var techniqueIndicators = []struct {
	code       string
	indicators []string
}{
	{"T1566", []string{"Suspicious email with attachment", "User clicked on external link"}},
	{"T1055", []string{"Process memory modification detected", "Unusual process behavior"}},
	{"T1003", []string{"lsass.exe access detected", "Suspicious credential access"}},
	{"T1041", []string{"Unusual outbound traffic volume", "Connection to known C2 infrastructure"}},
}

// phaseIndicators returns indicators of compromise for a technique. Sub
// techniques (T1566.001) share their parent's indicators.
func phaseIndicators(techniqueID string) []string {
	for _, entry := range techniqueIndicators {
		if strings.Contains(techniqueID, entry.code) {
			return append([]string(nil), entry.indicators...)
		}
	}
	return nil
}

var tacticMitigations = map[string][]string{
	models.TacticInitialAccess: {
		"Implement email filtering and sandboxing",
		"User security awareness training",
		"Network segmentation",
	},
	models.TacticExecution: {
		"Application whitelisting",
		"Disable unnecessary scripting engines",
		"Monitor process creation",
	},
	models.TacticPersistence: {
		"Regular system audits",
		"Monitor autostart locations",
		"Implement least privilege",
	},
	models.TacticExfiltration: {
		"Data loss prevention (DLP)",
		"Network traffic monitoring",
		"Encrypt sensitive data",
	},
}

// phaseMitigations suggests up to three defences for a technique, by the
// tactics it is classified under. Unknown techniques and tactics without
// guidance get a generic suggestion.
func phaseMitigations(lookup TechniqueLookup, techniqueID string) []string {
	technique, ok := lookup.TechniqueByShortID(techniqueID)
	if !ok {
		return []string{defaultMitigation}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, tactic := range technique.Tactics() {
		for _, m := range tacticMitigations[tactic] {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
			if len(out) == maxMitigations {
				return out
			}
		}
	}
	if len(out) == 0 {
		return []string{defaultMitigation}
	}
	return out
}
