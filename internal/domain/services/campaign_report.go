package services

import (
	"fmt"
	"time"

	"adversary-lab/internal/domain/models"
)

const maxRecommendations = 5

// computeMetrics summarizes the phases that actually ran. Planned-only
// phases are ignored so a campaign without auto execution scores zero.
func computeMetrics(c *models.Campaign) models.CampaignMetrics {
	var m models.CampaignMetrics
	for _, ph := range c.Phases {
		if !ph.Executed() {
			continue
		}
		m.TotalPhases++
		if ph.Status == models.PhaseSuccess {
			m.SuccessfulPhases++
			if ph.Tactic == models.TacticLateralMovement {
				m.Objectives.LateralMovement = true
			}
		}
		if ph.Detected {
			m.DetectedPhases++
		}
	}
	if m.TotalPhases > 0 {
		m.SuccessRate = float64(m.SuccessfulPhases) / float64(m.TotalPhases)
		m.DetectionRate = float64(m.DetectedPhases) / float64(m.TotalPhases)
	}

	m.Objectives.InitialAccess = c.HasObjective(models.ObjectiveInitialAccess)
	m.Objectives.Persistence = c.HasObjective(models.ObjectivePersistence)
	m.Objectives.DataTheft = c.HasObjective(models.ObjectiveDataExfiltrated)
	m.RiskScore = RiskScore(m.Objectives, m.DetectionRate)
	return m
}

// GenerateReport builds the report for a campaign. An empty id selects
// the most recent campaign.
func (e *CampaignEngine) GenerateReport(id string) (*models.CampaignReport, error) {
	c, err := e.Campaign(id)
	if err != nil {
		return nil, err
	}
	return BuildReport(c), nil
}

// BuildReport renders findings and recommendations for a finished campaign
func BuildReport(c *models.Campaign) *models.CampaignReport {
	m := c.Metrics
	duration := c.SimulatedDuration()

	return &models.CampaignReport{
		CampaignID:             c.ID,
		Persona:                c.Persona.Name,
		MitreID:                c.Persona.MitreID,
		Target:                 c.Target,
		Scenario:               c.Scenario,
		Status:                 c.Status,
		Duration:               formatDuration(duration),
		DurationBudgetExceeded: c.MaxDurationHours > 0 && duration > time.Duration(c.MaxDurationHours)*time.Hour,
		PhaseCount:             len(c.Phases),
		TechniquesUsed:         append([]string(nil), c.TechniquesUsed...),
		SuccessRate:            fmt.Sprintf("%.1f%%", m.SuccessRate*100),
		DetectionRate:          fmt.Sprintf("%.1f%%", m.DetectionRate*100),
		RiskScore:              m.RiskScore,
		DataExfiltratedMB:      c.DataExfiltratedMB,
		Objectives:             m.Objectives,
		DetectionEvents:        append([]models.DetectionEvent(nil), c.DetectionEvents...),
		KeyFindings:            keyFindings(c),
		Recommendations:        recommendations(c),
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1f hours", d.Hours())
	default:
		return fmt.Sprintf("%.1f days", d.Hours()/24)
	}
}

func keyFindings(c *models.Campaign) []string {
	m := c.Metrics
	var findings []string
	if m.TotalPhases == 0 {
		return findings
	}

	switch {
	case m.SuccessRate > 0.7:
		findings = append(findings, "High success rate indicates weak defensive controls")
	case m.SuccessRate < 0.3:
		findings = append(findings, "Low success rate shows effective security measures")
	}
	switch {
	case m.DetectionRate < 0.3:
		findings = append(findings, "Low detection rate - improve monitoring capabilities")
	case m.DetectionRate > 0.7:
		findings = append(findings, "Good detection capabilities in place")
	}

	if m.Objectives.Persistence {
		findings = append(findings, "Attacker achieved persistence - system compromise likely")
	}
	if m.Objectives.DataTheft {
		findings = append(findings, fmt.Sprintf("Data exfiltration successful - %d MB stolen", c.DataExfiltratedMB))
	}
	if m.Objectives.LateralMovement {
		findings = append(findings, "Lateral movement achieved - network segmentation issues")
	}
	return findings
}

// recommendations are ordered by first occurrence and capped at five
func recommendations(c *models.Campaign) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(rec string) {
		if _, dup := seen[rec]; dup || len(out) == maxRecommendations {
			return
		}
		seen[rec] = struct{}{}
		out = append(out, rec)
	}

	for _, ph := range c.Phases {
		if ph.Status != models.PhaseSuccess {
			continue
		}
		switch ph.Tactic {
		case models.TacticInitialAccess:
			if !ph.Detected {
				add("Enhance email security and user awareness training")
			}
		case models.TacticPersistence:
			if !ph.Detected {
				add("Implement system integrity monitoring")
			}
		case models.TacticLateralMovement:
			add("Improve network segmentation and access controls")
		case models.TacticExfiltration:
			add("Deploy data loss prevention (DLP) solutions")
		}
	}

	if c.Metrics.TotalPhases > 0 && c.Metrics.DetectionRate < 0.5 {
		add("Enhance security monitoring and alerting")
	}
	if c.Metrics.RiskScore > 70 {
		add("Critical: Immediate security posture review required")
	}
	return out
}
