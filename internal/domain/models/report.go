package models

import (
	"fmt"
	"strings"
)

// CampaignReport is the human-facing summary of a finished campaign
type CampaignReport struct {
	CampaignID             string             `json:"campaign_id"`
	Persona                string             `json:"persona"`
	MitreID                string             `json:"mitre_id"`
	Target                 string             `json:"target"`
	Scenario               string             `json:"scenario"`
	Status                 CampaignStatus     `json:"status"`
	Duration               string             `json:"duration"`
	DurationBudgetExceeded bool               `json:"duration_budget_exceeded"`
	PhaseCount             int                `json:"phase_count"`
	TechniquesUsed         []string           `json:"techniques_used"`
	SuccessRate            string             `json:"success_rate"`
	DetectionRate          string             `json:"detection_rate"`
	RiskScore              int                `json:"risk_score"`
	DataExfiltratedMB      int                `json:"data_exfiltrated_mb"`
	Objectives             ObjectivesAchieved `json:"objectives_achieved"`
	DetectionEvents        []DetectionEvent   `json:"detection_events"`
	KeyFindings            []string           `json:"key_findings"`
	Recommendations        []string           `json:"recommendations"`
}

// String renders the report as plain text
func (r *CampaignReport) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Campaign %s (%s)\n", r.CampaignID, r.Status)
	fmt.Fprintf(&b, "Persona:        %s [%s]\n", r.Persona, r.MitreID)
	fmt.Fprintf(&b, "Target:         %s\n", r.Target)
	fmt.Fprintf(&b, "Scenario:       %s\n", r.Scenario)
	fmt.Fprintf(&b, "Duration:       %s", r.Duration)
	if r.DurationBudgetExceeded {
		b.WriteString(" (exceeds time budget)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Phases:         %d\n", r.PhaseCount)
	fmt.Fprintf(&b, "Success rate:   %s\n", r.SuccessRate)
	fmt.Fprintf(&b, "Detection rate: %s\n", r.DetectionRate)
	fmt.Fprintf(&b, "Risk score:     %d/100\n", r.RiskScore)
	fmt.Fprintf(&b, "Exfiltrated:    %d MB\n", r.DataExfiltratedMB)

	if len(r.TechniquesUsed) > 0 {
		fmt.Fprintf(&b, "Techniques:     %s\n", strings.Join(r.TechniquesUsed, ", "))
	}

	b.WriteString("\nObjectives:\n")
	writeObjective(&b, "initial access", r.Objectives.InitialAccess)
	writeObjective(&b, "persistence", r.Objectives.Persistence)
	writeObjective(&b, "data theft", r.Objectives.DataTheft)
	writeObjective(&b, "lateral movement", r.Objectives.LateralMovement)

	if len(r.KeyFindings) > 0 {
		b.WriteString("\nKey findings:\n")
		for _, f := range r.KeyFindings {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	if len(r.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", rec)
		}
	}

	return b.String()
}

func writeObjective(b *strings.Builder, name string, achieved bool) {
	mark := " "
	if achieved {
		mark = "x"
	}
	fmt.Fprintf(b, "  [%s] %s\n", mark, name)
}
