package streaming

import (
	"fmt"
	"slices"
	"strings"

	"adversary-lab/internal/domain/models"
)

const defaultSubjectPrefix = "campaigns"

// Subject returns the NATS subject for a campaign event:
// <prefix>.<campaign_id>.<event_type>
func Subject(prefix string, event *models.CampaignEvent) string {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return fmt.Sprintf("%s.%s.%s", prefix, event.CampaignID, event.Type)
}

// Subscription filters the campaign events a client receives
type Subscription struct {
	// Filter by campaign (empty = all)
	CampaignIDs []string `json:"campaign_ids,omitempty"`

	// Filter by event type (empty = all)
	Types []models.CampaignEventType `json:"types,omitempty"`

	// Filter by persona name, case-insensitive (empty = all)
	Personas []string `json:"personas,omitempty"`

	// Only detection events and completions
	DetectionsOnly bool `json:"detections_only,omitempty"`
}

// Matches checks if an event matches the subscription filters
func (s *Subscription) Matches(event *models.CampaignEvent) bool {
	if s == nil {
		return true
	}
	if len(s.CampaignIDs) > 0 && !slices.Contains(s.CampaignIDs, event.CampaignID) {
		return false
	}
	if len(s.Types) > 0 && !slices.Contains(s.Types, event.Type) {
		return false
	}
	if len(s.Personas) > 0 && !slices.ContainsFunc(s.Personas, func(p string) bool {
		return strings.EqualFold(p, event.Persona)
	}) {
		return false
	}
	if s.DetectionsOnly && event.Type != models.EventDetectionRaised && event.Type != models.EventCampaignCompleted {
		return false
	}
	return true
}
